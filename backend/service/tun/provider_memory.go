package tun

import (
	"context"
	"io"
	"sync"

	"secureproxy/backend/domain"
)

// MemoryProvider 不改动系统网络的 provider：dry-run 与测试使用。
// Inject 写入的数据会从 Device 读出。
type MemoryProvider struct {
	feed *statusFeed

	mu          sync.Mutex
	reader      *io.PipeReader
	writer      *io.PipeWriter
	activations int
	last        NetworkSettings
	lastDesc    domain.VirtualInterfaceConfig

	// ActivateErr 非空时 Activate 直接失败
	ActivateErr error
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{feed: newStatusFeed()}
}

func (p *MemoryProvider) Activate(_ context.Context, desc domain.VirtualInterfaceConfig, settings NetworkSettings) error {
	p.mu.Lock()
	if p.ActivateErr != nil {
		err := p.ActivateErr
		p.mu.Unlock()
		return err
	}
	p.activations++
	p.last = settings
	p.lastDesc = desc
	if p.reader == nil {
		p.reader, p.writer = io.Pipe()
	}
	p.mu.Unlock()

	p.feed.set(domain.InterfaceConnecting)
	p.feed.set(domain.InterfaceConnected)
	return nil
}

func (p *MemoryProvider) Deactivate(context.Context) error {
	p.mu.Lock()
	r, w := p.reader, p.writer
	p.reader, p.writer = nil, nil
	p.mu.Unlock()

	if p.feed.get() == domain.InterfaceDisconnected && r == nil {
		return nil
	}
	p.feed.set(domain.InterfaceDisconnecting)
	if w != nil {
		_ = w.Close()
	}
	if r != nil {
		_ = r.Close()
	}
	p.feed.set(domain.InterfaceDisconnected)
	return nil
}

func (p *MemoryProvider) Status() domain.InterfaceState { return p.feed.get() }

func (p *MemoryProvider) Subscribe() (<-chan domain.InterfaceState, func()) {
	return p.feed.subscribe()
}

func (p *MemoryProvider) Device() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		return nil
	}
	return p.reader
}

// Inject 向设备写入一个包（阻塞到被读走）
func (p *MemoryProvider) Inject(packet []byte) error {
	p.mu.Lock()
	w := p.writer
	p.mu.Unlock()
	if w == nil {
		return io.ErrClosedPipe
	}
	_, err := w.Write(packet)
	return err
}

// Activations Activate 成功的次数
func (p *MemoryProvider) Activations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activations
}

// LastSettings 最近一次下发的网络参数
func (p *MemoryProvider) LastSettings() (domain.VirtualInterfaceConfig, NetworkSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDesc, p.last
}
