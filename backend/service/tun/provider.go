package tun

import (
	"context"
	"io"
	"sync"

	"secureproxy/backend/domain"
)

// Provider 承载虚拟网卡的平台实现。状态变化通过 Subscribe 异步通知，调用方不轮询。
type Provider interface {
	Activate(ctx context.Context, desc domain.VirtualInterfaceConfig, settings NetworkSettings) error
	Deactivate(ctx context.Context) error
	Status() domain.InterfaceState
	Subscribe() (<-chan domain.InterfaceState, func())
	// Device 已连接时返回可读取 IP 包的设备；未连接返回 nil
	Device() io.ReadCloser
}

// statusFeed 当前状态 + 广播，供各 provider 复用
type statusFeed struct {
	mu     sync.Mutex
	state  domain.InterfaceState
	nextID int
	subs   map[int]chan domain.InterfaceState
}

func newStatusFeed() *statusFeed {
	return &statusFeed{
		state: domain.InterfaceDisconnected,
		subs:  make(map[int]chan domain.InterfaceState),
	}
}

func (f *statusFeed) get() domain.InterfaceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// set 更新状态并通知订阅者；订阅者跟不上时丢弃中间状态
func (f *statusFeed) set(s domain.InterfaceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == s {
		return
	}
	f.state = s
	for _, ch := range f.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (f *statusFeed) subscribe() (<-chan domain.InterfaceState, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	ch := make(chan domain.InterfaceState, 16)
	f.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			close(ch)
			f.mu.Unlock()
		})
	}
}
