//go:build !linux && !darwin

package tun

import (
	"context"
	"errors"
	"io"
	"runtime"

	"secureproxy/backend/domain"
)

const DefaultInterfaceName = ""

// HostProvider 其他平台不支持虚拟网卡
type HostProvider struct {
	feed *statusFeed
}

func NewHostProvider(string) *HostProvider {
	return &HostProvider{feed: newStatusFeed()}
}

func (p *HostProvider) Activate(context.Context, domain.VirtualInterfaceConfig, NetworkSettings) error {
	return errors.New("virtual interface is not supported on " + runtime.GOOS)
}

func (p *HostProvider) Deactivate(context.Context) error { return nil }

func (p *HostProvider) Status() domain.InterfaceState { return p.feed.get() }

func (p *HostProvider) Subscribe() (<-chan domain.InterfaceState, func()) {
	return p.feed.subscribe()
}

func (p *HostProvider) Device() io.ReadCloser { return nil }
