//go:build darwin

package tun

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"secureproxy/backend/domain"
	"secureproxy/backend/service/applog"
)

// DefaultInterfaceName darwin 下由内核分配 utunN，这里留空
const DefaultInterfaceName = ""

const (
	utunControlName = "com.apple.net.utun_control"
	utunOptIfname   = 2
)

// HostProvider 通过 utun 控制套接字创建网卡，用 ifconfig/route 配置
type HostProvider struct {
	feed *statusFeed
	log  zerolog.Logger

	mu     sync.Mutex
	name   string
	device *utunDevice
	routes []string
}

func NewHostProvider(string) *HostProvider {
	return &HostProvider{feed: newStatusFeed(), log: applog.For("tun")}
}

func (p *HostProvider) Status() domain.InterfaceState { return p.feed.get() }

func (p *HostProvider) Subscribe() (<-chan domain.InterfaceState, func()) {
	return p.feed.subscribe()
}

func (p *HostProvider) Device() io.ReadCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return nil
	}
	return p.device
}

func (p *HostProvider) Activate(ctx context.Context, _ domain.VirtualInterfaceConfig, s NetworkSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		p.teardownLocked(ctx)
	}
	p.feed.set(domain.InterfaceConnecting)

	dev, name, err := openUtun()
	if err != nil {
		p.feed.set(domain.InterfaceDisconnected)
		return err
	}
	p.device, p.name = dev, name

	if err := p.configureLocked(ctx, s); err != nil {
		p.teardownLocked(ctx)
		p.feed.set(domain.InterfaceDisconnected)
		return err
	}
	p.feed.set(domain.InterfaceConnected)
	return nil
}

func (p *HostProvider) configureLocked(ctx context.Context, s NetworkSettings) error {
	mask := netip.AddrFrom4(maskBytes(s.Address.Bits()))
	if err := run(ctx, "ifconfig", p.name, "inet", s.Address.Addr().String(), s.Gateway.String(),
		"netmask", mask.String(), "mtu", fmt.Sprint(s.MTU), "up"); err != nil {
		return err
	}
	if !s.IncludeDefaultRoute {
		return nil
	}
	for _, half := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
		if err := run(ctx, "route", "-q", "-n", "add", "-net", half, s.Gateway.String()); err != nil {
			return err
		}
		p.routes = append(p.routes, half)
	}
	origGw := darwinDefaultGateway(ctx)
	if origGw == "" {
		return nil
	}
	for _, ex := range s.ExcludedRoutes {
		if ex.Addr().IsLoopback() || (ex.Contains(s.Address.Addr()) && ex.Bits() >= s.Address.Bits()) {
			continue
		}
		if err := run(ctx, "route", "-q", "-n", "add", "-net", ex.String(), origGw); err != nil {
			p.log.Warn().Err(err).Str("route", ex.String()).Msg("排除路由失败")
			continue
		}
		p.routes = append(p.routes, ex.String())
	}
	return nil
}

func (p *HostProvider) Deactivate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return nil
	}
	p.feed.set(domain.InterfaceDisconnecting)
	p.teardownLocked(ctx)
	p.feed.set(domain.InterfaceDisconnected)
	return nil
}

func (p *HostProvider) teardownLocked(ctx context.Context) {
	for _, r := range p.routes {
		_ = run(ctx, "route", "-q", "-n", "delete", "-net", r)
	}
	p.routes = nil
	if p.device != nil {
		_ = p.device.Close()
		p.device = nil
	}
	p.name = ""
}

// utunDevice 每个包前面带 4 字节地址族头，读取时去掉
type utunDevice struct {
	f   *os.File
	buf []byte
}

func (d *utunDevice) Read(b []byte) (int, error) {
	if cap(d.buf) < len(b)+4 {
		d.buf = make([]byte, len(b)+4)
	}
	buf := d.buf[:len(b)+4]
	n, err := d.f.Read(buf)
	if n <= 4 {
		return 0, err
	}
	return copy(b, buf[4:n]), err
}

func (d *utunDevice) Close() error { return d.f.Close() }

func openUtun() (*utunDevice, string, error) {
	fd, err := unix.Socket(unix.AF_SYSTEM, unix.SOCK_DGRAM, unix.SYSPROTO_CONTROL)
	if err != nil {
		return nil, "", fmt.Errorf("utun socket: %w", err)
	}
	info := &unix.CtlInfo{}
	copy(info.Name[:], utunControlName)
	if err := unix.IoctlCtlInfo(fd, info); err != nil {
		_ = unix.Close(fd)
		return nil, "", fmt.Errorf("utun ctl info: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrCtl{ID: info.Id, Unit: 0}); err != nil {
		_ = unix.Close(fd)
		return nil, "", fmt.Errorf("utun connect: %w", err)
	}
	name, err := unix.GetsockoptString(fd, unix.SYSPROTO_CONTROL, utunOptIfname)
	if err != nil {
		_ = unix.Close(fd)
		return nil, "", fmt.Errorf("utun ifname: %w", err)
	}
	name = strings.TrimRight(name, "\x00")
	return &utunDevice{f: os.NewFile(uintptr(fd), name)}, name, nil
}

func maskBytes(bits int) [4]byte {
	var m [4]byte
	for i := 0; i < 4; i++ {
		switch {
		case bits >= 8:
			m[i] = 0xff
			bits -= 8
		case bits > 0:
			m[i] = byte(0xff << (8 - bits))
			bits = 0
		}
	}
	return m
}

func darwinDefaultGateway(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "route", "-n", "get", "default").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && k == "gateway" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
