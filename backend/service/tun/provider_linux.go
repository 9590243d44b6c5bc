//go:build linux

package tun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"secureproxy/backend/domain"
	"secureproxy/backend/service/applog"
)

// DefaultInterfaceName linux 下的网卡名
const DefaultInterfaceName = "sproxy0"

// HostProvider 用 netlink 创建 TUN 网卡并配置地址与路由
type HostProvider struct {
	name string
	feed *statusFeed
	log  zerolog.Logger

	mu        sync.Mutex
	link      netlink.Link
	device    *os.File
	routes    []netlink.Route
	dnsSet    bool
	stopWatch chan struct{}
}

func NewHostProvider(name string) *HostProvider {
	if name == "" {
		name = DefaultInterfaceName
	}
	return &HostProvider{name: name, feed: newStatusFeed(), log: applog.For("tun")}
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
	if p.link != nil {
		p.teardownLocked(ctx)
	}
	p.feed.set(domain.InterfaceConnecting)

	if err := p.setupLocked(ctx, s); err != nil {
		p.teardownLocked(ctx)
		p.feed.set(domain.InterfaceDisconnected)
		return err
	}
	p.stopWatch = make(chan struct{})
	go p.watchLink(p.stopWatch)
	p.feed.set(domain.InterfaceConnected)
	return nil
}

func (p *HostProvider) setupLocked(ctx context.Context, s NetworkSettings) error {
	p.removeStaleLink()

	tt := &netlink.Tuntap{
		LinkAttrs:  netlink.LinkAttrs{Name: p.name, MTU: s.MTU},
		Mode:       netlink.TUNTAP_MODE_TUN,
		Flags:      netlink.TUNTAP_NO_PI,
		NonPersist: true,
		Queues:     1,
	}
	if err := netlink.LinkAdd(tt); err != nil {
		return fmt.Errorf("create tun %s: %w", p.name, err)
	}
	if len(tt.Fds) > 0 {
		p.device = tt.Fds[0]
	}
	link, err := netlink.LinkByName(p.name)
	if err != nil {
		return err
	}
	p.link = link

	if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: hostIPNet(s.Address)}); err != nil {
		return fmt.Errorf("add address %s: %w", s.Address, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("link up: %w", err)
	}

	if s.IncludeDefaultRoute {
		origGw, origIdx := defaultGateway()
		for _, half := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
			r := netlink.Route{
				LinkIndex: link.Attrs().Index,
				Dst:       prefixToIPNet(netip.MustParsePrefix(half)),
				Gw:        net.IP(s.Gateway.AsSlice()),
			}
			if err := netlink.RouteAdd(&r); err != nil {
				return fmt.Errorf("add route %s: %w", half, err)
			}
			p.routes = append(p.routes, r)
		}
		for _, ex := range s.ExcludedRoutes {
			if origGw == nil || skipExcluded(ex, s.Address) {
				continue
			}
			r := netlink.Route{LinkIndex: origIdx, Dst: prefixToIPNet(ex), Gw: origGw}
			if err := netlink.RouteAdd(&r); err != nil {
				if errors.Is(err, unix.EEXIST) {
					continue
				}
				p.log.Warn().Err(err).Str("route", ex.String()).Msg("排除路由失败")
				continue
			}
			p.routes = append(p.routes, r)
		}
	}

	if len(s.DNSServers) > 0 {
		args := []string{"dns", p.name}
		for _, d := range s.DNSServers {
			args = append(args, d.String())
		}
		if err := resolvectl(ctx, args...); err != nil {
			p.log.Warn().Err(err).Msg("设置 DNS 失败")
		} else {
			p.dnsSet = true
			_ = resolvectl(ctx, "domain", p.name, "~.")
		}
	}
	return nil
}

// removeStaleLink 删除上次异常退出残留的同名网卡（连带其路由）
func (p *HostProvider) removeStaleLink() {
	stale, err := netlink.LinkByName(p.name)
	if err != nil {
		return
	}
	if err := netlink.LinkDel(stale); err != nil {
		p.log.Warn().Err(err).Str("name", p.name).Msg("删除残留网卡失败")
		return
	}
	p.log.Info().Str("name", p.name).Msg("已删除残留网卡")
}

// 包含网卡自身地址且不比网卡网段更宽的路由不能绕开网卡；回环交给内核
func skipExcluded(route, addr netip.Prefix) bool {
	if route.Addr().IsLoopback() {
		return true
	}
	return route.Contains(addr.Addr()) && route.Bits() >= addr.Bits()
}

func (p *HostProvider) Deactivate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == nil {
		return nil
	}
	p.feed.set(domain.InterfaceDisconnecting)
	err := p.teardownLocked(ctx)
	p.feed.set(domain.InterfaceDisconnected)
	return err
}

func (p *HostProvider) teardownLocked(ctx context.Context) error {
	if p.stopWatch != nil {
		close(p.stopWatch)
		p.stopWatch = nil
	}
	if p.dnsSet {
		_ = resolvectl(ctx, "revert", p.name)
		p.dnsSet = false
	}
	for i := range p.routes {
		_ = netlink.RouteDel(&p.routes[i])
	}
	p.routes = nil

	var err error
	if p.link != nil {
		if e := netlink.LinkDel(p.link); e != nil {
			err = fmt.Errorf("delete link %s: %w", p.name, e)
		}
		p.link = nil
	}
	if p.device != nil {
		_ = p.device.Close()
		p.device = nil
	}
	return err
}

// watchLink 系统侧的链路变化（被其他程序删除、掉线）
func (p *HostProvider) watchLink(done chan struct{}) {
	updates := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		p.log.Warn().Err(err).Msg("订阅链路变化失败")
		return
	}
	for {
		select {
		case <-done:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Link == nil || u.Link.Attrs().Name != p.name {
				continue
			}
			switch {
			case u.Header.Type == unix.RTM_DELLINK:
				p.feed.set(domain.InterfaceDisconnected)
			case u.Link.Attrs().OperState == netlink.OperDown:
				p.feed.set(domain.InterfaceReasserting)
			default:
				p.feed.set(domain.InterfaceConnected)
			}
		}
	}
}

func defaultGateway() (net.IP, int) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, 0
	}
	for _, r := range routes {
		if r.Gw == nil {
			continue
		}
		if r.Dst == nil || (r.Dst.IP.Equal(net.IPv4zero) && isZeroMask(r.Dst.Mask)) {
			return r.Gw, r.LinkIndex
		}
	}
	return nil, 0
}

func isZeroMask(m net.IPMask) bool {
	ones, _ := m.Size()
	return ones == 0
}

func hostIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

func prefixToIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(p.Masked().Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

func resolvectl(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, "resolvectl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("resolvectl %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
