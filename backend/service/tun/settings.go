package tun

import (
	"fmt"
	"net/netip"
	"time"

	"secureproxy/backend/domain"
)

const (
	// DefaultProviderIdentifier 描述文件名（也是 provider 的标识）
	DefaultProviderIdentifier = "com.secureproxy.tunnel"
	// DefaultDNSServer 未指定 DNS 时使用
	DefaultDNSServer = "1.1.1.1"
	// DescriptorVersion 当前描述文件版本
	DescriptorVersion = "1.0"

	// RetryDelay 新建描述后重试启用、以及 Restart 中间的等待
	RetryDelay = 500 * time.Millisecond

	defaultTunIP      = "10.0.0.2"
	defaultTunNetmask = "255.255.255.0"
	defaultTunGateway = "10.0.0.1"
	defaultMTU        = 1400
)

// DefaultExcludedRoutes 不进入虚拟网卡的网段
var DefaultExcludedRoutes = []string{
	"127.0.0.0/8",
	"10.0.0.0/24",
	"169.254.0.0/16",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// DefaultDNSServers provider 下发的 DNS
var DefaultDNSServers = []string{"1.1.1.1", "8.8.8.8"}

// NetworkSettings provider 需要落到系统上的网络参数
type NetworkSettings struct {
	Address             netip.Prefix
	Gateway             netip.Addr
	DNSServers          []netip.Addr
	MTU                 int
	IncludeDefaultRoute bool
	ExcludedRoutes      []netip.Prefix
	SOCKSPort           int
}

// SettingsFor 由描述文件推导网络参数
func SettingsFor(desc domain.VirtualInterfaceConfig) (NetworkSettings, error) {
	ip, err := netip.ParseAddr(desc.TunIP)
	if err != nil {
		return NetworkSettings{}, fmt.Errorf("tun ip: %w", err)
	}
	mask, err := netip.ParseAddr(desc.TunNetmask)
	if err != nil || !mask.Is4() {
		return NetworkSettings{}, fmt.Errorf("tun netmask %q is not an ipv4 mask", desc.TunNetmask)
	}
	bits, err := maskBits(mask)
	if err != nil {
		return NetworkSettings{}, err
	}
	gw, err := netip.ParseAddr(desc.TunGateway)
	if err != nil {
		return NetworkSettings{}, fmt.Errorf("tun gateway: %w", err)
	}

	s := NetworkSettings{
		Address:             netip.PrefixFrom(ip, bits),
		Gateway:             gw,
		MTU:                 defaultMTU,
		IncludeDefaultRoute: desc.IncludeDefaultRoute,
		SOCKSPort:           desc.SOCKSPort,
	}

	dns := append([]string{}, DefaultDNSServers...)
	if desc.DNSServer != "" && desc.DNSServer != dns[0] {
		dns = append([]string{desc.DNSServer}, dns...)
	}
	for _, d := range dns {
		if a, err := netip.ParseAddr(d); err == nil {
			s.DNSServers = append(s.DNSServers, a)
		}
	}

	for _, r := range desc.ExcludedRoutes {
		p, err := netip.ParsePrefix(r)
		if err != nil {
			return NetworkSettings{}, fmt.Errorf("excluded route %q: %w", r, err)
		}
		s.ExcludedRoutes = append(s.ExcludedRoutes, p.Masked())
	}
	return s, nil
}

func maskBits(mask netip.Addr) (int, error) {
	b := mask.As4()
	bits := 0
	seenZero := false
	for _, octet := range b {
		for i := 7; i >= 0; i-- {
			if octet&(1<<i) != 0 {
				if seenZero {
					return 0, fmt.Errorf("non-contiguous netmask %s", mask)
				}
				bits++
			} else {
				seenZero = true
			}
		}
	}
	return bits, nil
}

// newDescriptor 首次启用时创建的默认描述
func newDescriptor(id string, socksPort int, dns string) domain.VirtualInterfaceConfig {
	d := domain.VirtualInterfaceConfig{ProviderIdentifier: id}
	fillDescriptor(&d, socksPort, dns)
	return d
}

func fillDescriptor(d *domain.VirtualInterfaceConfig, socksPort int, dns string) {
	if dns == "" {
		dns = DefaultDNSServer
	}
	d.SOCKSPort = socksPort
	d.DNSServer = dns
	d.TunIP = defaultTunIP
	d.TunNetmask = defaultTunNetmask
	d.TunGateway = defaultTunGateway
	d.Version = DescriptorVersion
	d.IncludeDefaultRoute = true
	d.ExcludedRoutes = append([]string(nil), DefaultExcludedRoutes...)
	d.UpdatedAt = time.Now()
}
