package tun

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// PacketInfo 从虚拟网卡读到的一个 IPv4 包的摘要
type PacketInfo struct {
	Protocol layers.IPProtocol
	Src      netip.Addr
	Dst      netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Length   int
}

func (p PacketInfo) String() string {
	if p.SrcPort == 0 && p.DstPort == 0 {
		return fmt.Sprintf("%s %s -> %s (%d bytes)", p.Protocol, p.Src, p.Dst, p.Length)
	}
	return fmt.Sprintf("%s %s -> %s (%d bytes)",
		p.Protocol,
		netip.AddrPortFrom(p.Src, p.SrcPort),
		netip.AddrPortFrom(p.Dst, p.DstPort),
		p.Length)
}

// ClassifyPacket 解析 IPv4 头与 TCP/UDP 端口；不是 IPv4 时返回 false
func ClassifyPacket(b []byte) (PacketInfo, bool) {
	if len(b) < 20 || b[0]>>4 != 4 {
		return PacketInfo{}, false
	}
	pkt := gopacket.NewPacket(b, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ipLayer, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok || ipLayer == nil {
		return PacketInfo{}, false
	}
	src, _ := netip.AddrFromSlice(ipLayer.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(ipLayer.DstIP.To4())
	info := PacketInfo{
		Protocol: ipLayer.Protocol,
		Src:      src,
		Dst:      dst,
		Length:   len(b),
	}
	switch ipLayer.Protocol {
	case layers.IPProtocolTCP:
		if tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok && tcp != nil {
			info.SrcPort, info.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		}
	case layers.IPProtocolUDP:
		if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok && udp != nil {
			info.SrcPort, info.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		}
	}
	return info, true
}

// Loggable TCP/UDP 且目的地址不是本机、内网或链路本地
func (p PacketInfo) Loggable() bool {
	if p.Protocol != layers.IPProtocolTCP && p.Protocol != layers.IPProtocolUDP {
		return false
	}
	d := p.Dst
	return d.IsValid() && !d.IsLoopback() && !d.IsPrivate() && !d.IsLinkLocalUnicast()
}
