package protocol

import (
	"FlowSpectra/internal/model"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotIP is returned for frames without an IPv4 or IPv6 header.
var ErrNotIP = errors.New("not an IP packet")

// ParsePacket decodes a captured frame into a single-packet observation from
// its sender to its receiver. Bytes is the original wire length when the
// capture info carries it.
func ParsePacket(data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType) (model.FlowRecord, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ts := ci.Timestamp.UnixMilli()
	length := ci.Length
	if length == 0 {
		length = len(data)
	}
	rec := model.FlowRecord{
		StartTime: ts,
		EndTime:   ts,
		Packets:   1,
		Bytes:     uint64(length),
	}

	var err error
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		rec.L3Proto = model.IPv4
		rec.L4Proto = model.L4Protocol(ip.Protocol)
		if rec.SrcAddr, rec.DstAddr, err = addrPair(ip.SrcIP, ip.DstIP); err != nil {
			return model.FlowRecord{}, err
		}
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		rec.L3Proto = model.IPv6
		rec.L4Proto = model.L4Protocol(ip.NextHeader)
		if rec.SrcAddr, rec.DstAddr, err = addrPair(ip.SrcIP, ip.DstIP); err != nil {
			return model.FlowRecord{}, err
		}
	} else {
		return model.FlowRecord{}, ErrNotIP
	}

	// The transport layer wins over the IP next-header field, which may point
	// at an IPv6 extension header.
	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		rec.L4Proto = model.TCP
		rec.SrcPort, rec.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		rec.L4Proto = model.UDP
		rec.SrcPort, rec.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
	case packet.Layer(layers.LayerTypeICMPv4) != nil:
		rec.L4Proto = model.ICMP
	case packet.Layer(layers.LayerTypeICMPv6) != nil:
		rec.L4Proto = model.ICMPv6
	}
	return rec, nil
}

func addrPair(src, dst net.IP) (netip.Addr, netip.Addr, error) {
	s, ok := netip.AddrFromSlice(src)
	if !ok {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("invalid source address %v", src)
	}
	d, ok := netip.AddrFromSlice(dst)
	if !ok {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("invalid destination address %v", dst)
	}
	return s.Unmap(), d.Unmap(), nil
}
