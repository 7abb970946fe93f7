package model

import (
	"errors"
	"fmt"
	"net/netip"
)

// L3Protocol is the network-layer protocol of a flow, encoded as the IP version.
type L3Protocol uint8

const (
	IPv4 L3Protocol = 4
	IPv6 L3Protocol = 6
)

// L4Protocol is the IANA protocol number of the transport layer.
type L4Protocol uint8

const (
	L4None L4Protocol = 0
	ICMP   L4Protocol = 1
	TCP    L4Protocol = 6
	UDP    L4Protocol = 17
	ICMPv6 L4Protocol = 58
)

// HasPorts reports whether the protocol carries meaningful port numbers.
func (p L4Protocol) HasPorts() bool {
	return p == TCP || p == UDP
}

func (p L4Protocol) String() string {
	switch p {
	case L4None:
		return "none"
	case ICMP:
		return "icmp"
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case ICMPv6:
		return "icmpv6"
	}
	return fmt.Sprintf("proto-%d", uint8(p))
}

// ErrMalformedRecord is returned for records that must never enter the flow cache.
var ErrMalformedRecord = errors.New("malformed flow record")

// FlowRecord is either a single unidirectional observation or a merged
// bidirectional flow. Timestamps are milliseconds since an epoch shared by the run.
// Packets/Bytes count the forward direction, PacketsRev/BytesRev the reverse one.
type FlowRecord struct {
	L3Proto    L3Protocol
	L4Proto    L4Protocol
	SrcAddr    netip.Addr
	DstAddr    netip.Addr
	SrcPort    uint16
	DstPort    uint16
	StartTime  int64
	EndTime    int64
	Packets    uint64
	Bytes      uint64
	PacketsRev uint64
	BytesRev   uint64
}

// Reverse returns the mirror image of r: endpoints and counters swapped.
func (r FlowRecord) Reverse() FlowRecord {
	r.SrcAddr, r.DstAddr = r.DstAddr, r.SrcAddr
	r.SrcPort, r.DstPort = r.DstPort, r.SrcPort
	r.Packets, r.PacketsRev = r.PacketsRev, r.Packets
	r.Bytes, r.BytesRev = r.BytesRev, r.Bytes
	return r
}

// TotalPackets is the packet count over both directions.
func (r FlowRecord) TotalPackets() uint64 {
	return r.Packets + r.PacketsRev
}

// Validate checks the invariants every record handed to the flow cache must hold.
func (r FlowRecord) Validate() error {
	if r.L3Proto != IPv4 && r.L3Proto != IPv6 {
		return fmt.Errorf("%w: unknown l3 protocol %d", ErrMalformedRecord, r.L3Proto)
	}
	if r.EndTime < r.StartTime {
		return fmt.Errorf("%w: end time %d before start time %d", ErrMalformedRecord, r.EndTime, r.StartTime)
	}
	if r.TotalPackets() == 0 {
		return fmt.Errorf("%w: zero packets", ErrMalformedRecord)
	}
	for _, addr := range [...]netip.Addr{r.SrcAddr, r.DstAddr} {
		if !addr.IsValid() {
			continue
		}
		if (r.L3Proto == IPv4) != addr.Unmap().Is4() {
			return fmt.Errorf("%w: address %s does not match l3 protocol %d", ErrMalformedRecord, addr, r.L3Proto)
		}
	}
	return nil
}

func (r FlowRecord) String() string {
	return fmt.Sprintf("%s %s:%d <-> %s:%d [%d-%d] fwd=%d/%d rev=%d/%d",
		r.L4Proto, r.SrcAddr, r.SrcPort, r.DstAddr, r.DstPort,
		r.StartTime, r.EndTime, r.Packets, r.Bytes, r.PacketsRev, r.BytesRev)
}
