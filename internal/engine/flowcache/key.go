package flowcache

import (
	"FlowSpectra/internal/model"
	"fmt"
	"net/netip"
)

// FlowKey is the direction-independent identity of a flow. The endpoint with
// the lower (address, port) pair is always stored as Lo, so two mirrored
// observations produce equal keys. FlowKey is comparable and used directly as
// a map key.
type FlowKey struct {
	L3Proto model.L3Protocol
	L4Proto model.L4Protocol
	LoAddr  netip.Addr
	HiAddr  netip.Addr
	LoPort  uint16
	HiPort  uint16
}

// KeyOf derives the canonical key of a record and reports whether the record
// travels in the key's forward direction (its source is the Lo endpoint).
// Only the 5-tuple is consulted. Ports are ignored for protocols without ports.
// A record whose endpoints are identical is always forward.
func KeyOf(r model.FlowRecord) (FlowKey, bool) {
	srcAddr, dstAddr := r.SrcAddr.Unmap(), r.DstAddr.Unmap()
	srcPort, dstPort := r.SrcPort, r.DstPort
	if !r.L4Proto.HasPorts() {
		srcPort, dstPort = 0, 0
	}

	forward := compareEndpoint(srcAddr, srcPort, dstAddr, dstPort) <= 0
	key := FlowKey{L3Proto: r.L3Proto, L4Proto: r.L4Proto}
	if forward {
		key.LoAddr, key.LoPort, key.HiAddr, key.HiPort = srcAddr, srcPort, dstAddr, dstPort
	} else {
		key.LoAddr, key.LoPort, key.HiAddr, key.HiPort = dstAddr, dstPort, srcAddr, srcPort
	}
	return key, forward
}

// compareEndpoint orders endpoints by address first, then by port.
func compareEndpoint(a netip.Addr, aPort uint16, b netip.Addr, bPort uint16) int {
	if c := a.Compare(b); c != 0 {
		return c
	}
	switch {
	case aPort < bPort:
		return -1
	case aPort > bPort:
		return 1
	}
	return 0
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s/%s:%d-%s:%d", k.L4Proto, k.LoAddr, k.LoPort, k.HiAddr, k.HiPort)
}
