package probe

import (
	"FlowSpectra/internal/model"
	"fmt"
	"net/netip"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the FlowRecord wire message. Timestamps are zigzag encoded
// so that records from before the epoch survive the trip.
const (
	fieldL3Proto    protowire.Number = 1
	fieldL4Proto    protowire.Number = 2
	fieldSrcAddr    protowire.Number = 3
	fieldDstAddr    protowire.Number = 4
	fieldSrcPort    protowire.Number = 5
	fieldDstPort    protowire.Number = 6
	fieldStartTime  protowire.Number = 7
	fieldEndTime    protowire.Number = 8
	fieldPackets    protowire.Number = 9
	fieldBytes      protowire.Number = 10
	fieldPacketsRev protowire.Number = 11
	fieldBytesRev   protowire.Number = 12
)

// MarshalRecord appends the protobuf encoding of rec to b. Zero fields are omitted.
func MarshalRecord(b []byte, rec model.FlowRecord) []byte {
	b = appendVarint(b, fieldL3Proto, uint64(rec.L3Proto))
	b = appendVarint(b, fieldL4Proto, uint64(rec.L4Proto))
	if rec.SrcAddr.IsValid() {
		b = protowire.AppendTag(b, fieldSrcAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.SrcAddr.AsSlice())
	}
	if rec.DstAddr.IsValid() {
		b = protowire.AppendTag(b, fieldDstAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.DstAddr.AsSlice())
	}
	b = appendVarint(b, fieldSrcPort, uint64(rec.SrcPort))
	b = appendVarint(b, fieldDstPort, uint64(rec.DstPort))
	b = appendVarint(b, fieldStartTime, protowire.EncodeZigZag(rec.StartTime))
	b = appendVarint(b, fieldEndTime, protowire.EncodeZigZag(rec.EndTime))
	b = appendVarint(b, fieldPackets, rec.Packets)
	b = appendVarint(b, fieldBytes, rec.Bytes)
	b = appendVarint(b, fieldPacketsRev, rec.PacketsRev)
	b = appendVarint(b, fieldBytesRev, rec.BytesRev)
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// UnmarshalRecord decodes a FlowRecord message. Unknown fields are skipped.
func UnmarshalRecord(b []byte) (model.FlowRecord, error) {
	var rec model.FlowRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.FlowRecord{}, fmt.Errorf("failed to decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldSrcAddr || num == fieldDstAddr):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.FlowRecord{}, fmt.Errorf("failed to decode field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			addr, ok := netip.AddrFromSlice(v)
			if !ok {
				return model.FlowRecord{}, fmt.Errorf("invalid address of %d bytes in field %d", len(v), num)
			}
			if num == fieldSrcAddr {
				rec.SrcAddr = addr
			} else {
				rec.DstAddr = addr
			}
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return model.FlowRecord{}, fmt.Errorf("failed to decode field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := setVarint(&rec, num, v); err != nil {
				return model.FlowRecord{}, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.FlowRecord{}, fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rec, nil
}

func isVarintField(num protowire.Number) bool {
	return num >= fieldL3Proto && num <= fieldBytesRev && num != fieldSrcAddr && num != fieldDstAddr
}

func setVarint(rec *model.FlowRecord, num protowire.Number, v uint64) error {
	switch num {
	case fieldL3Proto, fieldL4Proto:
		if v > 0xff {
			return fmt.Errorf("protocol %d out of range in field %d", v, num)
		}
		if num == fieldL3Proto {
			rec.L3Proto = model.L3Protocol(v)
		} else {
			rec.L4Proto = model.L4Protocol(v)
		}
	case fieldSrcPort, fieldDstPort:
		if v > 0xffff {
			return fmt.Errorf("port %d out of range in field %d", v, num)
		}
		if num == fieldSrcPort {
			rec.SrcPort = uint16(v)
		} else {
			rec.DstPort = uint16(v)
		}
	case fieldStartTime:
		rec.StartTime = protowire.DecodeZigZag(v)
	case fieldEndTime:
		rec.EndTime = protowire.DecodeZigZag(v)
	case fieldPackets:
		rec.Packets = v
	case fieldBytes:
		rec.Bytes = v
	case fieldPacketsRev:
		rec.PacketsRev = v
	case fieldBytesRev:
		rec.BytesRev = v
	}
	return nil
}
