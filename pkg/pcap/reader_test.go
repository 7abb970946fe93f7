package pcap

import (
	"FlowSpectra/internal/model"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	macA = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	macB = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

func tcpFrame(t *testing.T, src, dst net.IP, sport, dport layers.TCPPort) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
	tcp := &layers.TCP{SrcPort: sport, DstPort: dport, ACK: true}
	tcp.SetNetworkLayerForChecksum(ip)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err := gopacket.SerializeLayers(buf, opts,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		ip, tcp, gopacket.Payload(make([]byte, 20)))
	if err != nil {
		t.Fatalf("Failed to serialize packet: %v", err)
	}
	return buf.Bytes()
}

func arpFrame(t *testing.T) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.Ethernet{SrcMAC: macA, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
			HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
			SourceHwAddress: macA, SourceProtAddress: []byte{10, 0, 0, 1},
			DstHwAddress: []byte{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte{10, 0, 0, 2},
		})
	if err != nil {
		t.Fatalf("Failed to serialize ARP frame: %v", err)
	}
	return buf.Bytes()
}

// writeCapture writes frames into a classic pcap file, one millisecond apart.
func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("Failed to write file header: %v", err)
	}
	base := time.UnixMilli(1700000000000)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatalf("Failed to write packet: %v", err)
		}
	}
	return path
}

func TestReader_Next(t *testing.T) {
	a, b := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	path := writeCapture(t,
		tcpFrame(t, a, b, 40000, 80),
		arpFrame(t),
		tcpFrame(t, b, a, 80, 40000),
	)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	var got []model.FlowRecord
	for {
		rec, err := reader.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, rec)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 observations, got %d", len(got))
	}
	if reader.Skipped() != 1 {
		t.Errorf("Expected 1 skipped frame, got %d", reader.Skipped())
	}
	if got[0].SrcPort != 40000 || got[1].SrcPort != 80 {
		t.Errorf("Unexpected port order: %v, %v", got[0], got[1])
	}
	if got[1].StartTime-got[0].StartTime != 2 {
		t.Errorf("Expected timestamps 2ms apart, got %d and %d", got[0].StartTime, got[1].StartTime)
	}
	for _, rec := range got {
		if rec.Packets != 1 || rec.Bytes == 0 {
			t.Errorf("Unexpected counters in %v", rec)
		}
	}
}

func TestReader_NgFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcapng")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}
	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("Failed to create ng writer: %v", err)
	}
	frame := tcpFrame(t, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 1234, 22)
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(100, 0), CaptureLength: len(frame), Length: len(frame)}
	if err := w.WritePacket(ci, frame); err != nil {
		t.Fatalf("Failed to write packet: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	f.Close()

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	rec, err := reader.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.DstPort != 22 || rec.StartTime != 100000 {
		t.Errorf("Unexpected record %v", rec)
	}
	if _, err := reader.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestNewReader_Invalid(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.pcap")); err == nil {
		t.Errorf("Expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "garbage.pcap")
	if err := os.WriteFile(path, []byte("not a capture file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(path); err == nil {
		t.Errorf("Expected error for garbage file")
	}
}
