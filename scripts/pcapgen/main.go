package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// packet is one frame of a synthetic conversation before serialization.
type packet struct {
	ts       time.Time
	reply    bool
	size     int
	udp      bool
	client   net.IP
	server   net.IP
	cport    uint16
	sport    uint16
	sequence uint32
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	conversations := flag.Int("c", 1000, "Number of bidirectional conversations to generate")
	perConv := flag.Int("p", 10, "Packets per conversation, alternating request and reply")
	gap := flag.Duration("gap", 20*time.Millisecond, "Time between two packets of a conversation")
	stagger := flag.Duration("stagger", 5*time.Millisecond, "Time between the starts of two conversations")
	udpShare := flag.Float64("udp", 0.2, "Share of UDP conversations")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	base := time.Now().Truncate(time.Second)

	log.Printf("Generating %d conversations of %d packets into %s...", *conversations, *perConv, *outputFile)

	total := *conversations * *perConv
	packets := make([]packet, 0, total)
	for c := 0; c < *conversations; c++ {
		client := net.IP{10, byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(254) + 1)}
		server := net.IP{192, 168, byte(rng.Intn(256)), byte(rng.Intn(254) + 1)}
		cport := uint16(rng.Intn(65535-1024) + 1024)
		sport := []uint16{53, 80, 443, 8080}[rng.Intn(4)]
		udp := rng.Float64() < *udpShare
		start := base.Add(time.Duration(c) * *stagger)

		for k := 0; k < *perConv; k++ {
			size := rng.Intn(200) + 50
			if k%2 == 1 {
				size = rng.Intn(1300) + 100 // replies are larger
			}
			packets = append(packets, packet{
				ts:       start.Add(time.Duration(k) * *gap),
				reply:    k%2 == 1,
				size:     size,
				udp:      udp,
				client:   client,
				server:   server,
				cport:    cport,
				sport:    sport,
				sequence: uint32(k),
			})
		}
	}
	sort.SliceStable(packets, func(i, j int) bool { return packets[i].ts.Before(packets[j].ts) })

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	for i, p := range packets {
		if (i+1)%100000 == 0 {
			log.Printf("Generated %d packets...", i+1)
		}
		if err := serialize(buf, opts, p, rng); err != nil {
			log.Fatalf("Failed to serialize layers: %v", err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     p.ts,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := pcapWriter.WritePacket(ci, buf.Bytes()); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
	}

	log.Printf("Successfully generated %d packets into %s.", len(packets), *outputFile)
}

func serialize(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions, p packet, rng *rand.Rand) error {
	src, dst := p.client, p.server
	sport, dport := p.cport, p.sport
	srcMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC := net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
	if p.reply {
		src, dst = dst, src
		sport, dport = dport, sport
		srcMAC, dstMAC = dstMAC, srcMAC
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{SrcIP: src, DstIP: dst, Version: 4, TTL: 64}
	payload := make([]byte, p.size)
	rng.Read(payload)

	if p.udp {
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
		udp.SetNetworkLayerForChecksum(ip)
		return gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload))
	}
	ip.Protocol = layers.IPProtocolTCP
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     p.sequence,
		ACK:     p.sequence > 0,
		SYN:     p.sequence == 0,
		Window:  14600,
	}
	tcp.SetNetworkLayerForChecksum(ip)
	return gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload))
}
