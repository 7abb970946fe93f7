// Package pcap turns capture files into single-packet flow observations.
package pcap

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/protocol"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterSource("pcap", func(cfg *config.Config) (model.Source, error) {
		return NewReader(cfg.Reader.Path)
	})
}

// Reader reads packets from a classic pcap or pcapng file.
type Reader struct {
	file     *os.File
	packets  gopacket.PacketDataSource
	linkType layers.LinkType

	read    uint64
	skipped uint64
}

// NewReader opens a capture file. The classic pcap format is tried first,
// then pcapng.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	r := &Reader{file: file}
	if pr, err := pcapgo.NewReader(bufio.NewReader(file)); err == nil {
		r.packets, r.linkType = pr, pr.LinkType()
		return r, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to rewind capture file: %w", err)
	}
	ng, err := pcapgo.NewNgReader(bufio.NewReader(file), pcapgo.DefaultNgReaderOptions)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header of %s: %w", filePath, err)
	}
	r.packets, r.linkType = ng, ng.LinkType()
	return r, nil
}

// Next returns the observation of the next IP packet. Frames that are not IP
// are skipped. A capture cut off in the middle of a packet ends like a
// complete one.
func (r *Reader) Next(ctx context.Context) (model.FlowRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.FlowRecord{}, err
		}
		data, ci, err := r.packets.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return model.FlowRecord{}, io.EOF
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warnf("Capture file is truncated after %d packets", r.read)
				return model.FlowRecord{}, io.EOF
			}
			return model.FlowRecord{}, fmt.Errorf("failed to read packet %d: %w", r.read+1, err)
		}
		r.read++

		rec, err := protocol.ParsePacket(data, ci, r.linkType)
		if err != nil {
			r.skipped++
			log.Debugf("Skipping packet %d: %v", r.read, err)
			continue
		}
		return rec, nil
	}
}

// Skipped returns the number of packets that did not yield an observation.
func (r *Reader) Skipped() uint64 {
	return r.skipped
}

// Close closes the capture file.
func (r *Reader) Close() error {
	if r.skipped > 0 {
		log.Infof("Skipped %d of %d packets without an IP header", r.skipped, r.read)
	}
	return r.file.Close()
}
