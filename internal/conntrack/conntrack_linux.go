//go:build linux

// Package conntrack turns finished kernel connections into pre-merged flow
// observations.
package conntrack

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	ct "github.com/ti-mo/conntrack"
	"github.com/ti-mo/netfilter"
)

func init() {
	factory.RegisterSource("conntrack", func(cfg *config.Config) (model.Source, error) {
		return NewSource(cfg.Reader.Workers)
	})
}

// Source listens for conntrack destroy events. It never ends on its own; the
// run stops it through context cancellation.
type Source struct {
	conn    *ct.Conn
	records chan model.FlowRecord
	errs    chan error
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	filtered uint64
}

// NewSource subscribes to conntrack events with the given number of netlink
// workers. It needs CAP_NET_ADMIN.
func NewSource(workers uint8) (*Source, error) {
	conn, err := ct.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open conntrack netlink socket: %w", err)
	}

	evCh := make(chan ct.Event, 1024)
	errCh, err := conn.Listen(evCh, workers, netfilter.GroupsCT)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to conntrack events: %w", err)
	}

	s := &Source{
		conn:    conn,
		records: make(chan model.FlowRecord, 1024),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	s.wg.Add(2)
	go s.forwardErrors(errCh)
	go s.convert(evCh)
	log.Infof("Listening for conntrack destroy events with %d workers", workers)
	return s, nil
}

func (s *Source) forwardErrors(errCh <-chan error) {
	defer s.wg.Done()
	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return
			}
			select {
			case s.errs <- err:
			default:
			}
		case <-s.done:
			return
		}
	}
}

func (s *Source) convert(evCh <-chan ct.Event) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-evCh:
			if ev.Type != ct.EventDestroy || ev.Flow == nil {
				continue
			}
			rec, ok := recordOf(ev.Flow, time.Now())
			if !ok {
				s.filtered++
				continue
			}
			select {
			case s.records <- rec:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// recordOf converts a finished connection. The original direction becomes
// the forward counters. Connections without packet accounting are dropped.
func recordOf(f *ct.Flow, now time.Time) (model.FlowRecord, bool) {
	if f.CountersOrig.Packets+f.CountersReply.Packets == 0 {
		return model.FlowRecord{}, false
	}
	orig := f.TupleOrig
	rec := model.FlowRecord{
		L3Proto:    model.IPv6,
		L4Proto:    model.L4Protocol(orig.Proto.Protocol),
		SrcAddr:    orig.IP.SourceAddress.Unmap(),
		DstAddr:    orig.IP.DestinationAddress.Unmap(),
		Packets:    f.CountersOrig.Packets,
		Bytes:      f.CountersOrig.Bytes,
		PacketsRev: f.CountersReply.Packets,
		BytesRev:   f.CountersReply.Bytes,
	}
	if rec.SrcAddr.Is4() {
		rec.L3Proto = model.IPv4
	}
	if rec.L4Proto.HasPorts() {
		rec.SrcPort = orig.Proto.SourcePort
		rec.DstPort = orig.Proto.DestinationPort
	}

	// Timestamps are only present with net.netfilter.nf_conntrack_timestamp=1.
	start, stop := f.Timestamp.Start, f.Timestamp.Stop
	if stop.IsZero() {
		stop = now
	}
	if start.IsZero() || start.After(stop) {
		start = stop
	}
	rec.StartTime, rec.EndTime = start.UnixMilli(), stop.UnixMilli()
	return rec, true
}

// Next blocks until the next connection finishes.
func (s *Source) Next(ctx context.Context) (model.FlowRecord, error) {
	select {
	case <-ctx.Done():
		return model.FlowRecord{}, ctx.Err()
	case err := <-s.errs:
		return model.FlowRecord{}, fmt.Errorf("conntrack listener failed: %w", err)
	case rec := <-s.records:
		return rec, nil
	}
}

// Close stops the listener and closes the netlink socket.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
		if s.filtered > 0 {
			log.Infof("Ignored %d conntrack entries without packet accounting", s.filtered)
		}
	})
	return err
}
