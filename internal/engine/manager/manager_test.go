package manager

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"FlowSpectra/pkg/flowcsv"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	hostA = netip.MustParseAddr("10.0.0.1")
	hostB = netip.MustParseAddr("10.0.0.2")
)

func tcp(src, dst netip.Addr, sport, dport uint16, start, end int64, packets, bytes uint64) model.FlowRecord {
	return model.FlowRecord{
		L3Proto: model.IPv4, L4Proto: model.TCP,
		SrcAddr: src, DstAddr: dst, SrcPort: sport, DstPort: dport,
		StartTime: start, EndTime: end, Packets: packets, Bytes: bytes,
	}
}

// sliceSource yields its records, then err (io.EOF when nil).
type sliceSource struct {
	records []model.FlowRecord
	err     error
	closed  bool
	// onRead is called with the number of records handed out so far.
	onRead func(n int)
	n      int
}

func (s *sliceSource) Next(ctx context.Context) (model.FlowRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.FlowRecord{}, err
	}
	if s.n == len(s.records) {
		if s.err != nil {
			return model.FlowRecord{}, s.err
		}
		return model.FlowRecord{}, io.EOF
	}
	rec := s.records[s.n]
	s.n++
	if s.onRead != nil {
		s.onRead(s.n)
	}
	return rec, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type memorySink struct {
	records   []model.FlowRecord
	failAfter int
	closeErr  error
	closed    bool
}

func (s *memorySink) Write(rec model.FlowRecord) error {
	if s.failAfter >= 0 && len(s.records) >= s.failAfter {
		return errors.New("disk full")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return s.closeErr
}

func newSink() *memorySink {
	return &memorySink{failAfter: -1}
}

type countingRecorder struct {
	ingested, rejected, written int
	evicted                     map[string]int
	resident                    int
}

func (r *countingRecorder) Ingested()             { r.ingested++ }
func (r *countingRecorder) Rejected()             { r.rejected++ }
func (r *countingRecorder) Evicted(reason string) { r.evicted[reason]++ }
func (r *countingRecorder) Written()              { r.written++ }
func (r *countingRecorder) Resident(n int)        { r.resident = n }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.InactiveTimeout = 1
	cfg.ActiveTimeout = 10
	cfg.MemoryMiB = 1
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, src model.Source, sink model.Sink, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, src, sink, opts...)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

var cmpAddr = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

func TestRun_MergesAndDrains(t *testing.T) {
	src := &sliceSource{records: []model.FlowRecord{
		tcp(hostA, hostB, 1000, 80, 0, 5, 3, 300),
		tcp(hostB, hostA, 80, 1000, 2, 8, 1, 80),
	}}
	sink := newSink()

	summary, err := newTestManager(t, testConfig(), src, sink).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []model.FlowRecord{{
		L3Proto: model.IPv4, L4Proto: model.TCP,
		SrcAddr: hostA, DstAddr: hostB, SrcPort: 1000, DstPort: 80,
		StartTime: 0, EndTime: 8, Packets: 3, Bytes: 300, PacketsRev: 1, BytesRev: 80,
	}}
	if diff := cmp.Diff(want, sink.records, cmpAddr); diff != "" {
		t.Errorf("unexpected output (-want +got):\n%s", diff)
	}
	if summary.Read != 2 || summary.Written != 1 || summary.Interrupted || summary.Running {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Cache.Evicted["drain"] != 1 {
		t.Errorf("expected one drain eviction, got %v", summary.Cache.Evicted)
	}
	if !src.closed || !sink.closed {
		t.Errorf("expected source and sink to be closed")
	}
}

func TestRun_WritesTimeoutEvictionsInOrder(t *testing.T) {
	src := &sliceSource{records: []model.FlowRecord{
		tcp(hostA, hostB, 1, 80, 0, 0, 1, 60),
		tcp(hostA, hostB, 2, 80, 100, 100, 1, 60),
		tcp(hostA, hostB, 1, 80, 5000, 5000, 1, 60),
	}}
	sink := newSink()

	if _, err := newTestManager(t, testConfig(), src, sink).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(sink.records) != 3 {
		t.Fatalf("expected 3 flows, got %d", len(sink.records))
	}
	// Both early flows time out when the third record arrives, oldest first.
	if sink.records[0].SrcPort != 1 || sink.records[0].EndTime != 0 {
		t.Errorf("unexpected first flow %v", sink.records[0])
	}
	if sink.records[1].SrcPort != 2 {
		t.Errorf("unexpected second flow %v", sink.records[1])
	}
	if sink.records[2].StartTime != 5000 {
		t.Errorf("unexpected drained flow %v", sink.records[2])
	}
}

func TestRun_SourceFailureStillDrains(t *testing.T) {
	boom := errors.New("connection reset")
	src := &sliceSource{
		records: []model.FlowRecord{tcp(hostA, hostB, 1, 80, 0, 1, 1, 60)},
		err:     boom,
	}
	sink := newSink()

	summary, err := newTestManager(t, testConfig(), src, sink).Run(context.Background())
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || !errors.Is(err, boom) {
		t.Fatalf("expected SourceError wrapping %v, got %v", boom, err)
	}
	if len(sink.records) != 1 || summary.Written != 1 {
		t.Errorf("expected the resident flow to be drained, got %d records", len(sink.records))
	}
}

func TestRun_MalformedRecord(t *testing.T) {
	records := []model.FlowRecord{
		tcp(hostA, hostB, 1, 80, 0, 1, 1, 60),
		tcp(hostA, hostB, 2, 80, 5, 4, 1, 60),
		tcp(hostA, hostB, 3, 80, 6, 7, 1, 60),
	}

	t.Run("strict", func(t *testing.T) {
		sink := newSink()
		_, err := newTestManager(t, testConfig(), &sliceSource{records: records}, sink).Run(context.Background())
		var srcErr *SourceError
		if !errors.As(err, &srcErr) || !errors.Is(err, model.ErrMalformedRecord) {
			t.Fatalf("expected SourceError wrapping ErrMalformedRecord, got %v", err)
		}
		if len(sink.records) != 1 {
			t.Errorf("expected the first flow to be drained, got %d", len(sink.records))
		}
	})

	t.Run("lenient", func(t *testing.T) {
		sink := newSink()
		rec := &countingRecorder{evicted: map[string]int{}}
		m := newTestManager(t, testConfig(), &sliceSource{records: records}, sink, WithStrict(false), WithRecorder(rec))
		summary, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if summary.Rejected != 1 || rec.rejected != 1 {
			t.Errorf("expected one rejected record, got %d/%d", summary.Rejected, rec.rejected)
		}
		if len(sink.records) != 2 || rec.written != 2 || rec.ingested != 2 {
			t.Errorf("expected 2 flows, got %d (recorder %+v)", len(sink.records), rec)
		}
		if rec.evicted["drain"] != 2 {
			t.Errorf("expected 2 drain evictions, got %v", rec.evicted)
		}
	})
}

// malformedSource reports its second message as undecodable.
type malformedSource struct {
	sliceSource
	calls int
}

func (s *malformedSource) Next(ctx context.Context) (model.FlowRecord, error) {
	s.calls++
	if s.calls == 2 {
		return model.FlowRecord{}, fmt.Errorf("message %d: %w", s.calls, model.ErrMalformedRecord)
	}
	return s.sliceSource.Next(ctx)
}

func TestRun_LenientSkipsUndecodableInput(t *testing.T) {
	src := &malformedSource{sliceSource: sliceSource{records: []model.FlowRecord{
		tcp(hostA, hostB, 1, 80, 0, 1, 1, 60),
		tcp(hostA, hostB, 1, 80, 2, 3, 1, 60),
	}}}
	cfg := testConfig()
	strict := false
	cfg.Strict = &strict

	sink := newSink()
	summary, err := newTestManager(t, cfg, src, sink).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Rejected != 1 || summary.Read != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if len(sink.records) != 1 || sink.records[0].Packets != 2 {
		t.Errorf("expected one merged flow, got %v", sink.records)
	}
}

func TestRun_SinkFailureReportsLoss(t *testing.T) {
	// Every record times out the previous flow, so writes happen during ingestion.
	cfg := testConfig()
	var records []model.FlowRecord
	for i := 0; i < 5; i++ {
		ts := int64(i * 2000)
		records = append(records, tcp(hostA, hostB, uint16(i+1), 80, ts, ts, 1, 60))
	}
	sink := newSink()
	sink.failAfter = 2

	summary, err := newTestManager(t, cfg, &sliceSource{records: records}, sink).Run(context.Background())
	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("expected SinkError, got %v", err)
	}
	// The flow whose write failed and the one still resident.
	if sinkErr.Lost != 2 || summary.Lost != 2 {
		t.Errorf("expected 2 lost flows, got %d/%d", sinkErr.Lost, summary.Lost)
	}
	if summary.Written != 2 {
		t.Errorf("expected 2 written flows, got %d", summary.Written)
	}
}

func TestRun_SinkCloseFailure(t *testing.T) {
	sink := newSink()
	sink.closeErr = errors.New("flush failed")
	src := &sliceSource{records: []model.FlowRecord{tcp(hostA, hostB, 1, 80, 0, 1, 1, 60)}}

	_, err := newTestManager(t, testConfig(), src, sink).Run(context.Background())
	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("expected SinkError, got %v", err)
	}
}

// failingWriter rejects every write, like a full disk.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("no space left on device")
}

func TestRun_UnflushedRowsAreLost(t *testing.T) {
	var records []model.FlowRecord
	for i := 0; i < 50; i++ {
		records = append(records, tcp(hostA, hostB, uint16(i+1), 80, 0, 1, 1, 60))
	}
	sink, err := flowcsv.NewWriter(failingWriter{}, false)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	summary, err := newTestManager(t, testConfig(), &sliceSource{records: records}, sink).Run(context.Background())
	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("expected SinkError, got %v", err)
	}
	if sinkErr.Lost != 50 || summary.Lost != 50 {
		t.Errorf("expected 50 lost flows, got %d/%d", sinkErr.Lost, summary.Lost)
	}
	if summary.Written != 0 {
		t.Errorf("expected no written flows, got %d", summary.Written)
	}
}

func TestRun_SourceAndDrainFailure(t *testing.T) {
	boom := errors.New("connection reset")
	src := &sliceSource{
		records: []model.FlowRecord{
			tcp(hostA, hostB, 1, 80, 0, 1, 1, 60),
			tcp(hostA, hostB, 2, 80, 0, 1, 1, 60),
		},
		err: boom,
	}
	sink := newSink()
	sink.failAfter = 1

	summary, err := newTestManager(t, testConfig(), src, sink).Run(context.Background())
	var (
		srcErr  *SourceError
		sinkErr *SinkError
	)
	if !errors.As(err, &srcErr) || !errors.Is(err, boom) {
		t.Errorf("expected the source failure to be kept, got %v", err)
	}
	if !errors.As(err, &sinkErr) {
		t.Fatalf("expected SinkError, got %v", err)
	}
	if sinkErr.Lost != 1 || summary.Lost != 1 || summary.Written != 1 {
		t.Errorf("expected 1 written and 1 lost flow, got %+v", summary)
	}
}

func TestRun_InterruptDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &sliceSource{
		records: []model.FlowRecord{
			tcp(hostA, hostB, 1, 80, 0, 1, 1, 60),
			tcp(hostA, hostB, 2, 80, 2, 3, 1, 60),
			tcp(hostA, hostB, 3, 80, 4, 5, 1, 60),
		},
		onRead: func(n int) {
			if n == 2 {
				cancel()
			}
		},
	}
	sink := newSink()

	summary, err := newTestManager(t, testConfig(), src, sink).Run(ctx)
	if err != nil {
		t.Fatalf("interrupted run should not fail: %v", err)
	}
	if !summary.Interrupted {
		t.Errorf("expected summary to be marked interrupted")
	}
	if summary.Read != 2 || len(sink.records) != 2 {
		t.Errorf("expected the 2 records read to be drained, got read=%d written=%d", summary.Read, len(sink.records))
	}
}

func TestProgress(t *testing.T) {
	src := &sliceSource{records: []model.FlowRecord{tcp(hostA, hostB, 1, 80, 0, 1, 1, 60)}}
	m := newTestManager(t, testConfig(), src, newSink())
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	p := m.Progress()
	if p.Running || p.Read != 1 || p.Written != 1 {
		t.Errorf("unexpected progress %+v", p)
	}
	p.Cache.Evicted["drain"] = 99
	if m.Progress().Cache.Evicted["drain"] != 1 {
		t.Errorf("Progress must return a copy")
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.InactiveTimeout = -1
	if _, err := NewManager(cfg, &sliceSource{}, newSink()); err == nil {
		t.Errorf("expected error for negative timeout")
	}
}
