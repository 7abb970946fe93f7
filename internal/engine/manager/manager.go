package manager

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/flowcache"
	"FlowSpectra/internal/model"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// progressEvery is how many records pass between two progress snapshots.
const progressEvery = 4096

// Recorder observes the run as it happens. metrics.Metrics implements it.
type Recorder interface {
	Ingested()
	Rejected()
	Evicted(reason string)
	Written()
	Resident(n int)
}

// Summary describes a run. While the run is in progress it is a snapshot
// taken at the last progress update.
type Summary struct {
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Running     bool            `json:"running"`
	Interrupted bool            `json:"interrupted"`
	Read        uint64          `json:"read"`
	Rejected    uint64          `json:"rejected"`
	Written     uint64          `json:"written"`
	Lost        int             `json:"lost"`
	Cache       flowcache.Stats `json:"cache"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder reports every ingest, rejection, eviction and write to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithStrict overrides the malformed record policy from the configuration.
func WithStrict(strict bool) Option {
	return func(m *Manager) {
		m.strict = strict
	}
}

// Manager drives one profiling pass: it pulls records from the source, feeds
// them to the flow cache and hands every evicted flow to the sink.
type Manager struct {
	source   model.Source
	sink     model.Sink
	cache    *flowcache.Cache
	strict   bool
	recorder Recorder

	summary Summary

	mu       sync.Mutex
	progress Summary
}

// NewManager creates the flow cache described by cfg and binds it to source and sink.
func NewManager(cfg *config.Config, source model.Source, sink model.Sink, opts ...Option) (*Manager, error) {
	m := &Manager{
		source: source,
		sink:   sink,
		strict: cfg.IsStrict(),
	}
	for _, opt := range opts {
		opt(m)
	}

	var cacheOpts []flowcache.Option
	if m.recorder != nil {
		cacheOpts = append(cacheOpts, flowcache.WithEvictionHook(func(reason flowcache.Reason, _ model.FlowRecord) {
			m.recorder.Evicted(reason.String())
		}))
	}
	cache, err := flowcache.New(cfg.InactiveTimeoutDuration(), cfg.ActiveTimeoutDuration(), cfg.Capacity(), cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// Progress returns the latest progress snapshot. It is safe to call from
// any goroutine while Run is executing.
func (m *Manager) Progress() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progress
	p.Cache.Evicted = make(map[string]uint64, len(m.progress.Cache.Evicted))
	for k, v := range m.progress.Cache.Evicted {
		p.Cache.Evicted[k] = v
	}
	return p
}

// Run processes the source until it is exhausted, fails, or ctx is canceled,
// then drains the cache into the sink and closes both. Cancellation is not an
// error: the drained output is complete up to the last record read and the
// summary is marked as interrupted.
//
// A source failure or a rejected record in strict mode still drains the cache
// before a *SourceError is returned. A sink failure stops the run at once and
// returns a *SinkError counting the flows that were lost. When the drain after
// a source failure fails as well, both errors are joined.
func (m *Manager) Run(ctx context.Context) (Summary, error) {
	m.summary = Summary{StartedAt: time.Now(), Running: true}
	m.snapshot()
	log.Infof("Manager started with capacity %d flows.", m.cache.Capacity())

	runErr := m.ingestAll(ctx)

	var sinkErr *SinkError
	if errors.As(runErr, &sinkErr) {
		sinkErr.Lost += m.cache.Len()
		log.Errorf("Sink failed, %d flows were not written: %v", sinkErr.Lost, sinkErr.Err)
	} else {
		if m.summary.Interrupted {
			log.Warn("Run interrupted, draining resident flows...")
		} else if runErr != nil {
			log.Warnf("Source failed, draining resident flows: %v", runErr)
		}
		if err := m.drain(); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	if err := m.source.Close(); err != nil {
		log.Warnf("Error closing source: %v", err)
	}
	if err := m.sink.Close(); err != nil {
		closeErr := m.sinkFailure(fmt.Errorf("failed to close sink: %w", err))
		if errors.As(runErr, &sinkErr) {
			sinkErr.Lost += closeErr.Lost
			log.Warnf("Error closing sink: %v", err)
		} else {
			runErr = errors.Join(runErr, closeErr)
		}
	}

	if errors.As(runErr, &sinkErr) {
		m.summary.Lost = sinkErr.Lost
	}
	m.summary.Running = false
	m.summary.Duration = time.Since(m.summary.StartedAt)
	m.snapshot()
	m.logSummary()
	return m.summary, runErr
}

func (m *Manager) ingestAll(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			m.summary.Interrupted = true
			return nil
		}

		rec, err := m.source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil && errors.Is(err, ctx.Err()):
				m.summary.Interrupted = true
				return nil
			case errors.Is(err, model.ErrMalformedRecord) && !m.strict:
				m.reject(err)
				continue
			}
			return &SourceError{Err: err}
		}
		m.summary.Read++

		evicted, err := m.cache.Ingest(rec)
		if err != nil {
			if m.strict {
				return &SourceError{Err: fmt.Errorf("record %d: %w", m.summary.Read, err)}
			}
			m.reject(err)
			continue
		}
		if m.recorder != nil {
			m.recorder.Ingested()
		}
		if err := m.write(evicted); err != nil {
			return err
		}

		if m.summary.Read%progressEvery == 0 {
			m.snapshot()
		}
	}
}

func (m *Manager) reject(err error) {
	m.summary.Rejected++
	if m.recorder != nil {
		m.recorder.Rejected()
	}
	log.WithFields(log.Fields{
		"boundary": "source",
		"rejected": m.summary.Rejected,
	}).Warnf("Skipping malformed record: %v", err)
}

// drain hands every resident flow to the sink. If the sink fails part way,
// the flows not yet written are reported as lost.
func (m *Manager) drain() error {
	flows := m.cache.Drain()
	for i, rec := range flows {
		if err := m.writeOne(rec); err != nil {
			err.Lost += len(flows) - i
			log.Errorf("Sink failed during drain, %d flows were not written: %v", err.Lost, err.Err)
			return err
		}
	}
	log.Infof("Drained %d resident flows.", len(flows))
	return nil
}

func (m *Manager) write(flows []model.FlowRecord) error {
	for i, rec := range flows {
		if err := m.writeOne(rec); err != nil {
			err.Lost += len(flows) - i
			return err
		}
	}
	return nil
}

func (m *Manager) writeOne(rec model.FlowRecord) *SinkError {
	if err := m.sink.Write(rec); err != nil {
		return m.sinkFailure(err)
	}
	m.summary.Written++
	if m.recorder != nil {
		m.recorder.Written()
	}
	return nil
}

// sinkFailure wraps a sink error. Flows the sink had accepted but failed to
// flush are moved from the written count to the lost count.
func (m *Manager) sinkFailure(err error) *SinkError {
	sinkErr := &SinkError{Err: err}
	var flushErr *model.FlushError
	if errors.As(err, &flushErr) && flushErr.Pending > 0 {
		pending := uint64(flushErr.Pending)
		if pending > m.summary.Written {
			pending = m.summary.Written
		}
		m.summary.Written -= pending
		sinkErr.Lost = int(pending)
	}
	return sinkErr
}

// snapshot publishes the current counters for Progress.
func (m *Manager) snapshot() {
	m.summary.Cache = m.cache.Stats()
	if m.recorder != nil {
		m.recorder.Resident(m.summary.Cache.Resident)
	}
	m.mu.Lock()
	m.progress = m.summary
	m.mu.Unlock()
}

func (m *Manager) logSummary() {
	s := m.summary
	log.WithFields(log.Fields{
		"read":        s.Read,
		"rejected":    s.Rejected,
		"written":     s.Written,
		"created":     s.Cache.Created,
		"merged":      s.Cache.Merged,
		"maxResident": s.Cache.MaxResident,
		"inactive":    s.Cache.Evicted[flowcache.ReasonInactive.String()],
		"active":      s.Cache.Evicted[flowcache.ReasonActive.String()],
		"capacity":    s.Cache.Evicted[flowcache.ReasonCapacity.String()],
		"drain":       s.Cache.Evicted[flowcache.ReasonDrain.String()],
		"interrupted": s.Interrupted,
		"lost":        s.Lost,
	}).Infof("Run finished in %s.", s.Duration.Round(time.Millisecond))
}
