// Package metrics exposes the progress of a profiling run as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors updated by the driving loop.
type Metrics struct {
	RecordsIngested prometheus.Counter
	RecordsRejected prometheus.Counter
	FlowsEvicted    *prometheus.CounterVec
	FlowsWritten    prometheus.Counter
	ResidentFlows   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowprofile_records_ingested_total",
			Help: "Observations accepted by the flow cache",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowprofile_records_rejected_total",
			Help: "Malformed observations skipped",
		}),
		FlowsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowprofile_flows_evicted_total",
			Help: "Flows evicted from the cache by reason",
		}, []string{"reason"}),
		FlowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowprofile_flows_written_total",
			Help: "Flows accepted by the sink",
		}),
		ResidentFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowprofile_resident_flows",
			Help: "Flows currently held by the cache",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.RecordsIngested,
		m.RecordsRejected,
		m.FlowsEvicted,
		m.FlowsWritten,
		m.ResidentFlows,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Ingested counts one record merged into the cache.
func (m *Metrics) Ingested() { m.RecordsIngested.Inc() }

// Rejected counts one malformed record skipped in lenient mode.
func (m *Metrics) Rejected() { m.RecordsRejected.Inc() }

// Evicted counts one flow leaving the cache for the given reason.
func (m *Metrics) Evicted(reason string) { m.FlowsEvicted.WithLabelValues(reason).Inc() }

// Written counts one flow handed to the sink. Flows later lost to a failed
// flush stay counted.
func (m *Metrics) Written() { m.FlowsWritten.Inc() }

// Resident sets the number of flows currently held in the cache.
func (m *Metrics) Resident(n int) { m.ResidentFlows.Set(float64(n)) }
