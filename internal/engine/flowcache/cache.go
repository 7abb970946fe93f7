package flowcache

import (
	"FlowSpectra/internal/model"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Reason tells why a flow left the cache.
type Reason int

const (
	ReasonInactive Reason = iota
	ReasonActive
	ReasonCapacity
	ReasonDrain
)

func (r Reason) String() string {
	switch r {
	case ReasonInactive:
		return "inactive"
	case ReasonActive:
		return "active"
	case ReasonCapacity:
		return "capacity"
	case ReasonDrain:
		return "drain"
	}
	return fmt.Sprintf("reason-%d", int(r))
}

// EvictionHook is called once for every flow leaving the cache, in eviction order.
type EvictionHook func(reason Reason, record model.FlowRecord)

// Option configures a Cache.
type Option func(*Cache)

// WithEvictionHook registers a hook observing every eviction.
func WithEvictionHook(hook EvictionHook) Option {
	return func(c *Cache) {
		c.hook = hook
	}
}

// Stats are the cumulative counters of a cache.
type Stats struct {
	Resident    int               `json:"resident"`
	MaxResident int               `json:"max_resident"`
	Ingested    uint64            `json:"ingested"`
	Created     uint64            `json:"created"`
	Merged      uint64            `json:"merged"`
	Evicted     map[string]uint64 `json:"evicted"`
}

type entry struct {
	key       FlowKey
	agg       model.FlowRecord
	lastSeen  int64
	createdAt int64
	evicted   bool
}

// Cache merges unidirectional observations into bidirectional flows and
// evicts them by inactivity, by age, or under capacity pressure.
//
// The cache has no wall clock. Its notion of now is the largest end time of
// any record ingested so far. Records older than the inactive timeout relative
// to that clock may find their flow already evicted and start a new one; this
// is an accepted approximation for sources that are only roughly ordered.
//
// A Cache is not safe for concurrent use.
type Cache struct {
	inactiveTimeout int64
	activeTimeout   int64
	capacity        int

	// entries is ordered by last update, which equals last_seen order because
	// the clock is monotonic.
	entries *simplelru.LRU[FlowKey, *entry]
	created creationQueue

	now     int64
	started bool
	hook    EvictionHook

	ingested    uint64
	createdN    uint64
	merged      uint64
	maxResident int
	evicted     [ReasonDrain + 1]uint64
}

// New creates a cache holding at most capacity flows.
func New(inactiveTimeout, activeTimeout time.Duration, capacity int, opts ...Option) (*Cache, error) {
	if inactiveTimeout.Milliseconds() < 1 || activeTimeout.Milliseconds() < 1 {
		return nil, errors.New("flow cache timeouts must be at least 1ms")
	}
	if capacity < 1 {
		return nil, fmt.Errorf("flow cache capacity must be at least 1, got %d", capacity)
	}
	entries, err := simplelru.NewLRU[FlowKey, *entry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow table: %w", err)
	}
	c := &Cache{
		inactiveTimeout: inactiveTimeout.Milliseconds(),
		activeTimeout:   activeTimeout.Milliseconds(),
		capacity:        capacity,
		entries:         entries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ingest adds one observation to the cache and returns every flow evicted
// while doing so, in eviction order. Malformed records are rejected with an
// error wrapping model.ErrMalformedRecord and leave the cache untouched.
func (c *Cache) Ingest(record model.FlowRecord) ([]model.FlowRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if !c.started || record.EndTime > c.now {
		c.now = record.EndTime
		c.started = true
	}
	c.ingested++

	out := c.sweep(nil)

	key, forward := KeyOf(record)
	obs := record
	if !forward {
		obs = record.Reverse()
	}

	if e, ok := c.entries.Get(key); ok {
		e.merge(obs, c.now)
		c.merged++
		return out, nil
	}

	for c.entries.Len() >= c.capacity {
		_, e, _ := c.entries.RemoveOldest()
		out = c.finish(out, e, ReasonCapacity)
	}

	e := &entry{key: key, agg: obs, lastSeen: c.now, createdAt: c.now}
	c.entries.Add(key, e)
	c.created.push(e)
	c.created.compact(2 * c.capacity)
	c.createdN++
	if n := c.entries.Len(); n > c.maxResident {
		c.maxResident = n
	}
	return out, nil
}

// sweep evicts every entry whose inactive or active timeout has elapsed. Both
// indexes are ordered, so each loop stops at the first entry still in time.
func (c *Cache) sweep(out []model.FlowRecord) []model.FlowRecord {
	for {
		key, e, ok := c.entries.GetOldest()
		if !ok || c.now-e.lastSeen <= c.inactiveTimeout {
			break
		}
		c.entries.Remove(key)
		out = c.finish(out, e, ReasonInactive)
	}
	for {
		e := c.created.front()
		if e == nil || c.now-e.createdAt <= c.activeTimeout {
			break
		}
		c.created.pop()
		c.entries.Remove(e.key)
		out = c.finish(out, e, ReasonActive)
	}
	return out
}

// Drain evicts every resident flow, least recently updated first, and leaves
// the cache empty.
func (c *Cache) Drain() []model.FlowRecord {
	out := make([]model.FlowRecord, 0, c.entries.Len())
	for {
		_, e, ok := c.entries.RemoveOldest()
		if !ok {
			break
		}
		out = c.finish(out, e, ReasonDrain)
	}
	c.created.reset()
	return out
}

// Lookup returns the current aggregate for key without touching its recency.
func (c *Cache) Lookup(key FlowKey) (model.FlowRecord, bool) {
	e, ok := c.entries.Peek(key)
	if !ok {
		return model.FlowRecord{}, false
	}
	return e.agg, true
}

// Len returns the number of resident flows.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Capacity returns the maximum number of resident flows.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Stats returns a copy of the cache counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Resident:    c.entries.Len(),
		MaxResident: c.maxResident,
		Ingested:    c.ingested,
		Created:     c.createdN,
		Merged:      c.merged,
		Evicted:     make(map[string]uint64, len(c.evicted)),
	}
	for r, n := range c.evicted {
		s.Evicted[Reason(r).String()] = n
	}
	return s
}

func (c *Cache) finish(out []model.FlowRecord, e *entry, reason Reason) []model.FlowRecord {
	e.evicted = true
	c.evicted[reason]++
	if c.hook != nil {
		c.hook(reason, e.agg)
	}
	return append(out, e.agg)
}

// merge folds an observation, already oriented in the key's forward
// direction, into the aggregate. Counters only grow and the time span only widens.
func (e *entry) merge(obs model.FlowRecord, now int64) {
	e.agg.Packets += obs.Packets
	e.agg.Bytes += obs.Bytes
	e.agg.PacketsRev += obs.PacketsRev
	e.agg.BytesRev += obs.BytesRev
	if obs.StartTime < e.agg.StartTime {
		e.agg.StartTime = obs.StartTime
	}
	if obs.EndTime > e.agg.EndTime {
		e.agg.EndTime = obs.EndTime
	}
	e.lastSeen = now
}
