package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/webhealth/canary/pkg/types"
)

// Sample is one value of a series.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is every retained sample for one (namespace, metric, dimensions).
type Series struct {
	Namespace  string            `json:"namespace"`
	MetricName string            `json:"metric_name"`
	Dimensions map[string]string `json:"dimensions"`
	Unit       string            `json:"unit"`
	Samples    []Sample          `json:"samples"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Latest returns the newest sample.
func (s *Series) Latest() (Sample, bool) {
	if len(s.Samples) == 0 {
		return Sample{}, false
	}
	return s.Samples[len(s.Samples)-1], true
}

// Key identifies a series: namespace, metric name and the dimensions sorted
// by name.
func Key(namespace, metric string, dims map[string]string) string {
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte('|')
	b.WriteString(metric)
	for _, k := range names {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(dims[k])
	}
	return b.String()
}

// Filter selects series in List. Empty fields match everything.
type Filter struct {
	Namespace  string
	MetricName string
	Dimensions map[string]string
}

func (f Filter) match(s *Series) bool {
	if f.Namespace != "" && f.Namespace != s.Namespace {
		return false
	}
	if f.MetricName != "" && f.MetricName != s.MetricName {
		return false
	}
	for k, v := range f.Dimensions {
		if s.Dimensions[k] != v {
			return false
		}
	}
	return true
}

// Store is a thread-safe in-memory series store. A background goroutine
// (Run) evicts series that have not been written within the TTL.
type Store struct {
	mu         sync.RWMutex
	data       map[string]*Series
	ttl        time.Duration
	maxSamples int
	now        func() time.Time // injectable for deterministic tests
}

// New creates a Store that keeps at most maxSamples per series and evicts
// series idle for longer than ttl.
func New(ttl time.Duration, maxSamples int) *Store {
	if maxSamples <= 0 {
		maxSamples = 1
	}
	return &Store{
		data:       make(map[string]*Series),
		ttl:        ttl,
		maxSamples: maxSamples,
		now:        time.Now,
	}
}

// TTL returns the idle eviction threshold.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put appends each point to its series, creating the series on first write.
// Samples stay ordered by timestamp; a point with the same timestamp as an
// existing sample replaces it.
func (s *Store) Put(points ...types.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range points {
		k := Key(p.Namespace, p.MetricName, p.Dimensions)
		ser, ok := s.data[k]
		if !ok {
			dims := make(map[string]string, len(p.Dimensions))
			for dk, dv := range p.Dimensions {
				dims[dk] = dv
			}
			ser = &Series{Namespace: p.Namespace, MetricName: p.MetricName, Dimensions: dims}
			s.data[k] = ser
		}
		ser.Unit = p.Unit
		ser.UpdatedAt = now
		ser.Samples = insert(ser.Samples, Sample{Timestamp: p.Timestamp.UTC(), Value: p.Value})
		if over := len(ser.Samples) - s.maxSamples; over > 0 {
			ser.Samples = append(ser.Samples[:0:0], ser.Samples[over:]...)
		}
	}
}

func insert(samples []Sample, smp Sample) []Sample {
	i := sort.Search(len(samples), func(i int) bool { return !samples[i].Timestamp.Before(smp.Timestamp) })
	if i < len(samples) && samples[i].Timestamp.Equal(smp.Timestamp) {
		samples[i] = smp
		return samples
	}
	samples = append(samples, Sample{})
	copy(samples[i+1:], samples[i:])
	samples[i] = smp
	return samples
}

// Get returns a copy of the series with key k. The series may be stale if
// the TTL has elapsed.
func (s *Store) Get(k string) (*Series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.data[k]
	if !ok {
		return nil, false
	}
	return ser.clone(), true
}

// List returns copies of the live series matching f, sorted by key.
// Stale series that have not yet been evicted are excluded.
func (s *Store) List(f Filter) []*Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	keys := make([]string, 0, len(s.data))
	for k, ser := range s.data {
		if ser.UpdatedAt.After(cutoff) && f.match(ser) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]*Series, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.data[k].clone())
	}
	return out
}

// Count returns the total number of series held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes series whose UpdatedAt is older than now minus TTL.
// It returns the number of series removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for k, ser := range s.data {
		if !ser.UpdatedAt.After(cutoff) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second, maximum 1 minute) and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted idle series", "count", n)
			}
		}
	}
}

func (s *Series) clone() *Series {
	c := *s
	c.Dimensions = make(map[string]string, len(s.Dimensions))
	for k, v := range s.Dimensions {
		c.Dimensions[k] = v
	}
	c.Samples = append([]Sample(nil), s.Samples...)
	return &c
}
