package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/pkg/types"
)

// ErrCycleInFlight is returned by RunCycle when another cycle has not finished.
var ErrCycleInFlight = errors.New("cycle: a cycle is already in flight")

// Prober scores one target. *probe.Prober implements it.
type Prober interface {
	Probe(ctx context.Context, target types.Target, timeout time.Duration) types.Measurement
}

// Runner probes a batch of targets concurrently, at most one batch at a time.
type Runner struct {
	mu          sync.RWMutex
	prober      Prober
	stats       *stats.Stats
	concurrency atomic.Int64
	running     atomic.Bool
}

// New returns a Runner that keeps at most concurrency probes in flight.
func New(p Prober, concurrency int, st *stats.Stats) *Runner {
	r := &Runner{prober: p, stats: st}
	r.SetConcurrency(concurrency)
	return r
}

// SetProber replaces the prober used by subsequent cycles.
func (r *Runner) SetProber(p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prober = p
}

// SetConcurrency changes the probe limit for subsequent cycles.
// Values below 1 are treated as 1.
func (r *Runner) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	r.concurrency.Store(int64(n))
}

// RunCycle probes every valid target once and returns one Measurement per
// valid target, in input order. Blank targets are skipped. It blocks until
// every probe has finished; an overlapping call returns ErrCycleInFlight
// without probing.
func (r *Runner) RunCycle(ctx context.Context, targets []types.Target, timeout time.Duration) ([]types.Measurement, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.stats.CyclesSkippedTotal.Inc()
		return nil, ErrCycleInFlight
	}
	defer r.running.Store(false)

	r.mu.RLock()
	prober := r.prober
	r.mu.RUnlock()

	start := time.Now()
	valid := make([]types.Target, 0, len(targets))
	for _, t := range targets {
		if t.Valid() {
			valid = append(valid, t)
		}
	}

	out := make([]types.Measurement, len(valid))
	g := new(errgroup.Group)
	g.SetLimit(int(r.concurrency.Load()))
	for i, t := range valid {
		g.Go(func() error {
			m := prober.Probe(ctx, t, timeout)
			out[i] = m
			r.record(m)
			return nil
		})
	}
	_ = g.Wait() // probes never fail

	r.stats.CycleDuration.Observe(time.Since(start).Seconds())
	slog.Info("cycle: complete", "targets", len(valid), "duration", time.Since(start))
	return out, nil
}

func (r *Runner) record(m types.Measurement) {
	attrs := []any{"target", m.Target, "availability", m.Availability}
	if m.LatencyMs != nil {
		attrs = append(attrs, "latency_ms", *m.LatencyMs)
	}
	if m.StatusCode != nil {
		attrs = append(attrs, "status_code", *m.StatusCode)
	}
	if m.Error != "" {
		attrs = append(attrs, "err", m.Error)
	}

	if m.Available() {
		r.stats.ProbesTotal.WithLabelValues("up").Inc()
		slog.Info("cycle: probe", attrs...)
	} else {
		r.stats.ProbesTotal.WithLabelValues("down").Inc()
		slog.Warn("cycle: probe", attrs...)
	}
}
