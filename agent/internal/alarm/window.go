package alarm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webhealth/canary/pkg/types"
)

// Window is the recent measurement history per target that the evaluator
// reads from. Measurements older than the retention are evicted by Run.
type Window struct {
	mu        sync.RWMutex
	data      map[types.Target][]types.Measurement
	retention time.Duration
	now       func() time.Time
}

// NewWindow returns a Window keeping measurements for retention. Retention
// must cover the longest rule evaluation window.
func NewWindow(retention time.Duration) *Window {
	return &Window{
		data:      make(map[types.Target][]types.Measurement),
		retention: retention,
		now:       time.Now,
	}
}

// SetRetention changes the retention used by the next eviction.
func (w *Window) SetRetention(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retention = d
}

// Add appends measurements in arrival order.
func (w *Window) Add(ms ...types.Measurement) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range ms {
		w.data[m.Target] = append(w.data[m.Target], m)
	}
}

// Recent returns a copy of the retained measurements for target.
func (w *Window) Recent(target types.Target) []types.Measurement {
	w.mu.RLock()
	defer w.mu.RUnlock()
	src := w.data[target]
	out := make([]types.Measurement, len(src))
	copy(out, src)
	return out
}

// Targets returns the number of targets with retained measurements.
func (w *Window) Targets() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.data)
}

// Evict drops measurements with a timestamp at or before now minus the
// retention and returns how many were removed.
func (w *Window) Evict(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-w.retention)
	removed := 0
	for t, ms := range w.data {
		i := 0
		for i < len(ms) && !ms[i].Timestamp.After(cutoff) {
			i++
		}
		removed += i
		if i == len(ms) {
			delete(w.data, t)
			continue
		}
		if i > 0 {
			w.data[t] = append([]types.Measurement(nil), ms[i:]...)
		}
	}
	return removed
}

// Run evicts on a ticker at half the retention (minimum 1 second) until ctx
// is cancelled.
func (w *Window) Run(ctx context.Context) {
	w.mu.RLock()
	interval := w.retention / 2
	w.mu.RUnlock()
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := w.Evict(now); n > 0 {
				slog.Debug("alarm: evicted expired measurements", "count", n)
			}
		}
	}
}
