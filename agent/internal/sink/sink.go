package sink

import (
	"context"
	"log/slog"

	"github.com/webhealth/canary/agent/internal/stats"
	"github.com/webhealth/canary/pkg/types"
)

// Store is a time-series backend that accepts metric points.
type Store interface {
	// Name labels the store in logs and in canary_metric_publish_failures_total.
	Name() string
	PutMetricData(ctx context.Context, points []types.Point) error
}

// Result reports the outcome of one Publish call. Failures are keyed by
// store name.
type Result struct {
	Points   int
	Failures map[string]error
}

// OK reports whether every store accepted the points.
func (r Result) OK() bool { return len(r.Failures) == 0 }

// Sink converts measurements to points and writes them to every store.
type Sink struct {
	stores []Store
	stats  *stats.Stats
}

// New returns a Sink writing to stores in order.
func New(st *stats.Stats, stores ...Store) *Sink {
	return &Sink{stores: stores, stats: st}
}

// Publish writes two points per measurement (Availability and Latency) under
// namespace. A store failure is logged and counted, never returned: the
// cycle's measurements remain valid whether or not they were stored.
func (s *Sink) Publish(ctx context.Context, namespace string, ms []types.Measurement) Result {
	points := make([]types.Point, 0, len(ms)*len(types.MetricKinds))
	for _, m := range ms {
		points = append(points, m.Points(namespace)...)
	}
	res := Result{Points: len(points)}
	if len(points) == 0 {
		return res
	}

	for _, st := range s.stores {
		if err := st.PutMetricData(ctx, points); err != nil {
			if res.Failures == nil {
				res.Failures = make(map[string]error)
			}
			res.Failures[st.Name()] = err
			s.stats.PublishFailuresTotal.WithLabelValues(st.Name()).Inc()
			slog.Warn("sink: publish failed", "store", st.Name(), "points", len(points), "err", err)
			continue
		}
		slog.Debug("sink: published", "store", st.Name(), "points", len(points))
	}
	return res
}
