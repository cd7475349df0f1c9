package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "canary"

// Stats holds the agent's self-observability counters. Every failure class
// of the pipeline that is logged and swallowed is also counted here.
type Stats struct {
	ProbesTotal            *prometheus.CounterVec
	CycleDuration          prometheus.Histogram
	CyclesSkippedTotal     prometheus.Counter
	ConfigErrorsTotal      prometheus.Counter
	PublishFailuresTotal   *prometheus.CounterVec
	AlarmTransitionsTotal  *prometheus.CounterVec
	StateErrorsTotal       *prometheus.CounterVec
	NotifyTotal            *prometheus.CounterVec
	NotifyErrorsTotal      *prometheus.CounterVec
	AlarmLogFailuresTotal  prometheus.Counter
	QueueRedrivesTotal     *prometheus.CounterVec
	RemoteBufferEvictTotal prometheus.Counter
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Number of probes by result (up, down).",
		}, []string{"result"}),

		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one probe cycle.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		CyclesSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Number of ticks skipped because a cycle was still in flight.",
		}),

		ConfigErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_errors_total",
			Help:      "Number of cycles aborted by a configuration error.",
		}),

		PublishFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_publish_failures_total",
			Help:      "Number of metric batches a store failed to accept.",
		}, []string{"store"}),

		AlarmTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_transitions_total",
			Help:      "Number of alarm state transitions by metric kind and new state.",
		}, []string{"kind", "state"}),

		NotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_total",
			Help:      "Number of alarm events delivered per channel.",
		}, []string{"channel"}),

		NotifyErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Number of failed alarm event deliveries per channel.",
		}, []string{"channel"}),

		AlarmLogFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_log_write_failures_total",
			Help:      "Number of alarm log entries that could not be written.",
		}),

		QueueRedrivesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_redrives_total",
			Help:      "Number of unacknowledged queue messages moved back for redelivery.",
		}, []string{"queue"}),

		StateErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_state_errors_total",
			Help:      "Number of failed alarm state store operations.",
		}, []string{"op"}),

		RemoteBufferEvictTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_buffer_evictions_total",
			Help:      "Number of metric batches evicted from the remote store buffer.",
		}),
	}

	reg.MustRegister(
		s.ProbesTotal,
		s.CycleDuration,
		s.CyclesSkippedTotal,
		s.ConfigErrorsTotal,
		s.PublishFailuresTotal,
		s.AlarmTransitionsTotal,
		s.StateErrorsTotal,
		s.NotifyTotal,
		s.NotifyErrorsTotal,
		s.AlarmLogFailuresTotal,
		s.QueueRedrivesTotal,
		s.RemoteBufferEvictTotal,
	)
	return s
}

// Discard returns Stats registered on a private registry, for callers that
// do not expose metrics.
func Discard() *Stats {
	return New(prometheus.NewRegistry())
}
