package types

import (
	"math"
	"strings"
	"time"
)

// Target is the URL of one probed endpoint.
type Target string

// Valid reports whether the target is non-blank.
func (t Target) Valid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// MetricKind names one of the series derived from a Measurement. It is also
// the routing key for alarm notifications.
type MetricKind string

const (
	Availability MetricKind = "Availability"
	Latency      MetricKind = "Latency"
)

// MetricKinds is the fixed, ordered set of kinds every target produces.
var MetricKinds = []MetricKind{Availability, Latency}

// Unit returns the time-series unit name for the kind.
func (k MetricKind) Unit() string {
	switch k {
	case Availability:
		return "Count"
	case Latency:
		return "Milliseconds"
	default:
		return "None"
	}
}

// Measurement is the outcome of probing one target in one cycle.
// It is created by the prober and never modified afterwards.
type Measurement struct {
	Target       Target    `json:"target_url"`
	Timestamp    time.Time `json:"timestamp"`
	Availability int       `json:"availability"` // 1 when the target answered with status < 400
	LatencyMs    *float64  `json:"latency_ms"`
	StatusCode   *int      `json:"status_code"`
	Error        string    `json:"error,omitempty"`
}

// Available reports whether the probe scored the target as up.
func (m Measurement) Available() bool {
	return m.Availability == 1
}

// Value returns the measurement's value for kind. The second result is false
// when the measurement carries no datapoint for that kind (absent latency).
func (m Measurement) Value(kind MetricKind) (float64, bool) {
	switch kind {
	case Availability:
		return float64(m.Availability), true
	case Latency:
		if m.LatencyMs == nil {
			return 0, false
		}
		return *m.LatencyMs, true
	default:
		return 0, false
	}
}

// Point is one sample written to a time-series store.
type Point struct {
	Namespace  string            `json:"namespace"`
	MetricName string            `json:"metric_name"`
	Dimensions map[string]string `json:"dimensions"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SiteDimension is the dimension name carrying the target URL.
const SiteDimension = "Site"

// Points converts m into one point per MetricKind. An absent latency is
// written as 0 so every measurement produces the same pair of series.
func (m Measurement) Points(namespace string) []Point {
	out := make([]Point, 0, len(MetricKinds))
	for _, kind := range MetricKinds {
		v, _ := m.Value(kind)
		out = append(out, Point{
			Namespace:  namespace,
			MetricName: string(kind),
			Dimensions: map[string]string{SiteDimension: string(m.Target)},
			Value:      v,
			Unit:       kind.Unit(),
			Timestamp:  m.Timestamp,
		})
	}
	return out
}

// RoundMs rounds a duration to milliseconds with two decimals.
func RoundMs(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
