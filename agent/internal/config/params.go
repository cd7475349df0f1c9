package config

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"
)

// Environment variables read at the start of every cycle.
const (
	EnvNamespace          = "METRIC_NAMESPACE"
	EnvLatencyThresholdMs = "LATENCY_THRESHOLD_MS"
	EnvProbeTimeoutSecs   = "PROBE_TIMEOUT_SECONDS"
)

// Params are the per-cycle parameters consumed by the pipeline core.
type Params struct {
	Namespace          string
	LatencyThresholdMs float64
	ProbeTimeout       time.Duration
}

// ResolveParams merges the environment over c. Env values win over the
// file; unparsable, non-finite or out-of-range env values are logged and
// ignored.
func ResolveParams(c CanaryConfig) Params {
	return resolveParams(c, os.LookupEnv)
}

func resolveParams(c CanaryConfig, lookup func(string) (string, bool)) Params {
	p := Params{
		Namespace:          c.Namespace,
		LatencyThresholdMs: c.LatencyThresholdMs,
		ProbeTimeout:       c.ProbeTimeout,
	}
	if p.Namespace == "" {
		p.Namespace = DefaultNamespace
	}
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = DefaultProbeTimeout
	}

	if v, ok := lookup(EnvNamespace); ok && v != "" {
		p.Namespace = v
	}
	if v, ok := lookup(EnvLatencyThresholdMs); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !finite(f) || f < 0 {
			slog.Warn("config: ignoring invalid env value", "name", EnvLatencyThresholdMs, "value", v)
		} else {
			p.LatencyThresholdMs = f
		}
	}
	if v, ok := lookup(EnvProbeTimeoutSecs); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !finite(f) || f <= 0 || f > maxTimeoutSecs {
			slog.Warn("config: ignoring invalid env value", "name", EnvProbeTimeoutSecs, "value", v)
		} else {
			p.ProbeTimeout = time.Duration(f * float64(time.Second))
		}
	}
	return p
}

// maxTimeoutSecs keeps the timeout within time.Duration.
const maxTimeoutSecs = float64(math.MaxInt64 / int64(time.Second))

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
