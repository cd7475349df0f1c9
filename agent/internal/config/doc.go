// Package config loads and watches the canary agent configuration.
//
// Top-level types:
//   - Config{Canary, Sink, Notify, AlarmLog}, parsed from YAML
//   - CanaryConfig: namespace, targets_file, schedule, probe_timeout,
//     latency_threshold_ms, concurrency, evaluation_window, missing_data,
//     user_agent, insecure_skip_verify, http_port
//   - SinkConfig: local Prometheus gauges and the remote gRPC metric server
//   - NotifyConfig: Redis connection, queue subscribers, webhooks
//   - AlarmLogConfig: gorm driver and DSN for the durable alarm log
//
// Load(path) applies defaults, unmarshals, then validates enums and ranges.
// Secrets are never stored in the file: *_env fields name environment
// variables that are read on use.
//
// ResolveParams reads METRIC_NAMESPACE, LATENCY_THRESHOLD_MS and
// PROBE_TIMEOUT_SECONDS over the file values; the pipeline calls it once at
// the start of every cycle. LoadTargets re-reads the JSON target list, also
// once per cycle.
//
// Watch(ctx, path, onChange) uses fsnotify to hot-reload the file into a
// Holder, which the pipeline reads at the start of every tick.
package config
