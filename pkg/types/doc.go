// Package types defines the Go types shared by the canary agent and the
// metric server: the probe Target, the per-cycle Measurement, the two metric
// kinds the pipeline alarms on, and the Point written to a time-series store.
//
// These are the canonical in-memory representations; pkg/wire carries Points
// between processes.
package types
