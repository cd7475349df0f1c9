// Package store provides the receiver's in-memory time-series store, keyed
// by (namespace, metric name, dimensions) with per-series sample caps and
// idle-TTL eviction.
package store
