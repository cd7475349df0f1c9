// Package stats defines the Prometheus counters the agent exports on /metrics.
package stats
