// Package probe performs a single HTTP health probe against a target URL.
//
// Probe never returns an error. A response with status < 400 scores the
// target available (1); any status >= 400, DNS failure, refused connection,
// TLS failure or timeout scores it unavailable (0) with a short error text.
// Timeouts always read "timeout". Latency is recorded for every outcome and
// rounded to two decimals of a millisecond.
package probe
