// Package api implements the canary agent's HTTP REST API.
//
// New returns an http.Handler that serves:
//
//	GET  /api/v1/health     overall state, last tick outcome, per-state rule counts
//	GET  /api/v1/alarms     every alarm rule with its current state
//	GET  /api/v1/cycle      the most recent tick result; 404 before the first tick
//	GET  /api/v1/alarm-log  alarm log entries, newest first (?partition=&since=&limit=)
//	POST /api/v1/alarm-log  log an external alarm message (event JSON or raw text)
//
// Responses are JSON. Unsupported methods return 405.
package api
