// Package alarmlog keeps a durable, idempotent log of alarm transitions.
//
// Each event becomes one Entry keyed by
//
//	partition = <target>#<metric_kind>
//	sort key  = event timestamp, RFC3339 with fixed nanoseconds, UTC
//
// and is written with an upsert, so redelivering an event converges on the
// same row. Reasons are cut to reason_max_len characters (500 by default).
//
// GormTable stores entries in SQLite, PostgreSQL or MySQL through gorm,
// using ON CONFLICT (pk, sk) DO UPDATE. DecodeEvent also accepts
// CloudWatch-style alarm JSON and raw text, for messages that did not come
// from this agent.
package alarmlog
