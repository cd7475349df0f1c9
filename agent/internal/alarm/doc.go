// Package alarm evaluates threshold alarms over recent probe measurements.
//
// Each target gets two rules from DeriveRules: Availability (alarm when the
// window mean is below 1) and Latency (alarm when the window mean exceeds
// the configured threshold). Evaluate averages the rule's datapoints whose
// timestamp lies in (now-window, now]; an absent latency is not a datapoint.
// An empty window resolves through the rule's MissingDataPolicy:
//
//	notBreaching -> OK
//	breaching    -> ALARM
//	ignore       -> previous state
//	missing      -> INSUFFICIENT_DATA
//
// Every rule starts in INSUFFICIENT_DATA. An Event is emitted only when the
// state changes, so repeated breaching windows produce a single ALARM event,
// and recoveries are emitted like any other transition. Event IDs are UUIDv5
// of rule and timestamp.
//
// States are kept in a StateStore: MemoryStates for a single process, or
// RedisStates (one hash) to survive restarts. Window holds the per-target
// measurement history the evaluator reads, with TTL eviction.
package alarm
