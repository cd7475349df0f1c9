// Package pipeline runs one scheduling tick of the canary.
//
// Tick reads the current config from the Holder, resolves the environment
// parameters, re-reads the target list, runs the probe cycle, publishes the
// measurements, appends them to the evaluation window, derives the alarm
// rules for the current targets and evaluates them. Transitions are routed
// by the evaluator itself.
//
// A missing or malformed target list fails only that tick, with
// Result{OK:false, Error:...}. The next tick starts fresh.
package pipeline
