// Package cycle runs one probe cycle over the current target set.
//
// Runner.RunCycle fans the targets out to a Prober through an errgroup
// capped at the configured concurrency, waits for the full batch, and
// returns the Measurements in target order. A second call while one is
// running fails fast with ErrCycleInFlight; the scheduler additionally
// skips overlapping ticks.
package cycle
