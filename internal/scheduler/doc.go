// Package scheduler runs the minute tick: it matches configured medication
// times against the wall clock, creates one pending reminder per slot and
// kicks off the missed-dose sweep and low-inventory scan on their cadences.
//
// Loop.Tick is one pass and is safe to call directly (tests, manual runs).
// Driver owns the wall-clock trigger and guarantees ticks never overlap.
package scheduler
