// Package cycle runs one reconciliation cycle end to end.
//
// The Orchestrator walks FETCHED → DIFFED → PERSISTED → NOTIFIED →
// RECORDED → DONE. Every stage runs under the cycle deadline, inside its own
// trace span and with panic recovery, so a stage failure turns into a
// degraded continuation instead of escaping RunOnce:
//
//   - a failed fetch skips diffing and persistence, raises a warning alert
//     and finishes the run as partial_failure
//   - a store failure discards the change set, raises a critical alert and
//     finishes the run as failure
//   - delivery failures are counted but never change the run status
//   - an exceeded deadline aborts the remaining stages and finishes the run
//     as failure
//
// Only one cycle runs at a time: an in-process mutex plus an advisory file
// lock in the state directory. A second caller gets ErrCycleInProgress
// immediately.
package cycle
