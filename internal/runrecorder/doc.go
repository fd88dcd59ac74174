// Package runrecorder opens and closes the audit row of every cycle.
//
// Start inserts a running row before any other stage executes. Finish writes
// the terminal status, change count and a JSON summary exactly once per run.
// AbandonStale closes rows left running by a process that died mid-cycle.
package runrecorder
