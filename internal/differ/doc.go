// Package differ compares a fresh observation against persisted state and
// classifies every difference into at most one change per item code.
//
// Diff is pure: it reads the previous state map and the observation and
// returns the change set plus the item rows to upsert. It never infers
// SOLDOUT from a missing code, and an observation flagged incomplete cannot
// produce SOLDOUT at all.
package differ
