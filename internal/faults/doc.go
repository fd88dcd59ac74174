// Package faults holds the error taxonomy of the reconciliation cycle and the
// context helpers that tag work with run, stage and correlation identifiers.
//
// Errors are wrapped with one of the sentinel markers so callers can classify
// them with errors.Is or KindOf regardless of how many layers added context.
package faults
