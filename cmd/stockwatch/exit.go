package main

import "errors"

const (
	exitOK          = 0
	exitFailure     = 1
	exitCycleFailed = 2
)

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit status. Configuration
// errors, a held cycle lock and every other command error exit 1; a cycle
// that finished as failure exits 2.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var coded *exitError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitFailure
}
