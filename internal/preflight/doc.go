// Package preflight provides readiness checks for the state directory, the
// state store and the configured notification targets.
//
// These checks back the CLI "stockwatch doctor" command and the status API
// health endpoint. Each target check is gated by its configuration: an
// unconfigured channel is skipped, not failed.
package preflight
