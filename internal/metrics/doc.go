// Package metrics exposes the Prometheus instruments of the reconciliation
// cycle and the notification dispatcher.
//
// An Emitter owns its own registry; nothing is registered globally. All
// methods are safe on a nil *Emitter so components can run without metrics.
// Reset rebuilds every instrument and is meant for tests.
package metrics
