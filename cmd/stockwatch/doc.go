// Package main hosts the stockwatch CLI entrypoint and command graph.
//
// The Cobra-based command tree feeds catalogue snapshots into a
// reconciliation cycle (run, watch), exposes run and change history (runs,
// changes, serve), and carries the operator tools: prune, test-notify,
// doctor and config scaffolding. Configuration, the state store and the
// notification dispatcher are resolved once per invocation in
// commandContext so subcommands only wire their own behavior.
package main
