package preflight

import (
	"context"

	"stockwatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is satisfied by the state store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
// store may be nil when the store could not be opened; the check then fails.
func RunAll(ctx context.Context, cfg *config.Config, store Pinger) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// State directory (always checked)
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckStore(ctx, store))

	n := cfg.Notifications
	if n.Discord.WebhookURL != "" {
		results = append(results, CheckWebhook(ctx, "Discord webhook", n.Discord.WebhookURL))
	}
	if n.AlertWebhookURL != "" && n.AlertWebhookURL != n.Discord.WebhookURL {
		results = append(results, CheckWebhook(ctx, "Alert webhook", n.AlertWebhookURL))
	}
	if n.Ntfy.Topic != "" {
		results = append(results, CheckWebhook(ctx, "ntfy topic", n.Ntfy.Topic))
	}
	if n.Redis.URL != "" {
		results = append(results, CheckRedis(ctx, n.Redis.URL))
	}
	if !cfg.HasChannels() {
		results = append(results, Result{Name: "Notification channels", Passed: true, Detail: "none configured (changes are recorded only)"})
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
