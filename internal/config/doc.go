// Package config loads, normalizes, and validates stockwatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// DATABASE_URL and DISCORD_WEBHOOK_URL (each with a _FILE variant for secrets
// mounted as files). The Config type centralizes every knob the cycle, the
// notification channels and the CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors. Every
// validation failure is tagged with faults.ErrConfig and is fatal at startup.
package config
