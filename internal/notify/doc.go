// Package notify delivers change events and cycle alerts to the configured
// channels.
//
// A Channel sends one rendered Message. The Dispatcher wraps every channel in
// a retry policy and a per-channel circuit breaker, delivers events in order
// on each channel and fans out across channels with a bounded errgroup.
// Delivery is best effort: exhaustion is logged and counted, never returned
// to the caller as a cycle failure.
//
// Channels:
//   - DiscordChannel posts embeds to a webhook and honors Retry-After on 429
//   - NtfyChannel posts plain text with ntfy headers
//   - RedisChannel publishes JSON envelopes on a pub/sub channel
package notify
