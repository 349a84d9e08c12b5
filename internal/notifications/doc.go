// Package notifications delivers queue events via ntfy.
//
// The service publishes to the topic configured in config.toml and degrades
// to a no-op when no topic is set, so callers never branch on whether
// notifications are enabled. Queue and session code depends only on the
// Service interface.
package notifications
