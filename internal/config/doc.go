// Package config loads, validates, and defaults scour's TOML configuration.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Remote: task execution service endpoint, token, timeouts
//   - Queue: drain batch sizing, retry budget, retention window
//   - Pipeline: batching, oversampling, viability thresholds, task refs
//   - Credits: reservation rate for proration
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
package config
