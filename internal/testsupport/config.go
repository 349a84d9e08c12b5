package testsupport

import (
	"path/filepath"
	"testing"

	"scour/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Remote.BaseURL = "http://127.0.0.1:0"
	cfg.Remote.APIToken = "test-token"
	cfg.Pipeline.DiscoveryTaskRef = "tasks/discovery"
	cfg.Pipeline.DetailsTaskRef = "tasks/details"
	cfg.Pipeline.ProfilesTaskRef = "tasks/profiles"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithBackfillRounds enables the profile backfill loop on the test config.
func WithBackfillRounds(rounds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.BackfillRounds = rounds
	}
}

// WithMaxRetries overrides the default retry budget on the test config.
func WithMaxRetries(retries int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxRetries = retries
	}
}
