package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Queue.DrainSessionLimit > cfg.Queue.DrainBatchLimit {
		t.Fatal("session limit must fit in the batch limit")
	}
	if cfg.Pipeline.Oversample < 1.0 {
		t.Fatalf("oversample below 1.0: %v", cfg.Pipeline.Oversample)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("file does not exist")
	}
	if resolved != path {
		t.Fatalf("resolved path %q, want %q", resolved, path)
	}
	if cfg.Queue.MaxRetries != 3 || cfg.Pipeline.PageSize != 30 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadOverridesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `"

[queue]
max_retries = 5
drain_batch_limit = 50

[pipeline]
min_discovery = 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected the file to be found")
	}
	if cfg.Queue.MaxRetries != 5 || cfg.Queue.DrainBatchLimit != 50 {
		t.Fatalf("overrides not applied: %+v", cfg.Queue)
	}
	if cfg.Pipeline.MinDiscovery != 10 {
		t.Fatalf("pipeline override not applied: %+v", cfg.Pipeline)
	}
	// Untouched sections keep their defaults.
	if cfg.Pipeline.PageSize != 30 || cfg.Credits.PerPage != 100 {
		t.Fatalf("defaults lost on partial override: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[queue]
drain_session_limit = 40
drain_batch_limit = 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := Load(path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "drain_session_limit") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoteTokenFromEnvironment(t *testing.T) {
	t.Setenv("SCOUR_REMOTE_TOKEN", "env-token")

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.APIToken != "env-token" {
		t.Fatalf("expected env token, got %q", cfg.Remote.APIToken)
	}
}

func TestRemoteTokenFileWins(t *testing.T) {
	t.Setenv("SCOUR_REMOTE_TOKEN", "env-token")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[remote]
api_token = "file-token"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Remote.APIToken != "file-token" {
		t.Fatalf("explicit config wins over the environment, got %q", cfg.Remote.APIToken)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/var/lib/scour"
	if got := cfg.DatabasePath(); got != "/var/lib/scour/queue.db" {
		t.Fatalf("DatabasePath = %q", got)
	}
	if got := cfg.LockPath(); got != "/var/lib/scour/scourd.lock" {
		t.Fatalf("LockPath = %q", got)
	}
}
