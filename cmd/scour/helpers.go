package main

import (
	"scour/internal/config"
	"scour/internal/queue"
)

func openStore(cfg *config.Config) (*queue.Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

func truncate(value string, max int) string {
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
