package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateCredits(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.RequestTimeout <= 0 {
		return errors.New("remote.request_timeout must be positive")
	}
	if c.Remote.AwaitTimeout <= 0 {
		return errors.New("remote.await_timeout must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxRetries < 1 {
		return errors.New("queue.max_retries must be at least 1")
	}
	if c.Queue.DrainBatchLimit < 1 {
		return errors.New("queue.drain_batch_limit must be at least 1")
	}
	if c.Queue.DrainSessionLimit < 0 {
		return errors.New("queue.drain_session_limit must not be negative")
	}
	if c.Queue.DrainSessionLimit > c.Queue.DrainBatchLimit {
		return fmt.Errorf("queue.drain_session_limit (%d) must not exceed queue.drain_batch_limit (%d)",
			c.Queue.DrainSessionLimit, c.Queue.DrainBatchLimit)
	}
	if c.Queue.RetentionHours < 1 {
		return errors.New("queue.retention_hours must be at least 1")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.PageSize < 1 {
		return errors.New("pipeline.page_size must be at least 1")
	}
	if c.Pipeline.MaxKeywords < 1 {
		return errors.New("pipeline.max_keywords must be at least 1")
	}
	if c.Pipeline.Oversample < 1.0 {
		return errors.New("pipeline.oversample must be at least 1.0")
	}
	if c.Pipeline.MinDiscovery < 0 {
		return errors.New("pipeline.min_discovery must not be negative")
	}
	if c.Pipeline.BackfillRounds < 0 {
		return errors.New("pipeline.backfill_rounds must not be negative")
	}
	return nil
}

func (c *Config) validateCredits() error {
	if c.Credits.PerPage < 0 {
		return errors.New("credits.per_page must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
