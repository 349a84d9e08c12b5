package main

import (
	"strings"
	"sync"

	"scour/internal/config"
)

// commandContext lazily resolves configuration and the API client so that
// commands which never touch the daemon do not require a reachable API.
type commandContext struct {
	addrFlag   *string
	tokenFlag  *string
	configFlag *string

	once    sync.Once
	cfg     *config.Config
	cfgPath string
	cfgErr  error
}

func newCommandContext(addrFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		addrFlag:   addrFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = *c.configFlag
		}
		cfg, resolvedPath, _, err := config.Load(path)
		c.cfg = cfg
		c.cfgPath = resolvedPath
		c.cfgErr = err
	})
	return c.cfg, c.cfgErr
}

// apiClient builds a client for the daemon API using flags first and the
// config file as fallback.
func (c *commandContext) apiClient() (*apiClient, error) {
	addr := ""
	token := ""
	if c.addrFlag != nil {
		addr = strings.TrimSpace(*c.addrFlag)
	}
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}
	if addr == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	return newAPIClient(addr, token), nil
}
