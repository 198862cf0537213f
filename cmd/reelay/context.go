package main

import (
	"strings"

	"reelay/internal/config"
)

// commandContext resolves shared CLI state lazily: the configuration file
// and the daemon address derived from it.
type commandContext struct {
	addressFlag *string
	configFlag  *string

	cfg *config.Config
}

func newCommandContext(addressFlag, configFlag *string) *commandContext {
	return &commandContext{
		addressFlag: addressFlag,
		configFlag:  configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// address picks the daemon API address: the explicit flag wins, then the
// configuration file, then the built-in default.
func (c *commandContext) address() string {
	if c.addressFlag != nil {
		if addr := strings.TrimSpace(*c.addressFlag); addr != "" {
			return addr
		}
	}
	if cfg, err := c.ensureConfig(); err == nil {
		if addr := strings.TrimSpace(cfg.Paths.APIBind); addr != "" {
			return addr
		}
	}
	return config.Default().Paths.APIBind
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.address())
}
