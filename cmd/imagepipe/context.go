package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"imagepipe/internal/apiclient"
	"imagepipe/internal/config"
)

type commandContext struct {
	serverFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) client() (*apiclient.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	server := ""
	if c.serverFlag != nil {
		server = *c.serverFlag
	}
	return apiclient.FromConfig(cfg, server), nil
}

// wrapClientError turns transport failures into a hint about starting the daemon.
func wrapClientError(client *apiclient.Client, err error) error {
	if err == nil {
		return nil
	}
	if apiclient.IsUnavailable(err) {
		return fmt.Errorf("connect to daemon at %s: not running; start it with `imagepipe serve`", client.BaseURL())
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
