package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reelsmith/internal/config"
	"reelsmith/internal/daemon"
	"reelsmith/internal/daemonctl"
	"reelsmith/internal/logging"
)

type commandContext struct {
	configFlag   *string
	jsonFlag     *bool
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		jsonFlag:     jsonFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
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

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.logLevelFlag)
}

// localLogger logs in-process work to stderr so stdout stays parseable.
// Quiet by default; --log-level raises it.
func (c *commandContext) localLogger() *slog.Logger {
	level := c.logLevel()
	if level == "" {
		level = "warn"
	}
	format := "console"
	if c.config != nil && c.config.Logging.Format != "" {
		format = c.config.Logging.Format
	}
	logger, err := logging.New(logging.Options{Level: level, Format: format, OutputPaths: []string{"stderr"}})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// remoteClient returns a daemon API client when a daemon holds the instance
// lock, or nil when commands should run in-process.
func (c *commandContext) remoteClient() (*daemonctl.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	running, err := daemonctl.Running(cfg)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, nil
	}
	client, err := daemonctl.NewClient(cfg)
	if errors.Is(err, daemonctl.ErrAPIDisabled) {
		return nil, fmt.Errorf("a reelsmith daemon is running without an API; set paths.api_bind or stop it first")
	}
	return client, err
}

// withLocal builds the daemon components in-process under the instance lock.
func (c *commandContext) withLocal(fn func(daemon.Components) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	unlock, err := daemonctl.Lock(cfg)
	if err != nil {
		return err
	}
	defer unlock()

	comps, err := daemon.Build(cfg, c.localLogger())
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(comps)
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
