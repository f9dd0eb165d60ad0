package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mediaminer/internal/config"
	"mediaminer/internal/dispatch"
	"mediaminer/internal/logging"
	"mediaminer/internal/providers"
	"mediaminer/internal/throttle"
	"mediaminer/internal/transport"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	log        *slog.Logger
	logErr     error

	// transports replace the stock adapters per family.
	transports map[providers.Family]transport.Transport
}

type contextOption func(*commandContext)

func withLogger(logger *slog.Logger) contextOption {
	return func(c *commandContext) {
		c.loggerOnce.Do(func() { c.log = logger })
	}
}

func withTransport(family providers.Family, t transport.Transport) contextOption {
	return func(c *commandContext) {
		c.transports[family] = t
	}
}

func newCommandContext(configFlag *string, opts ...contextOption) *commandContext {
	c := &commandContext{
		configFlag: configFlag,
		transports: map[providers.Family]transport.Transport{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
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

func (c *commandContext) logger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logErr = err
			return
		}
		c.log, c.logErr = logging.NewFromConfig(cfg)
	})
	return c.log, c.logErr
}

// dispatcher wires a fresh dispatcher from configuration. Each call gets its
// own concurrency controller.
func (c *commandContext) dispatcher() (*dispatch.Dispatcher, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	registry, err := providers.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	controller := throttle.New(
		throttle.WithBounds(cfg.Dispatch.MinWorkers, cfg.Dispatch.MaxWorkers),
		throttle.WithLogger(logger),
	)

	var launcher transport.BringUpper
	if cfg.LocalServer.AutoStart {
		launcher = transport.NewLauncher(cfg.LocalServer,
			transport.WithLauncherLogger(logger),
			transport.WithCommandEnv(func() map[string]string {
				values, err := cfg.Credentials()
				if err != nil {
					logger.Warn("credentials unavailable to local server commands", logging.Error(err))
				}
				return values
			}),
		)
	}
	opts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithLookup(providers.EnvLookup(cfg.Paths.CredentialsFile)),
		dispatch.WithTransport(providers.FamilyLocal, transport.NewLocal(launcher, logger)),
	}
	for family, t := range c.transports {
		opts = append(opts, dispatch.WithTransport(family, t))
	}
	return dispatch.New(registry, controller, opts...)
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
