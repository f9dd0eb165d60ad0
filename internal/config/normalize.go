package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeDispatch()
	c.normalizeLocalServer()
	if err := c.normalizeBatch(); err != nil {
		return err
	}
	c.normalizeProviders()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.CredentialsFile, err = expandPath(c.Paths.CredentialsFile); err != nil {
		return fmt.Errorf("paths.credentials_file: %w", err)
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	c.Server.Token = strings.TrimSpace(c.Server.Token)
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch c.Logging.Level {
	case "":
		c.Logging.Level = defaultLogLevel
	case "warning":
		c.Logging.Level = "warn"
	}
}

func (c *Config) normalizeDispatch() {
	if c.Dispatch.DefaultMaxTokens <= 0 {
		c.Dispatch.DefaultMaxTokens = defaultMaxTokens
	}
	if c.Dispatch.TimeoutSeconds <= 0 {
		c.Dispatch.TimeoutSeconds = defaultTimeoutSeconds
	}
}

func (c *Config) normalizeLocalServer() {
	if c.LocalServer.StartTimeoutSeconds <= 0 {
		c.LocalServer.StartTimeoutSeconds = defaultStartTimeoutSeconds
	}
	if c.LocalServer.LoadTimeoutSeconds <= 0 {
		c.LocalServer.LoadTimeoutSeconds = defaultLoadTimeoutSeconds
	}
	if c.LocalServer.SettleSeconds < 0 {
		c.LocalServer.SettleSeconds = 0
	}
}

func (c *Config) normalizeBatch() error {
	var err error
	if c.Batch.InputDir, err = expandPath(c.Batch.InputDir); err != nil {
		return fmt.Errorf("batch.input_dir: %w", err)
	}
	if c.Batch.OutputDir, err = expandPath(c.Batch.OutputDir); err != nil {
		return fmt.Errorf("batch.output_dir: %w", err)
	}
	if c.Batch.MaxPromptChars <= 0 {
		c.Batch.MaxPromptChars = defaultMaxPromptChars
	}
	if c.Batch.MaxTokens <= 0 {
		c.Batch.MaxTokens = defaultBatchMaxTokens
	}
	return nil
}

func (c *Config) normalizeProviders() {
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		p.Family = strings.ToLower(strings.TrimSpace(p.Family))
		p.Model = strings.TrimSpace(p.Model)
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		envs := make([]string, 0, len(p.CredentialEnv))
		for _, name := range p.CredentialEnv {
			if name = strings.TrimSpace(name); name != "" {
				envs = append(envs, name)
			}
		}
		p.CredentialEnv = envs
	}
}
