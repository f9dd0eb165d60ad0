package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"mediaminer/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Local server auto start is off so tests never spawn real commands.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.CredentialsFile = filepath.Join(base, "api_keys.env")
	cfgVal.Batch.InputDir = filepath.Join(base, "in")
	cfgVal.Batch.OutputDir = filepath.Join(base, "out")
	cfgVal.Server.Bind = "127.0.0.1:17580"
	cfgVal.LocalServer.AutoStart = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithProviders replaces the provider list.
func WithProviders(providers ...config.Provider) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Providers = providers
	}
}

// WithCredentials writes a dotenv credentials file holding values.
func WithCredentials(values map[string]string) ConfigOption {
	return func(b *configBuilder) {
		var content []byte
		for key, value := range values {
			content = append(content, []byte(key+"="+value+"\n")...)
		}
		if err := os.WriteFile(b.cfg.Paths.CredentialsFile, content, 0o600); err != nil {
			b.t.Fatalf("write credentials: %v", err)
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, "lms" is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"lms"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
