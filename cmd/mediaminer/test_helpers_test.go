package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediaminer/internal/config"
	"mediaminer/internal/logging"
	"mediaminer/internal/providers"
	"mediaminer/internal/testsupport"
	"mediaminer/internal/transport"
)

var testCredentials = map[string]string{
	"MM_TEST_KEY_1": "secret-one",
	"MM_TEST_KEY_2": "secret-two",
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithProviders(
			config.Provider{
				Name:          "primary",
				Priority:      1,
				Family:        "chat_completion",
				Model:         "primary-model",
				CredentialEnv: []string{"MM_TEST_KEY_1", "MM_TEST_KEY_2"},
				BaseURL:       "http://127.0.0.1:9/v1",
			},
			config.Provider{
				Name:     "local",
				Priority: 2,
				Family:   "local",
				Model:    "local-model",
				BaseURL:  "http://127.0.0.1:9/v1",
			},
		),
		testsupport.WithCredentials(testCredentials),
	)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// runCLI executes the root command with stub transports for both families
// used by the test config.
func runCLI(t *testing.T, env cliTestEnv, chat, local transport.Transport, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return runCLIContext(t, context.Background(), env, chat, local, stdin, args...)
}

func runCLIContext(t *testing.T, ctx context.Context, env cliTestEnv, chat, local transport.Transport, stdin string, args ...string) (string, string, error) {
	t.Helper()
	opts := []contextOption{withLogger(logging.NewNop())}
	if chat != nil {
		opts = append(opts, withTransport(providers.FamilyChatCompletion, chat))
	}
	if local != nil {
		opts = append(opts, withTransport(providers.FamilyLocal, local))
	}
	cmd := newRootCommand(opts...)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	flags := []string{}
	if env.configPath != "" {
		flags = append(flags, "--config", env.configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	for key := range testCredentials {
		if _, set := os.LookupEnv(key); set {
			t.Fatalf("%s was exported into the process environment", key)
		}
	}
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func reply(text string) transport.Func {
	return func(ctx context.Context, target transport.Target, req transport.Request) (string, error) {
		return text, nil
	}
}

func failing(kind string) transport.Func {
	return func(ctx context.Context, target transport.Target, req transport.Request) (string, error) {
		switch kind {
		case "unavailable":
			return "", transport.Unavailable(target.Provider, context.DeadlineExceeded)
		default:
			return "", transport.Transient(target.Provider, 500, context.DeadlineExceeded)
		}
	}
}
