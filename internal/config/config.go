package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and credential file locations.
type Paths struct {
	DataDir         string `toml:"data_dir"`
	LogDir          string `toml:"log_dir"`
	CredentialsFile string `toml:"credentials_file"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" validate:"oneof=console json"`
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
}

// Dispatch contains the adaptive concurrency bounds and request defaults.
type Dispatch struct {
	MinWorkers         int     `toml:"min_workers" validate:"gte=1"`
	MaxWorkers         int     `toml:"max_workers" validate:"gte=1"`
	DefaultMaxTokens   int     `toml:"default_max_tokens" validate:"gt=0"`
	DefaultTemperature float64 `toml:"default_temperature" validate:"gte=0"`
	TimeoutSeconds     int     `toml:"timeout_seconds" validate:"gt=0"`
}

// LocalServer describes how to bring up the self-hosted model server when it
// is not reachable. Command arguments may reference {model}.
type LocalServer struct {
	AutoStart           bool     `toml:"auto_start"`
	StartCommand        []string `toml:"start_command"`
	LoadCommand         []string `toml:"load_command"`
	StartTimeoutSeconds int      `toml:"start_timeout_seconds" validate:"gt=0"`
	LoadTimeoutSeconds  int      `toml:"load_timeout_seconds" validate:"gt=0"`
	SettleSeconds       int      `toml:"settle_seconds" validate:"gte=0"`
}

// Batch contains configuration for the knowledge extraction batch driver.
type Batch struct {
	InputDir           string `toml:"input_dir"`
	OutputDir          string `toml:"output_dir"`
	RequestIntervalMS  int    `toml:"request_interval_ms" validate:"gte=0"`
	MinTranscriptChars int    `toml:"min_transcript_chars" validate:"gte=0"`
	MaxPromptChars     int    `toml:"max_prompt_chars" validate:"gt=0"`
	MaxTokens          int    `toml:"max_tokens" validate:"gt=0"`
}

// Server contains configuration for the HTTP surface.
type Server struct {
	Bind string `toml:"bind" validate:"required,hostname_port"`
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string `toml:"token"`
}

// Provider is one [[providers]] entry.
type Provider struct {
	Name           string            `toml:"name" validate:"required"`
	Priority       int               `toml:"priority" validate:"gte=0"`
	Family         string            `toml:"family" validate:"oneof=chat_completion gemini local"`
	Model          string            `toml:"model" validate:"required"`
	CredentialEnv  []string          `toml:"credential_env" validate:"dive,required"`
	BaseURL        string            `toml:"base_url" validate:"omitempty,url"`
	TimeoutSeconds int               `toml:"timeout_seconds" validate:"gte=0"`
	Headers        map[string]string `toml:"headers"`
}

// Config encapsulates all configuration values for MediaMiner.
//
// Configuration sections by subsystem:
//   - Paths: data, log and credential file locations
//   - Logging: log format and level
//   - Dispatch: worker bounds and generate defaults
//   - LocalServer: lazy bring-up of the self-hosted model server
//   - Batch: knowledge extraction batch driver
//   - Server: HTTP bind address
//   - Providers: ordered LLM provider list
type Config struct {
	Paths       Paths       `toml:"paths"`
	Logging     Logging     `toml:"logging"`
	Dispatch    Dispatch    `toml:"dispatch"`
	LocalServer LocalServer `toml:"local_server"`
	Batch       Batch       `toml:"batch"`
	Server      Server      `toml:"server"`
	Providers   []Provider  `toml:"providers" validate:"dive"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mediaminer/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	// A file that declares any [[providers]] replaces the built-in list.
	builtin := cfg.Providers
	cfg.Providers = nil

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = builtin
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaminer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// BatchDBPath returns the location of the batch progress database.
func (c *Config) BatchDBPath() string {
	return filepath.Join(c.Paths.DataDir, "batch.db")
}

// Credentials reads the credentials dotenv file. The process environment is
// left untouched so a key rotated on disk is seen by the next read. A missing
// file yields an empty map.
func (c *Config) Credentials() (map[string]string, error) {
	path := strings.TrimSpace(c.Paths.CredentialsFile)
	if path == "" {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}
	return values, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
