package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mediaminer/internal/config"
	"mediaminer/internal/deps"
	"mediaminer/internal/providers"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the configuration file",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(statErr, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", statErr)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Put provider API keys in the file named by paths.credentials_file.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if strings.TrimSpace(flagValue) == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(strings.TrimSpace(flagValue))
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

// The validate command loads the file itself so a broken config is reported
// with its path instead of failing in the root pre-run hook.
func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration and report provider readiness",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(*ctx.configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			registry, err := providers.FromConfig(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Providers: %d\n", registry.Len())
			usable := reportReadiness(out, cfg, registry)
			if usable == 0 {
				fmt.Fprintln(out, "warning: no provider is usable; every generate call will fail")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

// reportReadiness prints a warning per provider that cannot be tried and per
// missing local server binary. It returns the number of usable providers.
func reportReadiness(out io.Writer, cfg *config.Config, registry *providers.Registry) int {
	lookup := providers.EnvLookup(cfg.Paths.CredentialsFile)
	usable := 0
	for _, d := range registry.Providers() {
		if d.RequiresCredential() && len(d.ResolveCredentials(lookup)) == 0 {
			fmt.Fprintf(out, "warning: %s has no credential set (%s)\n", d.Name, strings.Join(d.CredentialEnv, ", "))
			continue
		}
		usable++
	}
	for _, status := range deps.CheckBinaries(deps.RequirementsFromConfig(cfg.LocalServer)) {
		if !status.Available {
			fmt.Fprintf(out, "warning: %s not found; local server bring-up will fail (%s)\n", status.Command, status.Detail)
		}
	}
	return usable
}
