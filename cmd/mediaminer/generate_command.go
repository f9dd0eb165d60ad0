package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mediaminer/internal/dispatch"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		systemPrompt string
		maxTokens    int
		temperature  float64
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Send one prompt through the provider list",
		Long: "Send one prompt through the provider list.\n\n" +
			"The prompt is taken from the arguments, or from stdin when no argument\n" +
			"is given or the argument is \"-\".",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			prompt, err := readPrompt(cmd, args)
			if err != nil {
				return err
			}

			d, err := ctx.dispatcher()
			if err != nil {
				return err
			}

			req := dispatch.Request{
				Prompt:       prompt,
				SystemPrompt: systemPrompt,
				MaxTokens:    cfg.Dispatch.DefaultMaxTokens,
				Temperature:  cfg.Dispatch.DefaultTemperature,
			}
			if cmd.Flags().Changed("max-tokens") {
				req.MaxTokens = maxTokens
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = temperature
			}

			result, err := d.Generate(cmd.Context(), req)
			if err != nil {
				var exhausted *dispatch.ExhaustedError
				if errors.As(err, &exhausted) {
					for _, attempt := range exhausted.Attempts {
						credential := attempt.Credential
						if credential == "" {
							credential = "-"
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s [%s]: %s\n", attempt.Provider, credential, attemptSummary(attempt))
					}
				}
				return err
			}

			if asJSON {
				return writeJSON(cmd, result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			fmt.Fprintf(cmd.ErrOrStderr(), "provider: %s (%s)\n", result.Provider, result.Model)
			return nil
		},
	}

	cmd.Flags().StringVar(&systemPrompt, "system", "", "System prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens to generate (default from config)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is required (argument or stdin)")
	}
	return prompt, nil
}

func attemptSummary(a dispatch.Attempt) string {
	if a.Skipped != "" {
		return "skipped: " + a.Skipped
	}
	if a.Kind != "" {
		return a.Kind + ": " + a.Error
	}
	return a.Error
}
