package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mediaminer/internal/config"
	"mediaminer/internal/fileutil"
	"mediaminer/internal/knowledge"
)

func newPolishCommand(ctx *commandContext) *cobra.Command {
	var (
		noLLM      bool
		outputPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "polish [file]",
		Short: "Clean raw captions into a readable transcript",
		Long: "Strip caption metadata from a transcript, merge and punctuate it through\n" +
			"the provider list, and map Simplified Chinese terms to Taiwan usage.\n\n" +
			"The transcript is read from the file argument, or from stdin when no\n" +
			"argument is given or the argument is \"-\".",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readTranscript(cmd, args)
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			var gen knowledge.Generator
			if !noLLM {
				d, err := ctx.dispatcher()
				if err != nil {
					return err
				}
				gen = d
			}

			out, err := knowledge.NewPolisher(gen, logger).Polish(cmd.Context(), raw, !noLLM)
			if err != nil {
				return err
			}

			if outputPath != "" {
				path, err := config.ExpandPath(outputPath)
				if err != nil {
					return fmt.Errorf("resolve output path: %w", err)
				}
				if err := fileutil.WriteFileAtomic(path, []byte(out.Text+"\n"), 0o644); err != nil {
					return fmt.Errorf("write polished transcript: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s)\n", path, out.Language)
				return nil
			}
			if asJSON {
				return writeJSON(cmd, out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Text)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noLLM, "no-llm", false, "Only strip metadata and convert terms; skip the model rewrite")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the polished transcript to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print text, language and provider as JSON")
	return cmd
}

func readTranscript(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("transcript is empty")
	}
	return string(data), nil
}
