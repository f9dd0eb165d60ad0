package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaminer/internal/batch"
	"mediaminer/internal/config"
	"mediaminer/internal/knowledge"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Convert transcript notes into knowledge notes",
	}
	batchCmd.AddCommand(newBatchRunCommand(ctx))
	batchCmd.AddCommand(newBatchWatchCommand(ctx))
	batchCmd.AddCommand(newBatchStatusCommand(ctx))
	batchCmd.AddCommand(newBatchClearCommand(ctx))
	return batchCmd
}

// batchFlags are shared by batch run and batch watch.
type batchFlags struct {
	inputDir   string
	outputDir  string
	fresh      bool
	maxWorkers int
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.inputDir, "input", "", "Directory of transcript notes (default from config)")
	cmd.Flags().StringVar(&f.outputDir, "output", "", "Directory for converted notes (default from config)")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "Forget previous progress and reprocess everything")
	cmd.Flags().IntVar(&f.maxWorkers, "max-workers", 0, "Worker ceiling for each run (default dispatch.max_workers)")
}

// batchSetup is a wired runner and the options for one run.
type batchSetup struct {
	runner *batch.Runner
	opts   batch.Options
	store  *batch.Store
	logger *slog.Logger
}

func (c *commandContext) batchSetup(cmd *cobra.Command, flags *batchFlags) (*batchSetup, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	in, err := pathOrDefault(flags.inputDir, cfg.Batch.InputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve input dir: %w", err)
	}
	out, err := pathOrDefault(flags.outputDir, cfg.Batch.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if in == "" || out == "" {
		return nil, errors.New("input and output directories are required")
	}
	if in == out {
		return nil, errors.New("input and output directories must differ")
	}
	maxWorkers := flags.maxWorkers
	if !cmd.Flags().Changed("max-workers") {
		maxWorkers = cfg.Dispatch.MaxWorkers
	}

	d, err := c.dispatcher()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}

	store, err := batch.Open(cfg.BatchDBPath())
	if err != nil {
		return nil, err
	}

	extractor := knowledge.NewExtractor(d,
		knowledge.WithMaxTokens(cfg.Batch.MaxTokens),
		knowledge.WithSampleChars(cfg.Batch.MaxPromptChars),
		knowledge.WithLogger(logger),
	)
	return &batchSetup{
		runner: batch.NewRunner(store, extractor, d.Controller(), batch.WithRunnerLogger(logger)),
		opts: batch.Options{
			InputDir:           in,
			OutputDir:          out,
			Fresh:              flags.fresh,
			MaxWorkers:         maxWorkers,
			RequestInterval:    time.Duration(cfg.Batch.RequestIntervalMS) * time.Millisecond,
			MinTranscriptChars: cfg.Batch.MinTranscriptChars,
		},
		store:  store,
		logger: logger,
	}, nil
}

func newBatchRunCommand(ctx *commandContext) *cobra.Command {
	var (
		flags  batchFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every pending note in the input directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			setup, err := ctx.batchSetup(cmd, &flags)
			if err != nil {
				return err
			}
			defer setup.store.Close()

			summary, err := setup.runner.Run(cmd.Context(), setup.opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, summary)
			}
			printSummary(cmd, summary, setup.opts.OutputDir)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func newBatchWatchCommand(ctx *commandContext) *cobra.Command {
	var (
		flags    batchFlags
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the batch now and again whenever notes change",
		Long: "Run the batch now and again whenever markdown notes under the input\n" +
			"directory are created or written. Stops on interrupt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			setup, err := ctx.batchSetup(cmd, &flags)
			if err != nil {
				return err
			}
			defer setup.store.Close()

			out := cmd.OutOrStdout()
			first := true
			run := func(runCtx context.Context) error {
				opts := setup.opts
				// Only the first run honors --fresh.
				opts.Fresh = opts.Fresh && first
				first = false
				summary, err := setup.runner.Run(runCtx, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s run %s: %d processed, %d succeeded, %d failed, %d skipped\n",
					time.Now().Format(time.TimeOnly), summary.RunID, summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped)
				return nil
			}

			watcher := batch.NewWatcher(setup.opts.InputDir, run,
				batch.WithDebounce(debounce),
				batch.WithIgnoredDir(setup.opts.OutputDir),
				batch.WithWatchLogger(setup.logger),
			)
			fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", setup.opts.InputDir)
			return watcher.Watch(cmd.Context())
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", batch.DefaultWatchDebounce, "Quiet period after a change before running")
	return cmd
}

func printSummary(cmd *cobra.Command, s batch.Summary, outputDir string) {
	facts := [][2]string{
		{"Run", s.RunID},
		{"Files scanned", strconv.Itoa(s.Scan.Files)},
		{"Unique", strconv.Itoa(s.Scan.Unique)},
		{"Duplicates", strconv.Itoa(s.Scan.Duplicates)},
		{"Already converted", strconv.Itoa(s.Scan.Converted)},
		{"Too short", strconv.Itoa(s.Scan.TooShort)},
		{"Skipped (done)", strconv.Itoa(s.Skipped)},
		{"Processed", strconv.Itoa(s.Processed)},
		{"Succeeded", strconv.Itoa(s.Succeeded)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Final workers", strconv.Itoa(s.Workers)},
		{"Output", outputDir},
	}
	if s.StopReason != "" {
		facts = append(facts, [2]string{"Stopped", s.StopReason})
	}
	printFacts(cmd.OutOrStdout(), "Batch", facts)
}

func newBatchStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show batch progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := batch.Open(cfg.BatchDBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stats)
			}

			facts := [][2]string{
				{"Done", strconv.Itoa(stats.Done)},
				{"Failed (will retry)", strconv.Itoa(stats.Failed)},
				{"Parked", strconv.Itoa(stats.Parked)},
				{"Runs", strconv.Itoa(stats.Runs)},
			}
			if last := stats.LastRun; last != nil {
				finished := "running or interrupted"
				if last.FinishedAt != nil {
					finished = last.FinishedAt.Local().Format(time.DateTime)
				}
				facts = append(facts,
					[2]string{"Last run", last.ID},
					[2]string{"Last run started", last.StartedAt.Local().Format(time.DateTime)},
					[2]string{"Last run finished", finished},
					[2]string{"Last run result", fmt.Sprintf("%d ok / %d failed", last.Succeeded, last.Failed)},
				)
				if last.StopReason != "" {
					facts = append(facts, [2]string{"Last run stopped", last.StopReason})
				}
			}
			printFacts(cmd.OutOrStdout(), "Batch", facts)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print progress as JSON")
	return cmd
}

func newBatchClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget all batch progress and run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := batch.Open(cfg.BatchDBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d item(s)\n", removed)
			return nil
		},
	}
}

func pathOrDefault(flagValue, fallback string) (string, error) {
	if value := strings.TrimSpace(flagValue); value != "" {
		return config.ExpandPath(value)
	}
	return fallback, nil
}
