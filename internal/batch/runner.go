package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"mediaminer/internal/dispatch"
	"mediaminer/internal/fileutil"
	"mediaminer/internal/knowledge"
	"mediaminer/internal/logging"
	"mediaminer/internal/services"
)

// ErrRunInProgress is returned when another process holds the batch lock.
var ErrRunInProgress = errors.New("another batch run holds the lock")

// StopNoProvider is the stop reason recorded when a whole wave found no
// usable provider.
const StopNoProvider = "no provider available"

// Extractor turns one transcript into knowledge.
type Extractor interface {
	Extract(ctx context.Context, transcript string, src knowledge.Source) (knowledge.Extraction, error)
}

// WorkerController sizes each wave. *throttle.Controller satisfies it.
type WorkerController interface {
	RecommendedWorkers() int
	Reset(maxWorkers int)
}

// Options describes one run.
type Options struct {
	InputDir   string
	OutputDir  string
	Fresh      bool
	MaxWorkers int
	// RequestInterval spaces extraction requests; zero disables pacing.
	RequestInterval    time.Duration
	MinTranscriptChars int
}

// Summary reports what a run did.
type Summary struct {
	RunID      string    `json:"run_id"`
	Scan       ScanStats `json:"scan"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Workers    int       `json:"workers"`
	StopReason string    `json:"stop_reason,omitempty"`
}

// Runner drives extraction over a directory of notes.
type Runner struct {
	store      *Store
	extractor  Extractor
	controller WorkerController
	logger     *slog.Logger
	now        func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunnerClock overrides the timestamp written into converted notes.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner wires a runner.
func NewRunner(store *Store, extractor Extractor, controller WorkerController, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:      store,
		extractor:  extractor,
		controller: controller,
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "batch")
	return r
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeExhausted
	outcomeCanceled
)

// Run processes every pending note under opts.InputDir. Notes are handled in
// waves; each wave's size is the controller's recommendation at the time the
// wave starts, so rate limits observed in one wave shrink the next.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	var summary Summary

	lock := flock.New(r.store.Path() + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return summary, fmt.Errorf("acquire batch lock: %w", err)
	}
	if !locked {
		return summary, ErrRunInProgress
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("failed to release batch lock", logging.Error(err))
		}
	}()

	if opts.Fresh {
		removed, err := r.store.ClearItems(ctx)
		if err != nil {
			return summary, err
		}
		r.logger.Info("cleared previous progress", logging.Int("items", int(removed)))
	}

	r.controller.Reset(opts.MaxWorkers)

	notes, scanStats, err := Scan(ctx, opts.InputDir, opts.MinTranscriptChars, r.logger)
	if err != nil {
		return summary, err
	}
	summary.Scan = scanStats

	pending := make([]Note, 0, len(notes))
	for _, note := range notes {
		done, err := r.store.IsDone(ctx, note.Path)
		if err != nil {
			return summary, err
		}
		if done {
			summary.Skipped++
			continue
		}
		pending = append(pending, note)
	}

	summary.RunID = uuid.NewString()
	ctx = services.WithBatchID(ctx, summary.RunID)
	logger := logging.WithContext(ctx, r.logger)

	if err := r.store.StartRun(ctx, RunRecord{
		ID:        summary.RunID,
		StartedAt: r.now(),
		InputDir:  opts.InputDir,
		OutputDir: opts.OutputDir,
		Pending:   len(pending),
		Skipped:   summary.Skipped,
		Workers:   r.controller.RecommendedWorkers(),
	}); err != nil {
		return summary, err
	}
	logger.Info("batch run started",
		logging.Int("pending", len(pending)),
		logging.Int("skipped", summary.Skipped),
	)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RequestInterval), 1)
	}

	for start := 0; start < len(pending); {
		if ctx.Err() != nil {
			summary.StopReason = "canceled"
			break
		}
		workers := max(r.controller.RecommendedWorkers(), 1)
		end := min(start+workers, len(pending))
		wave := pending[start:end]
		start = end

		outcomes := make([]outcome, len(wave))
		p := pool.New().WithMaxGoroutines(workers)
		for i, note := range wave {
			p.Go(func() {
				outcomes[i] = r.process(ctx, summary.RunID, opts.OutputDir, note, limiter)
			})
		}
		p.Wait()

		exhausted := 0
		for _, o := range outcomes {
			switch o {
			case outcomeSucceeded:
				summary.Processed++
				summary.Succeeded++
			case outcomeFailed:
				summary.Processed++
				summary.Failed++
			case outcomeExhausted:
				summary.Processed++
				summary.Failed++
				exhausted++
			}
		}
		logger.Debug("wave finished",
			logging.Int(logging.FieldWorkers, workers),
			logging.Int("size", len(wave)),
			logging.Int("exhausted", exhausted),
		)
		if exhausted == len(wave) {
			summary.StopReason = StopNoProvider
			logging.WarnWithContext(logger, "stopping batch run", "batch_no_provider",
				logging.String(logging.FieldErrorHint, "check provider credentials and the local model server"),
				logging.String(logging.FieldImpact, "remaining notes stay pending for the next run"),
			)
			break
		}
	}

	summary.Workers = r.controller.RecommendedWorkers()
	if err := r.store.FinishRun(context.WithoutCancel(ctx), summary); err != nil {
		return summary, err
	}
	logger.Info("batch run finished",
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Int(logging.FieldWorkers, summary.Workers),
	)
	return summary, nil
}

func (r *Runner) process(ctx context.Context, runID, outputDir string, note Note, limiter *rate.Limiter) outcome {
	if err := limiter.Wait(ctx); err != nil {
		return outcomeCanceled
	}
	ctx = services.WithItem(ctx, note.RelPath)
	logger := logging.WithContext(ctx, r.logger)
	record := context.WithoutCancel(ctx)

	ext, err := r.extractor.Extract(ctx, note.Text(), knowledge.Source{
		Title:    note.Title,
		Channel:  note.Author,
		URL:      note.URL,
		Duration: note.Duration,
	})
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCanceled
		}
		exhausted := errors.Is(err, dispatch.ErrAllProvidersExhausted)
		permanent := !exhausted && services.IsPermanent(err)
		if markErr := r.store.MarkFailed(record, note, runID, err, permanent); markErr != nil {
			logger.Error("failed to record failure", logging.Error(markErr))
		}
		logging.WarnWithContext(logger, "note extraction failed", "batch_item_failed",
			logging.Error(err),
			logging.Bool("parked", permanent),
			logging.String(logging.FieldImpact, "note is retried on the next run unless parked"),
		)
		if exhausted {
			return outcomeExhausted
		}
		return outcomeFailed
	}

	content, err := Render(note, ext, r.now())
	if err != nil {
		_ = r.store.MarkFailed(record, note, runID, err, true)
		logger.Error("failed to render note", logging.Error(err))
		return outcomeFailed
	}
	outPath := filepath.Join(outputDir, note.RelPath)
	if err := fileutil.WriteFileAtomic(outPath, content, 0o644); err != nil {
		_ = r.store.MarkFailed(record, note, runID, err, false)
		logger.Error("failed to write note", logging.String("path", outPath), logging.Error(err))
		return outcomeFailed
	}
	if err := r.store.MarkDone(record, note, runID, ext.Provider, outPath); err != nil {
		logger.Error("failed to record success", logging.Error(err))
	}
	logger.Info("note converted", logging.Provider(ext.Provider))
	return outcomeSucceeded
}
