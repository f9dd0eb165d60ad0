package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"mediaminer/internal/config"
	"mediaminer/internal/logging"
	"mediaminer/internal/services"
)

// CommandRunner runs an external command to completion.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Sleeper pauses for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Launcher starts the local model server and loads a model into it.
type Launcher struct {
	startCommand []string
	loadCommand  []string
	startTimeout time.Duration
	loadTimeout  time.Duration
	settle       time.Duration

	run    CommandRunner
	env    func() map[string]string
	sleep  Sleeper
	logger *slog.Logger
}

// LauncherOption customizes a Launcher.
type LauncherOption func(*Launcher)

// WithCommandRunner overrides how commands are executed.
func WithCommandRunner(run CommandRunner) LauncherOption {
	return func(l *Launcher) {
		if run != nil {
			l.run = run
		}
	}
}

// WithCommandEnv supplies extra variables for the default command runner,
// read before every command. Variables already in the process environment win.
func WithCommandEnv(env func() map[string]string) LauncherOption {
	return func(l *Launcher) {
		l.env = env
	}
}

// WithLauncherSleeper overrides how settle pauses are performed.
func WithLauncherSleeper(sleep Sleeper) LauncherOption {
	return func(l *Launcher) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithLauncherLogger sets the launcher logger.
func WithLauncherLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLauncher builds a launcher from the [local_server] configuration.
func NewLauncher(cfg config.LocalServer, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		startCommand: append([]string(nil), cfg.StartCommand...),
		loadCommand:  append([]string(nil), cfg.LoadCommand...),
		startTimeout: time.Duration(cfg.StartTimeoutSeconds) * time.Second,
		loadTimeout:  time.Duration(cfg.LoadTimeoutSeconds) * time.Second,
		settle:       time.Duration(cfg.SettleSeconds) * time.Second,
		sleep:        SleepContext,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.run == nil {
		l.run = l.execCommand
	}
	l.logger = logging.NewComponentLogger(l.logger, "local-server")
	return l
}

// BringUp runs the start command, waits for the server to settle, then loads
// model with its own timeout. Either command failing aborts the bring-up.
func (l *Launcher) BringUp(ctx context.Context, model string) error {
	if len(l.startCommand) == 0 && len(l.loadCommand) == 0 {
		return services.Wrap(services.ErrConfiguration, "local-server", "bring up", "no start or load command configured", nil)
	}

	if len(l.startCommand) > 0 {
		l.logger.Info("starting local model server", logging.String("command", strings.Join(l.startCommand, " ")))
		if err := l.runWithTimeout(ctx, l.startTimeout, l.startCommand, model); err != nil {
			return services.Wrap(services.ErrExternalTool, "local-server", "start", "start command failed", err)
		}
		if err := l.sleep(ctx, l.settle); err != nil {
			return err
		}
	}

	if len(l.loadCommand) > 0 {
		l.logger.Info("loading local model", logging.Model(model))
		if err := l.runWithTimeout(ctx, l.loadTimeout, l.loadCommand, model); err != nil {
			return services.Wrap(services.ErrExternalTool, "local-server", "load", "load command failed", err)
		}
		if err := l.sleep(ctx, l.settle); err != nil {
			return err
		}
	}
	return nil
}

func (l *Launcher) runWithTimeout(ctx context.Context, timeout time.Duration, command []string, model string) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	args := expandModel(command[1:], model)
	err := l.run(ctx, command[0], args...)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "local-server", command[0], fmt.Sprintf("timed out after %s", timeout), err)
	}
	return err
}

func expandModel(args []string, model string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = strings.ReplaceAll(arg, "{model}", model)
	}
	return out
}

func (l *Launcher) execCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = l.commandEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, summarizePayloadSnippet(detail))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// commandEnv returns nil, meaning the inherited environment, unless extra
// variables are configured. Later entries win in exec, so the process
// environment goes last.
func (l *Launcher) commandEnv() []string {
	if l.env == nil {
		return nil
	}
	extra := l.env()
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(extra)+len(os.Environ()))
	for _, key := range keys {
		env = append(env, key+"="+extra[key])
	}
	return append(env, os.Environ()...)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
