package transport_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	"mediaminer/internal/config"
	"mediaminer/internal/services"
	"mediaminer/internal/transport"
)

type recordingRunner struct {
	commands []string
	failOn   string
	block    bool
}

func (r *recordingRunner) run(ctx context.Context, name string, args ...string) error {
	r.commands = append(r.commands, strings.Join(append([]string{name}, args...), " "))
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.failOn != "" && strings.Contains(strings.Join(args, " "), r.failOn) {
		return errors.New("exit status 1")
	}
	return nil
}

func noPause(context.Context, time.Duration) error { return nil }

func TestLauncherRunsStartThenLoad(t *testing.T) {
	runner := &recordingRunner{}
	var pauses []time.Duration
	launcher := transport.NewLauncher(config.Default().LocalServer,
		transport.WithCommandRunner(runner.run),
		transport.WithLauncherSleeper(func(_ context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			return nil
		}),
	)

	if err := launcher.BringUp(context.Background(), "qwen/qwen3-30b"); err != nil {
		t.Fatalf("BringUp: %v", err)
	}
	if want := []string{"lms server start", "lms load qwen/qwen3-30b --yes"}; !reflect.DeepEqual(runner.commands, want) {
		t.Fatalf("commands = %v, want %v", runner.commands, want)
	}
	if want := []time.Duration{2 * time.Second, 2 * time.Second}; !reflect.DeepEqual(pauses, want) {
		t.Fatalf("pauses = %v, want %v", pauses, want)
	}
}

func TestLauncherStopsWhenStartFails(t *testing.T) {
	runner := &recordingRunner{failOn: "start"}
	launcher := transport.NewLauncher(config.Default().LocalServer,
		transport.WithCommandRunner(runner.run),
		transport.WithLauncherSleeper(noPause),
	)

	err := launcher.BringUp(context.Background(), "m")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if len(runner.commands) != 1 {
		t.Fatalf("commands = %v", runner.commands)
	}
}

func TestLauncherLoadTimeout(t *testing.T) {
	cfg := config.Default().LocalServer
	cfg.StartCommand = nil
	cfg.LoadTimeoutSeconds = 1
	runner := &recordingRunner{block: true}
	launcher := transport.NewLauncher(cfg,
		transport.WithCommandRunner(runner.run),
		transport.WithLauncherSleeper(noPause),
	)

	err := launcher.BringUp(context.Background(), "m")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if want := []string{"lms load m --yes"}; !reflect.DeepEqual(runner.commands, want) {
		t.Fatalf("commands = %v", runner.commands)
	}
}

func TestLauncherRequiresCommands(t *testing.T) {
	cfg := config.Default().LocalServer
	cfg.StartCommand = nil
	cfg.LoadCommand = nil
	err := transport.NewLauncher(cfg).BringUp(context.Background(), "m")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLauncherPassesCredentialsToCommandsOnly(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	const key = "MM_LAUNCH_KEY"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set in the environment", key)
	}

	current := "from-file"
	cfg := config.Default().LocalServer
	cfg.StartCommand = []string{"sh", "-c", `test "$` + key + `" = from-file`}
	cfg.LoadCommand = nil
	cfg.SettleSeconds = 0
	launcher := transport.NewLauncher(cfg,
		transport.WithLauncherSleeper(noPause),
		transport.WithCommandEnv(func() map[string]string {
			return map[string]string{key: current}
		}),
	)

	if err := launcher.BringUp(context.Background(), "m"); err != nil {
		t.Fatalf("BringUp with file credential: %v", err)
	}
	if _, set := os.LookupEnv(key); set {
		t.Fatalf("%s leaked into the process environment", key)
	}

	// The env func is consulted per command, so a rotated value is seen.
	current = "rotated"
	if err := launcher.BringUp(context.Background(), "m"); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected the command to see the rotated value and fail, got %v", err)
	}
}

func TestSleepContextHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := transport.SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := transport.SleepContext(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
}
