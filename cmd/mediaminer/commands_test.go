package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mediaminer/internal/batch"
	"mediaminer/internal/dispatch"
	"mediaminer/internal/knowledge"
	"mediaminer/internal/services"
	"mediaminer/internal/testsupport"
	"mediaminer/internal/transport"
)

func TestGenerateUsesFirstProvider(t *testing.T) {
	env := setupCLITestEnv(t)

	var mu sync.Mutex
	var seen []transport.Target
	chat := transport.Func(func(ctx context.Context, target transport.Target, req transport.Request) (string, error) {
		mu.Lock()
		seen = append(seen, target)
		mu.Unlock()
		if req.MaxTokens != 128 {
			t.Errorf("max tokens = %d, want 128", req.MaxTokens)
		}
		if req.Temperature != env.cfg.Dispatch.DefaultTemperature {
			t.Errorf("temperature = %v, want config default", req.Temperature)
		}
		return "hello back", nil
	})

	out, errOut, err := runCLI(t, env, chat, failing("unavailable"), "", "generate", "--max-tokens", "128", "hello", "there")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	requireContains(t, out, "hello back")
	requireContains(t, errOut, "provider: primary (primary-model)")
	if len(seen) != 1 {
		t.Fatalf("expected one call, got %d", len(seen))
	}
	if seen[0].Credential != "secret-one" {
		t.Fatalf("expected first credential, got %q", seen[0].Credential)
	}
}

func TestGenerateReadsStdinAndPrintsJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	var prompt string
	chat := transport.Func(func(ctx context.Context, target transport.Target, req transport.Request) (string, error) {
		prompt = req.Prompt
		return "from stdin", nil
	})

	out, _, err := runCLI(t, env, chat, nil, "  piped prompt \n", "generate", "--json", "-")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if prompt != "piped prompt" {
		t.Fatalf("prompt = %q", prompt)
	}
	var result dispatch.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if result.Text != "from stdin" || result.Provider != "primary" || result.Attempts != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestGenerateFallsBackToLocal(t *testing.T) {
	env := setupCLITestEnv(t)

	out, errOut, err := runCLI(t, env, failing("transient"), reply("local answer"), "", "generate", "question")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	requireContains(t, out, "local answer")
	requireContains(t, errOut, "provider: local (local-model)")
}

func TestGenerateExhaustedReportsAttempts(t *testing.T) {
	env := setupCLITestEnv(t)

	_, errOut, err := runCLI(t, env, failing("transient"), failing("unavailable"), "", "generate", "question")
	if !errors.Is(err, dispatch.ErrAllProvidersExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	requireContains(t, errOut, "primary [MM_TEST_KEY_1 (1/2)]")
	requireContains(t, errOut, "primary [MM_TEST_KEY_2 (2/2)]")
	requireContains(t, errOut, "local [none]")
	if strings.Contains(errOut, "secret-one") {
		t.Fatalf("attempt log leaked a secret: %q", errOut)
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env, reply("unused"), nil, "   ", "generate")
	if err == nil || !strings.Contains(err.Error(), "prompt is required") {
		t.Fatalf("expected prompt error, got %v", err)
	}
}

func TestProvidersCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, nil, nil, "", "providers")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	requireContains(t, out, "primary")
	requireContains(t, out, "primary-model")
	requireContains(t, out, "2/2")
	requireContains(t, out, "local-model")

	out, _, err = runCLI(t, env, nil, nil, "", "providers", "--json")
	if err != nil {
		t.Fatalf("providers --json: %v", err)
	}
	var report providersReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(report.Providers))
	}
	if report.Providers[0].Name != "primary" || report.Providers[0].Credentials != 2 || !report.Providers[0].Usable {
		t.Fatalf("unexpected primary row %+v", report.Providers[0])
	}
	if report.Providers[1].CredentialSources != 0 || !report.Providers[1].Usable {
		t.Fatalf("unexpected local row %+v", report.Providers[1])
	}
	if strings.Contains(out, "secret-one") {
		t.Fatalf("providers output leaked a secret")
	}
}

func batchNote(title string) string {
	return "# " + title + "\n\n" +
		"**來源**: YouTube / 頻道A\n" +
		"**URL**: https://youtu.be/abc123\n" +
		"**時長**: 12:34\n\n" +
		"## 原始逐字稿\n" + strings.Repeat(title+"的逐字稿內容，談談投資。", 10) + "\n"
}

func writeBatchNote(t *testing.T, dir, name, title string) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(dir, name), batchNote(title))
}

func TestBatchRunStatusAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	writeBatchNote(t, env.cfg.Batch.InputDir, "a.md", "第一集")
	writeBatchNote(t, env.cfg.Batch.InputDir, "b.md", "第二集")

	chat := reply("[KEYWORDS] 投資, ETF\n[SUMMARY] 摘要\n[ENTITIES] 台積電\n[KNOWLEDGE] 知識內容")

	out, _, err := runCLI(t, env, chat, nil, "", "batch", "run", "--max-workers", "2", "--json")
	if err != nil {
		t.Fatalf("batch run: %v", err)
	}
	var summary batch.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	if summary.Succeeded != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	converted, err := os.ReadFile(filepath.Join(env.cfg.Batch.OutputDir, "a.md"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	requireContains(t, string(converted), "知識內容")
	requireContains(t, string(converted), "provider: primary")

	out, _, err = runCLI(t, env, chat, nil, "", "batch", "run")
	if err != nil {
		t.Fatalf("second batch run: %v", err)
	}
	requireContains(t, out, "Skipped (done)")

	out, _, err = runCLI(t, env, nil, nil, "", "batch", "status", "--json")
	if err != nil {
		t.Fatalf("batch status: %v", err)
	}
	var stats batch.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Done != 2 || stats.Runs != 2 || stats.LastRun == nil {
		t.Fatalf("unexpected stats %+v", stats)
	}

	out, _, err = runCLI(t, env, nil, nil, "", "batch", "status")
	if err != nil {
		t.Fatalf("batch status table: %v", err)
	}
	requireContains(t, out, "Done")
	requireContains(t, out, "Last run")

	out, _, err = runCLI(t, env, nil, nil, "", "batch", "clear")
	if err != nil {
		t.Fatalf("batch clear: %v", err)
	}
	requireContains(t, out, "Cleared 2 item(s)")
}

func TestBatchStatusCountsParkedItems(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenBatchStore(t, env.cfg)

	note := batch.Note{Path: filepath.Join(env.cfg.Batch.InputDir, "bad.md"), RelPath: "bad.md", Hash: "h1"}
	cause := services.Wrap(services.ErrValidation, "knowledge", "extract", "empty reply", nil)
	if err := store.MarkFailed(context.Background(), note, "run-1", cause, true); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	out, _, err := runCLI(t, env, nil, nil, "", "batch", "status", "--json")
	if err != nil {
		t.Fatalf("batch status: %v", err)
	}
	var stats batch.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Parked != 1 || stats.Done != 0 || stats.LastRun != nil {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestBatchRunRejectsSameDirectories(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := env.cfg.Batch.InputDir

	_, _, err := runCLI(t, env, reply("x"), nil, "", "batch", "run", "--input", dir, "--output", dir)
	if err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected directory error, got %v", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	env := setupCLITestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, _, err := runCLIContext(t, ctx, env, reply("x"), nil, "", "serve", "--bind", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	out, _, err := runCLI(t, cliTestEnv{}, nil, nil, "", "config", "init", "--path", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	_, _, err = runCLI(t, cliTestEnv{}, nil, nil, "", "config", "init", "--path", path)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected exists error, got %v", err)
	}

	if _, _, err := runCLI(t, cliTestEnv{}, nil, nil, "", "config", "init", "--path", path, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	env := setupCLITestEnv(t)
	out, _, err = runCLI(t, env, nil, nil, "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, env.configPath)
	requireContains(t, out, "Providers: 2")
	requireContains(t, out, "Configuration valid")
}

func TestConfigValidateWarnsAboutMissingCredentials(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.Remove(env.cfg.Paths.CredentialsFile); err != nil {
		t.Fatalf("remove credentials: %v", err)
	}

	out, _, err := runCLI(t, env, nil, nil, "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "warning: primary has no credential set (MM_TEST_KEY_1, MM_TEST_KEY_2)")
	requireContains(t, out, "Configuration valid")
	if strings.Contains(out, "no provider is usable") {
		t.Fatalf("local provider should still count as usable: %q", out)
	}
}

func TestGenerateSeesRotatedCredential(t *testing.T) {
	env := setupCLITestEnv(t)

	var used []string
	chat := transport.Func(func(ctx context.Context, target transport.Target, req transport.Request) (string, error) {
		used = append(used, target.Credential)
		return "ok", nil
	})

	if _, _, err := runCLI(t, env, chat, nil, "", "generate", "hello"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	testsupport.WriteFile(t, env.cfg.Paths.CredentialsFile, "MM_TEST_KEY_1=rotated\nMM_TEST_KEY_2=secret-two\n")
	if _, _, err := runCLI(t, env, chat, nil, "", "generate", "hello"); err != nil {
		t.Fatalf("generate after rotation: %v", err)
	}

	if len(used) != 2 || used[0] != "secret-one" || used[1] != "rotated" {
		t.Fatalf("credentials used = %v", used)
	}
}

const rawCaptions = "WEBVTT\nKind: captions\nLanguage: zh\n\n1\n00:00:01.000 --> 00:00:02.000\n这个软件很好用\n"

func TestPolishCommandCleansStdinWithoutModel(t *testing.T) {
	env := setupCLITestEnv(t)

	chat := transport.Func(func(ctx context.Context, target transport.Target, req transport.Request) (string, error) {
		t.Error("model called with --no-llm")
		return "", nil
	})
	out, _, err := runCLI(t, env, chat, nil, rawCaptions, "polish", "--no-llm")
	if err != nil {
		t.Fatalf("polish: %v", err)
	}
	if got := strings.TrimSpace(out); got != "这个軟體很好用" {
		t.Fatalf("polished = %q", got)
	}
}

func TestPolishCommandRewritesFile(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "episode.vtt")
	body := strings.Repeat("so we talk about index funds and risk\n", 6)
	testsupport.WriteFile(t, input, "WEBVTT\n\n"+body)

	rewrite := strings.Repeat("So we talk about index funds and risk. ", 6)
	out, _, err := runCLI(t, env, reply(rewrite), nil, "", "polish", "--json", input)
	if err != nil {
		t.Fatalf("polish: %v", err)
	}
	var polished knowledge.Polished
	if err := json.Unmarshal([]byte(out), &polished); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if polished.Text != rewrite || polished.Provider != "primary" || polished.Language != knowledge.LanguageEnglish {
		t.Fatalf("polished = %+v", polished)
	}

	target := filepath.Join(dir, "out", "episode.txt")
	_, errOut, err := runCLI(t, env, reply(rewrite), nil, "", "polish", "--output", target, input)
	if err != nil {
		t.Fatalf("polish --output: %v", err)
	}
	requireContains(t, errOut, target)
	written, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(written) != rewrite+"\n" {
		t.Fatalf("written = %q", written)
	}
}

func TestPolishCommandRejectsEmptyInput(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env, reply("x"), nil, "  \n", "polish")
	if err == nil || !strings.Contains(err.Error(), "transcript is empty") {
		t.Fatalf("expected empty transcript error, got %v", err)
	}
}

func TestBatchWatchProcessesNewNotes(t *testing.T) {
	env := setupCLITestEnv(t)
	writeBatchNote(t, env.cfg.Batch.InputDir, "a.md", "第一集")

	chat := reply("[KEYWORDS] 投資\n[SUMMARY] 摘要\n[ENTITIES] 台積電\n[KNOWLEDGE] 知識內容")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	second := filepath.Join(env.cfg.Batch.OutputDir, "b.md")
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := os.WriteFile(filepath.Join(env.cfg.Batch.InputDir, "b.md"), []byte(batchNote("第二集")), 0o644); err != nil {
			t.Errorf("write note: %v", err)
			cancel()
			return
		}
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if _, err := os.Stat(second); err == nil {
				cancel()
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	out, _, err := runCLIContext(t, ctx, env, chat, nil, "", "batch", "watch", "--debounce", "50ms")
	if err != nil {
		t.Fatalf("batch watch: %v", err)
	}
	requireContains(t, out, "Watching "+env.cfg.Batch.InputDir)
	for _, name := range []string{"a.md", "b.md"} {
		if _, err := os.Stat(filepath.Join(env.cfg.Batch.OutputDir, name)); err != nil {
			t.Fatalf("%s not converted: %v", name, err)
		}
	}
}
