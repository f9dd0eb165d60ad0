package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediaminer/internal/dispatch"
	"mediaminer/internal/providers"
	"mediaminer/internal/throttle"
	"mediaminer/internal/transport"
)

type capture struct {
	last transport.Request
}

func newTestServer(t *testing.T, reply transport.Func, opts ...Option) (*Server, *capture) {
	t.Helper()
	reg, err := providers.NewRegistry([]providers.Descriptor{
		{Name: "cerebras", Priority: 1, Family: providers.FamilyChatCompletion, Model: "qwen", CredentialEnv: []string{"KEY_1", "KEY_2"}},
		{Name: "lmstudio", Priority: 2, Family: providers.FamilyLocal, Model: "local-model"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	seen := &capture{}
	wrapped := transport.Func(func(ctx context.Context, target transport.Target, req transport.Request) (string, error) {
		seen.last = req
		return reply(ctx, target, req)
	})
	d, err := dispatch.New(reg, throttle.New(throttle.WithBounds(2, 10)),
		dispatch.WithTransport(providers.FamilyChatCompletion, wrapped),
		dispatch.WithTransport(providers.FamilyLocal, wrapped),
		dispatch.WithLookup(providers.MapLookup(map[string]string{"KEY_1": "sk-secret-value"})),
		dispatch.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}

	srv, err := New(d, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, seen
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

func answer(text string) transport.Func {
	return func(context.Context, transport.Target, transport.Request) (string, error) { return text, nil }
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, answer("x"))
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newTestServer(t, answer("x"))
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "", RequestIDHeader, "abc-123")
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestGenerateSuccessAppliesDefaults(t *testing.T) {
	srv, seen := newTestServer(t, answer("hello"), WithDefaults(512, 0.2))
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/generate", `{"prompt":"hi","system_prompt":"be brief"}`)

	expectStatus(t, rec, http.StatusOK)
	resp := decodeBody[GenerateResponse](t, rec)
	if want := (GenerateResponse{Text: "hello", Provider: "cerebras", Model: "qwen"}); resp != want {
		t.Fatalf("response = %+v, want %+v", resp, want)
	}
	if seen.last.MaxTokens != 512 || math.Abs(seen.last.Temperature-0.2) > 1e-9 {
		t.Fatalf("request = %+v", seen.last)
	}
	if seen.last.SystemPrompt != "be brief" {
		t.Fatalf("system prompt = %q", seen.last.SystemPrompt)
	}
}

func TestGenerateExplicitZeroTemperature(t *testing.T) {
	srv, seen := newTestServer(t, answer("hello"), WithDefaults(512, 0.9))
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/generate", `{"prompt":"hi","max_tokens":64,"temperature":0}`)
	expectStatus(t, rec, http.StatusOK)
	if seen.last.MaxTokens != 64 || seen.last.Temperature != 0 {
		t.Fatalf("request = %+v", seen.last)
	}
}

func TestGenerateValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t, answer("x"))
	for _, body := range []string{`{"prompt":"   "}`, `{"prompt":"hi","max_tokens":-1}`, `{not json`} {
		rec := do(t, srv.Handler(), http.MethodPost, "/v1/generate", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, rec.Code)
		}
	}
}

func TestGenerateExhausted(t *testing.T) {
	srv, _ := newTestServer(t, func(_ context.Context, target transport.Target, _ transport.Request) (string, error) {
		return "", transport.Transient(target.Provider, 500, errors.New("down"))
	})
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/generate", `{"prompt":"hi"}`)

	expectStatus(t, rec, http.StatusServiceUnavailable)
	if body := decodeBody[map[string]string](t, rec); body["error"] != "all providers exhausted" || len(body) != 1 {
		t.Fatalf("body = %v", body)
	}
}

func TestWorkersAndReset(t *testing.T) {
	srv, _ := newTestServer(t, answer("x"))
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/v1/workers", "")
	expectStatus(t, rec, http.StatusOK)
	state := decodeBody[throttle.State](t, rec)
	if state.RecommendedWorkers != 10 || state.MinWorkers != 2 {
		t.Fatalf("state = %+v", state)
	}

	rec = do(t, h, http.MethodPost, "/v1/workers/reset", `{"max_workers":4}`)
	expectStatus(t, rec, http.StatusOK)
	state = decodeBody[throttle.State](t, rec)
	if state.RecommendedWorkers != 4 || state.MaxWorkers != 4 {
		t.Fatalf("state after reset = %+v", state)
	}

	rec = do(t, h, http.MethodPost, "/v1/workers/reset", `{"max_workers":-2}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestProvidersNeverExposeSecrets(t *testing.T) {
	srv, _ := newTestServer(t, answer("x"))
	h := srv.Handler()
	do(t, h, http.MethodPost, "/v1/generate", `{"prompt":"hi"}`)

	rec := do(t, h, http.MethodGet, "/v1/providers", "")
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "sk-secret-value") {
		t.Fatalf("secret exposed: %s", rec.Body.String())
	}

	resp := decodeBody[ProvidersResponse](t, rec)
	if len(resp.Providers) != 2 {
		t.Fatalf("providers = %+v", resp.Providers)
	}
	first := resp.Providers[0]
	if first.Name != "cerebras" || first.CredentialSources != 2 || first.Credentials != 1 || !first.Current {
		t.Fatalf("first provider = %+v", first)
	}
	if second := resp.Providers[1]; second.Family != "local" || second.Current {
		t.Fatalf("second provider = %+v", second)
	}
}

func TestTokenRequiredOnV1Routes(t *testing.T) {
	srv, _ := newTestServer(t, answer("x"), WithToken("s3cret"))
	h := srv.Handler()

	cases := []struct {
		path    string
		headers []string
		want    int
	}{
		{"/healthz", nil, http.StatusOK},
		{"/v1/workers", nil, http.StatusUnauthorized},
		{"/v1/workers", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"/v1/workers", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
	}
	for _, tc := range cases {
		if got := do(t, h, http.MethodGet, tc.path, "", tc.headers...).Code; got != tc.want {
			t.Fatalf("%s %v: status = %d, want %d", tc.path, tc.headers, got, tc.want)
		}
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	srv, _ := newTestServer(t, answer("x"))
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewRequiresDispatcher(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error")
	}
}
