package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxResponseBytes   = 8 << 20
)

// Option customizes an HTTP-backed transport.
type Option func(*httpOptions)

type httpOptions struct {
	client *http.Client
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *httpOptions) {
		if client != nil {
			o.client = client
		}
	}
}

func buildHTTPOptions(opts []Option) httpOptions {
	o := httpOptions{client: &http.Client{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// postJSON sends payload and returns the response body of a 2xx reply.
// Every failure comes back as a classified *Error.
func postJSON(ctx context.Context, client *http.Client, target Target, endpoint string, headers map[string]string, payload any) ([]byte, error) {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, Transient(target.Provider, 0, fmt.Errorf("encode body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, Transient(target.Provider, 0, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range target.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyDoError(target.Provider, fmt.Errorf("http error (timeout=%s): %w", timeout, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, Transient(target.Provider, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet := summarizePayloadSnippet(string(body))
		statusErr := fmt.Errorf("http %d: %s", resp.StatusCode, snippet)
		if classifyStatus(resp.StatusCode, string(body)) == KindRateLimited {
			retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			return nil, RateLimited(target.Provider, resp.StatusCode, retryAfter, statusErr)
		}
		return nil, Transient(target.Provider, resp.StatusCode, statusErr)
	}
	return body, nil
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func summarizePayloadSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
