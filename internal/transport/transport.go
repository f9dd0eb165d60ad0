package transport

import (
	"context"
	"time"
)

// Request is one generation request. It is not modified by transports.
type Request struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Target identifies where and as whom a request is sent.
type Target struct {
	Provider string
	// Credential is the secret; empty for providers that need none.
	Credential string
	Model      string
	// BaseURL is optional; each transport has its own default.
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// Transport sends a request and returns non-empty generated text or an error
// that KindOf can classify.
type Transport interface {
	Complete(ctx context.Context, target Target, req Request) (string, error)
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, target Target, req Request) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, target Target, req Request) (string, error) {
	return f(ctx, target, req)
}
