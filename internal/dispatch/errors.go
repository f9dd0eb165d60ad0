package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaminer/internal/transport"
)

// ErrAllProvidersExhausted is the terminal dispatch outcome: every provider
// and credential failed or was skipped.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Attempt records one transport call or skipped provider.
type Attempt struct {
	Provider   string        `json:"provider"`
	Credential string        `json:"credential,omitempty"`
	Skipped    string        `json:"skipped,omitempty"`
	Kind       string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Backoff    time.Duration `json:"backoff,omitempty"`
	// RetryAfter is the provider's own hint; backoff still follows the streak.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// ExhaustedError carries the attempt log of a failed Generate call.
type ExhaustedError struct {
	Attempts []Attempt
	// Cause is set when the loop stopped early, e.g. on context cancellation.
	Cause error
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAllProvidersExhausted.Error())
	calls := 0
	for _, a := range e.Attempts {
		if a.Skipped == "" {
			calls++
		}
	}
	fmt.Fprintf(&b, " (%d attempts)", calls)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

func attemptFromError(provider, credential string, err error) Attempt {
	return Attempt{
		Provider:   provider,
		Credential: credential,
		Kind:       transport.KindOf(err).String(),
		Error:      err.Error(),
		RetryAfter: transport.RetryAfterOf(err),
	}
}
