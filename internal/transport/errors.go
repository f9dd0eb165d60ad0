package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Kind classifies a failed attempt.
type Kind int

const (
	// KindTransient covers network failures, malformed or empty responses and
	// non-throttling HTTP errors.
	KindTransient Kind = iota
	// KindRateLimited means the provider signaled throttling or quota exhaustion.
	KindRateLimited
	// KindUnavailable means the endpoint refused the connection.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	default:
		return "transient"
	}
}

// Error is the classified failure of one transport call.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited builds a throttling error.
func RateLimited(provider string, status int, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Provider: provider, StatusCode: status, RetryAfter: retryAfter, Err: err}
}

// Transient builds a non-throttling failure.
func Transient(provider string, status int, err error) *Error {
	return &Error{Kind: KindTransient, Provider: provider, StatusCode: status, Err: err}
}

// Unavailable builds a connection-refused failure.
func Unavailable(provider string, err error) *Error {
	return &Error{Kind: KindUnavailable, Provider: provider, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	return KindTransient
}

// IsRateLimited reports whether err is a throttling signal.
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == KindRateLimited
}

// RetryAfterOf returns the delay a provider asked for, or zero.
func RetryAfterOf(err error) time.Duration {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.RetryAfter
	}
	return 0
}

// classifyStatus maps an HTTP failure status and body to a Kind.
func classifyStatus(status int, body string) Kind {
	if status == http.StatusTooManyRequests || mentionsThrottling(body) {
		return KindRateLimited
	}
	return KindTransient
}

var throttlingMarkers = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"quota",
	"resource_exhausted",
	"too many requests",
}

func mentionsThrottling(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range throttlingMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// classifyDoError wraps an error from http.Client.Do.
func classifyDoError(provider string, err error) error {
	if connectionRefused(err) {
		return Unavailable(provider, err)
	}
	return Transient(provider, 0, err)
}

func connectionRefused(err error) bool {
	if errors.Is(err, unix.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return strings.Contains(strings.ToLower(opErr.Err.Error()), "connection refused")
	}
	return false
}
