package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mediaminer/internal/logging"
	"mediaminer/internal/providers"
	"mediaminer/internal/services"
	"mediaminer/internal/throttle"
	"mediaminer/internal/transport"
)

// Request is one generation request.
type Request = transport.Request

// Result is a successful generation.
type Result struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// Attempts counts transport calls made, including the successful one.
	Attempts int `json:"attempts"`
}

// Dispatcher is safe for concurrent use; concurrent Generate calls share
// only the throttle controller.
type Dispatcher struct {
	registry   *providers.Registry
	controller *throttle.Controller
	transports map[providers.Family]transport.Transport
	lookup     providers.LookupFunc
	sleep      transport.Sleeper
	logger     *slog.Logger

	mu      sync.RWMutex
	current string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTransport registers the transport used for a provider family.
func WithTransport(family providers.Family, t transport.Transport) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.transports[family] = t
		}
	}
}

// WithLookup sets how credential sources resolve.
func WithLookup(lookup providers.LookupFunc) Option {
	return func(d *Dispatcher) {
		if lookup != nil {
			d.lookup = lookup
		}
	}
}

// WithSleeper overrides how backoff pauses are performed (useful for tests).
func WithSleeper(sleep transport.Sleeper) Option {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New constructs a dispatcher. A nil controller gets a default one. Families
// without a registered transport use the stock HTTP adapters; the stock local
// adapter has no bring-up.
func New(registry *providers.Registry, controller *throttle.Controller, opts ...Option) (*Dispatcher, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "dispatch", "new", "provider registry is empty", nil)
	}
	if controller == nil {
		controller = throttle.New()
	}
	d := &Dispatcher{
		registry:   registry,
		controller: controller,
		transports: make(map[providers.Family]transport.Transport, 3),
		lookup:     providers.EnvLookup(),
		sleep:      transport.SleepContext,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = logging.NewComponentLogger(d.logger, "dispatch")
	if _, ok := d.transports[providers.FamilyChatCompletion]; !ok {
		d.transports[providers.FamilyChatCompletion] = transport.NewChatCompletion()
	}
	if _, ok := d.transports[providers.FamilyGemini]; !ok {
		d.transports[providers.FamilyGemini] = transport.NewGemini()
	}
	if _, ok := d.transports[providers.FamilyLocal]; !ok {
		d.transports[providers.FamilyLocal] = transport.NewLocal(nil, d.logger)
	}
	return d, nil
}

// Controller returns the shared throttle controller.
func (d *Dispatcher) Controller() *throttle.Controller {
	return d.controller
}

// Registry returns the provider registry.
func (d *Dispatcher) Registry() *providers.Registry {
	return d.registry
}

// Lookup returns the credential lookup in use.
func (d *Dispatcher) Lookup() providers.LookupFunc {
	return d.lookup
}

// CurrentProvider returns the provider of the most recent success, or "".
func (d *Dispatcher) CurrentProvider() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Generate returns text from the first provider and credential that succeed.
// Invalid requests fail with a services.ErrValidation error before any call.
// Exhaustion returns an *ExhaustedError; it never panics.
func (d *Dispatcher) Generate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "dispatch", "generate", "prompt is empty", nil)
	}
	if req.MaxTokens <= 0 {
		return Result{}, services.Wrap(services.ErrValidation, "dispatch", "generate", fmt.Sprintf("max_tokens must be positive, got %d", req.MaxTokens), nil)
	}

	ctx = transport.WithBringUpScope(ctx)
	logger := logging.WithContext(ctx, d.logger)
	var (
		attempts []Attempt
		calls    int
		pending  time.Duration
	)
	exhausted := func(cause error) (Result, error) {
		return Result{}, &ExhaustedError{Attempts: attempts, Cause: cause}
	}

	for _, p := range d.registry.Providers() {
		if err := ctx.Err(); err != nil {
			return exhausted(err)
		}
		t := d.transports[p.Family]

		creds := []providers.Credential{{}}
		if p.RequiresCredential() {
			creds = p.ResolveCredentials(d.lookup)
			if len(creds) == 0 {
				logger.Debug("provider skipped; no credential set",
					logging.Provider(p.Name),
					logging.String("sources", strings.Join(p.CredentialEnv, ",")),
				)
				attempts = append(attempts, Attempt{Provider: p.Name, Skipped: "credential missing"})
				continue
			}
		}

		for _, cred := range creds {
			if pending > 0 {
				if err := d.sleep(ctx, pending); err != nil {
					return exhausted(err)
				}
				pending = 0
			}
			if err := ctx.Err(); err != nil {
				return exhausted(err)
			}

			calls++
			logger.Info("trying provider",
				logging.Provider(p.Name),
				logging.Model(p.Model),
				logging.Credential(cred.Label()),
				logging.Int(logging.FieldAttempt, calls),
			)
			text, err := t.Complete(ctx, transport.Target{
				Provider:   p.Name,
				Credential: cred.Secret,
				Model:      p.Model,
				BaseURL:    p.BaseURL,
				Timeout:    p.Timeout,
				Headers:    p.Headers,
			}, req)
			if err == nil && strings.TrimSpace(text) == "" {
				err = transport.Transient(p.Name, 0, errors.New("empty completion"))
			}
			if err == nil {
				d.controller.RecordSuccess()
				d.setCurrent(p.Name)
				logger.Info("provider succeeded",
					logging.Provider(p.Name),
					logging.Int(logging.FieldAttempt, calls),
					logging.Int(logging.FieldWorkers, d.controller.RecommendedWorkers()),
				)
				return Result{Text: text, Provider: p.Name, Model: p.Model, Attempts: calls}, nil
			}

			attempt := attemptFromError(p.Name, cred.Label(), err)
			if transport.IsRateLimited(err) {
				streak := d.controller.RecordRateLimit()
				pending = throttle.BackoffDelay(streak)
				attempt.Backoff = pending
				logging.WarnWithContext(logger, "provider rate limited", "provider_rate_limited",
					logging.Provider(p.Name),
					logging.Credential(cred.Label()),
					logging.Int("rate_limit_streak", streak),
					logging.Duration(logging.FieldDelay, pending),
					logging.Duration("retry_after", attempt.RetryAfter),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "add credentials or lower concurrency"),
				)
			} else {
				logging.WarnWithContext(logger, "provider attempt failed", "provider_failed",
					logging.Provider(p.Name),
					logging.Credential(cred.Label()),
					logging.String(logging.FieldErrorKind, transport.KindOf(err).String()),
					logging.Error(err),
				)
			}
			attempts = append(attempts, attempt)
		}
	}

	logging.ErrorWithContext(logger, "all providers exhausted", "providers_exhausted",
		logging.Int(logging.FieldAttempt, calls),
		logging.String(logging.FieldErrorHint, "check credentials, quotas and the local server"),
	)
	return exhausted(nil)
}

func (d *Dispatcher) setCurrent(name string) {
	d.mu.Lock()
	d.current = name
	d.mu.Unlock()
}
