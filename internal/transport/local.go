package transport

import (
	"context"
	"log/slog"
	"sync/atomic"

	"mediaminer/internal/logging"
)

// DefaultLocalBaseURL is used when a local target has no base URL.
const DefaultLocalBaseURL = "http://localhost:1234/v1"

// BringUpper starts whatever serves a local model.
type BringUpper interface {
	BringUp(ctx context.Context, model string) error
}

type bringUpScopeKey struct{}

// WithBringUpScope returns a context in which at most one local bring-up
// runs, however many local targets are tried under it.
func WithBringUpScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, bringUpScopeKey{}, new(atomic.Bool))
}

// claimBringUp reports whether a bring-up may run under ctx. Without a scope
// every call may bring the server up once.
func claimBringUp(ctx context.Context) bool {
	used, ok := ctx.Value(bringUpScopeKey{}).(*atomic.Bool)
	if !ok {
		return true
	}
	return used.CompareAndSwap(false, true)
}

// Local speaks the chat-completion protocol to a self-hosted server. When the
// server refuses the connection it is brought up once and the request retried
// once.
type Local struct {
	chat     *ChatCompletion
	launcher BringUpper
	logger   *slog.Logger
}

// NewLocal constructs a local transport. A nil launcher disables bring-up.
func NewLocal(launcher BringUpper, logger *slog.Logger, opts ...Option) *Local {
	chat := NewChatCompletion(opts...)
	chat.baseURL = DefaultLocalBaseURL
	return &Local{
		chat:     chat,
		launcher: launcher,
		logger:   logging.NewComponentLogger(logger, "local-transport"),
	}
}

// Complete sends the request. Bring-up happens at most once per call, or
// once per scope when ctx carries one; if it fails or was already spent the
// original connection error is returned.
func (l *Local) Complete(ctx context.Context, target Target, req Request) (string, error) {
	text, err := l.chat.Complete(ctx, target, req)
	if err == nil || KindOf(err) != KindUnavailable || l.launcher == nil {
		return text, err
	}
	if !claimBringUp(ctx) {
		l.logger.Debug("local server unreachable; bring-up already attempted",
			logging.Provider(target.Provider),
		)
		return "", err
	}

	l.logger.Info("local server unreachable; bringing it up",
		logging.Provider(target.Provider),
		logging.Model(target.Model),
	)
	if upErr := l.launcher.BringUp(ctx, target.Model); upErr != nil {
		logging.WarnWithContext(l.logger, "local server bring-up failed", "local_bringup_failed",
			logging.Provider(target.Provider),
			logging.Error(upErr),
			logging.String(logging.FieldErrorHint, "start the local server manually or check local_server commands"),
		)
		return "", err
	}
	return l.chat.Complete(ctx, target, req)
}
