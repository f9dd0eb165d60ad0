// Package throttle derives a shared recommended worker count from the stream
// of dispatch outcomes. Rate limits lower it quickly and successes raise it
// slowly, always within the configured bounds.
package throttle

import (
	"log/slog"
	"sync"
	"time"

	"mediaminer/internal/logging"
)

const (
	// DecayWindow is how long a rate-limit streak survives without a new event.
	DecayWindow = 60 * time.Second
	// RateLimitThreshold is the streak length at which workers step down.
	RateLimitThreshold = 2
	// SuccessThreshold is the success streak at which workers step up.
	SuccessThreshold = 5
	// MaxBackoff caps BackoffDelay.
	MaxBackoff = 16 * time.Second

	defaultMinWorkers = 2
	defaultMaxWorkers = 10
)

// State is a point-in-time copy of the controller.
type State struct {
	RecommendedWorkers int       `json:"recommended_workers"`
	MinWorkers         int       `json:"min_workers"`
	MaxWorkers         int       `json:"max_workers"`
	RateLimitStreak    int       `json:"consecutive_rate_limits"`
	SuccessStreak      int       `json:"consecutive_successes"`
	LastRateLimit      time.Time `json:"last_rate_limit,omitzero"`
}

// Controller is safe for concurrent use. Every method runs under one mutex,
// so a threshold check and the counter reset it triggers are never split.
type Controller struct {
	mu            sync.Mutex
	minWorkers    int
	maxWorkers    int
	recommended   int
	rateLimits    int
	successes     int
	lastRateLimit time.Time

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithBounds sets the worker floor and ceiling. Values below 1 are raised
// to 1 and a ceiling below the floor is raised to the floor.
func WithBounds(minWorkers, maxWorkers int) Option {
	return func(c *Controller) {
		c.minWorkers = max(minWorkers, 1)
		c.maxWorkers = max(maxWorkers, c.minWorkers)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for step changes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a controller that starts at its ceiling.
func New(opts ...Option) *Controller {
	c := &Controller{
		minWorkers: defaultMinWorkers,
		maxWorkers: defaultMaxWorkers,
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = logging.NewComponentLogger(c.logger, "throttle")
	c.recommended = c.maxWorkers
	return c
}

// RecordRateLimit registers a throttling signal and returns the rate-limit
// streak after this event. A streak older than DecayWindow restarts at 1.
func (c *Controller) RecordRateLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastRateLimit.IsZero() && now.Sub(c.lastRateLimit) > DecayWindow {
		c.rateLimits = 0
	}
	c.rateLimits++
	c.successes = 0
	c.lastRateLimit = now

	if c.rateLimits >= RateLimitThreshold && c.recommended > c.minWorkers {
		previous := c.recommended
		c.recommended--
		c.logger.Info("lowering workers",
			logging.Int("from", previous),
			logging.Int(logging.FieldWorkers, c.recommended),
			logging.Int("rate_limit_streak", c.rateLimits),
			logging.String(logging.FieldEventType, "workers_lowered"),
		)
	}
	return c.rateLimits
}

// RecordSuccess registers a completed dispatch. The success streak resets
// whenever it reaches SuccessThreshold, whether or not workers could rise.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes++
	if c.successes < SuccessThreshold {
		return
	}
	c.successes = 0
	if c.recommended >= c.maxWorkers {
		return
	}
	previous := c.recommended
	c.recommended++
	c.logger.Info("raising workers",
		logging.Int("from", previous),
		logging.Int(logging.FieldWorkers, c.recommended),
		logging.String(logging.FieldEventType, "workers_raised"),
	)
}

// RecommendedWorkers returns the current advisory worker count.
func (c *Controller) RecommendedWorkers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recommended
}

// Reset prepares the controller for a new batch: the ceiling becomes
// maxWorkers (clamped to the floor), recommended workers start there, and
// both streaks clear. The last rate-limit time is kept. A maxWorkers below 1
// keeps the current ceiling.
func (c *Controller) Reset(maxWorkers int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxWorkers > 0 {
		c.maxWorkers = max(maxWorkers, c.minWorkers)
	}
	c.recommended = c.maxWorkers
	c.rateLimits = 0
	c.successes = 0
	c.logger.Debug("controller reset", logging.Int(logging.FieldWorkers, c.recommended))
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		RecommendedWorkers: c.recommended,
		MinWorkers:         c.minWorkers,
		MaxWorkers:         c.maxWorkers,
		RateLimitStreak:    c.rateLimits,
		SuccessStreak:      c.successes,
		LastRateLimit:      c.lastRateLimit,
	}
}

// BackoffDelay returns the pause after the streak-th consecutive rate limit:
// 2^streak seconds, capped at MaxBackoff.
func BackoffDelay(streak int) time.Duration {
	if streak < 0 {
		streak = 0
	}
	if streak >= 4 {
		return MaxBackoff
	}
	return min(time.Duration(1<<streak)*time.Second, MaxBackoff)
}
