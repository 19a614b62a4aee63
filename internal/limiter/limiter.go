package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
	"github.com/SmitUplenchwar2687/txreplay/internal/storage"
)

// Algorithm identifies an admission algorithm.
type Algorithm string

const (
	AlgorithmTokenBucket Algorithm = "token_bucket"
	AlgorithmFixedWindow Algorithm = "fixed_window"
)

// Limiter decides whether a new connection from key may start a session.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// Decision captures the result of an admission check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	RetryAt   time.Time `json:"retry_at"` // earliest retry, set when denied
}

// Config holds admission parameters. Rate 0 disables admission control.
type Config struct {
	Algorithm Algorithm     `json:"algorithm" yaml:"algorithm"`
	Rate      int           `json:"rate" yaml:"rate"`     // sessions allowed per window per host
	Window    time.Duration `json:"window" yaml:"window"` // window duration
	Burst     int           `json:"burst" yaml:"burst"`   // token bucket only
}

// Enabled reports whether admission control is configured.
func (c Config) Enabled() bool { return c.Rate > 0 }

// Validate checks the parameters of an enabled config.
func (c Config) Validate() error {
	if !c.Enabled() {
		if c.Rate < 0 {
			return fmt.Errorf("admission rate must not be negative, got %d", c.Rate)
		}
		return nil
	}
	if c.Window <= 0 {
		return fmt.Errorf("admission window must be positive, got %s", c.Window)
	}
	switch c.Algorithm {
	case AlgorithmTokenBucket, AlgorithmFixedWindow:
	default:
		return fmt.Errorf("unknown admission algorithm %q, must be one of: token_bucket, fixed_window", c.Algorithm)
	}
	return nil
}

// New builds the configured limiter. It returns nil when admission is disabled.
// The fixed window algorithm keeps its counters in store, so several servers
// sharing a Redis store enforce one limit.
func New(cfg Config, store storage.Storage, c clock.Clock, logger *slog.Logger) (Limiter, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Algorithm {
	case AlgorithmFixedWindow:
		lim, err := NewStorageLimiter(store, cfg.Rate, cfg.Window, c, logger)
		if err != nil {
			return nil, err
		}
		return lim, nil
	default:
		return NewTokenBucket(cfg.Rate, cfg.Window, cfg.Burst, c), nil
	}
}
