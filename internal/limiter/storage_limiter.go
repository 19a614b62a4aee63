package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
	"github.com/SmitUplenchwar2687/txreplay/internal/storage"
)

const admitPrefix = "admit:"

// StorageLimiter is a fixed window counter kept in a Storage backend.
// Each window gets its own key, which expires with the window.
type StorageLimiter struct {
	storage storage.Storage
	clock   clock.Clock
	rate    int
	window  time.Duration
	logger  *slog.Logger
}

// NewStorageLimiter creates a fixed window limiter backed by store.
// A nil logger discards storage warnings.
func NewStorageLimiter(store storage.Storage, rate int, window time.Duration, c clock.Clock, logger *slog.Logger) (*StorageLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if c == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if rate <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %d", rate)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &StorageLimiter{
		storage: store,
		clock:   c,
		rate:    rate,
		window:  window,
		logger:  logger,
	}, nil
}

// Allow counts one admission for key in the current window.
// Storage errors fail open.
func (l *StorageLimiter) Allow(ctx context.Context, key string) Decision {
	now := l.clock.Now()
	windowID := now.UnixNano() / int64(l.window)
	resetAt := time.Unix(0, (windowID+1)*int64(l.window))

	k := admitPrefix + key + ":" + strconv.FormatInt(windowID, 10)
	n, err := l.storage.Increment(ctx, k, 1, resetAt.Sub(now))
	if err != nil {
		l.logger.Warn("admission counter unavailable", slog.String("key", key), slog.Any("err", err))
		return Decision{Allowed: true, Limit: l.rate, ResetAt: resetAt}
	}

	if int(n) > l.rate {
		return Decision{Limit: l.rate, ResetAt: resetAt, RetryAt: resetAt}
	}
	return Decision{
		Allowed:   true,
		Remaining: l.rate - int(n),
		Limit:     l.rate,
		ResetAt:   resetAt,
	}
}
