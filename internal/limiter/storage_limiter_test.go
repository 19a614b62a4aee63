package limiter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
	"github.com/SmitUplenchwar2687/txreplay/internal/storage"
)

type failingStorage struct {
	storage.Storage
}

func (failingStorage) Increment(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestNewStorageLimiter_Validate(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	store := storage.NewMemoryStorage(vc)

	if _, err := NewStorageLimiter(nil, 1, time.Second, vc, nil); err == nil {
		t.Fatal("expected error for nil storage")
	}
	if _, err := NewStorageLimiter(store, 0, time.Second, vc, nil); err == nil {
		t.Fatal("expected error for non-positive rate")
	}
	if _, err := NewStorageLimiter(store, 1, 0, vc, nil); err == nil {
		t.Fatal("expected error for non-positive window")
	}
	if _, err := NewStorageLimiter(store, 1, time.Second, nil, nil); err == nil {
		t.Fatal("expected error for nil clock")
	}
}

func TestStorageLimiter_FixedWindow(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	lim, err := NewStorageLimiter(storage.NewMemoryStorage(vc), 2, time.Minute, vc, nil)
	if err != nil {
		t.Fatal(err)
	}

	if d := lim.Allow(ctx, "h"); !d.Allowed || d.Remaining != 1 {
		t.Errorf("first = %+v, want allowed with 1 remaining", d)
	}
	if d := lim.Allow(ctx, "h"); !d.Allowed || d.Remaining != 0 {
		t.Errorf("second = %+v, want allowed with 0 remaining", d)
	}
	d := lim.Allow(ctx, "h")
	if d.Allowed {
		t.Fatal("third session in the window should be denied")
	}
	if want := epoch.Add(time.Minute); !d.RetryAt.Equal(want) {
		t.Errorf("RetryAt = %v, want %v", d.RetryAt, want)
	}

	vc.Advance(time.Minute)
	if d := lim.Allow(ctx, "h"); !d.Allowed {
		t.Error("new window should admit again")
	}
}

func TestStorageLimiter_FailsOpen(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	lim, err := NewStorageLimiter(failingStorage{}, 1, time.Minute, vc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d := lim.Allow(ctx, "h"); !d.Allowed {
		t.Error("storage errors should not block sessions")
	}
}

func TestStorageLimiter_LogsThroughInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	vc := clock.NewVirtualClock(epoch)
	lim, err := NewStorageLimiter(failingStorage{}, 1, time.Minute, vc, logger)
	if err != nil {
		t.Fatal(err)
	}

	lim.Allow(ctx, "10.0.0.7")
	out := buf.String()
	if !strings.Contains(out, `"msg":"admission counter unavailable"`) || !strings.Contains(out, `"key":"10.0.0.7"`) {
		t.Errorf("log output = %q, want the storage warning for 10.0.0.7", out)
	}
}

func TestNew(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	store := storage.NewMemoryStorage(vc)

	lim, err := New(Config{}, store, vc, nil)
	if err != nil || lim != nil {
		t.Errorf("disabled config = %v, %v; want nil, nil", lim, err)
	}

	lim, err = New(Config{Algorithm: AlgorithmTokenBucket, Rate: 1, Window: time.Second}, store, vc, nil)
	if _, ok := lim.(*TokenBucket); err != nil || !ok {
		t.Errorf("token_bucket = %T, %v", lim, err)
	}

	lim, err = New(Config{Algorithm: AlgorithmFixedWindow, Rate: 1, Window: time.Second}, store, vc, nil)
	if _, ok := lim.(*StorageLimiter); err != nil || !ok {
		t.Errorf("fixed_window = %T, %v", lim, err)
	}

	if _, err := New(Config{Algorithm: "leaky", Rate: 1, Window: time.Second}, store, vc, nil); err == nil {
		t.Error("unknown algorithm should fail")
	}
	if _, err := New(Config{Algorithm: AlgorithmTokenBucket, Rate: 1}, store, vc, nil); err == nil {
		t.Error("zero window should fail")
	}
}
