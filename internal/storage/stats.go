package storage

import (
	"context"
	"strings"
)

const statsPrefix = "stats:"

// Counter names maintained by Stats.
const (
	StatSessionsStarted = "sessions_started"
	StatPayloadsSent    = "payloads_delivered"
	StatAuthFailures    = "auth_failures"
	StatAdmissionDenied = "admission_denied"
	statSessionsPrefix  = "sessions_"
)

// Stats records session outcomes in a Storage.
type Stats struct {
	store Storage
}

// NewStats wraps store.
func NewStats(store Storage) *Stats {
	return &Stats{store: store}
}

// Add increments the named counter by n.
func (s *Stats) Add(ctx context.Context, name string, n int64) error {
	if n == 0 {
		return nil
	}
	_, err := s.store.Increment(ctx, statsPrefix+name, n, 0)
	return err
}

// SessionEnded counts a finished session under its final state.
func (s *Stats) SessionEnded(ctx context.Context, state string, delivered int) error {
	if err := s.Add(ctx, statSessionsPrefix+state, 1); err != nil {
		return err
	}
	return s.Add(ctx, StatPayloadsSent, int64(delivered))
}

// Snapshot returns every counter keyed by name.
func (s *Stats) Snapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := s.store.Counters(ctx, statsPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		out[strings.TrimPrefix(k, statsPrefix)] = v
	}
	return out, nil
}
