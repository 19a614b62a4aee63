package replay

import (
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/capture"
)

// PacingMode selects how the wait before each delivery is computed.
type PacingMode string

const (
	// PacingFixed waits the same delay before every delivery.
	PacingFixed PacingMode = "fixed"
	// PacingTimestamp waits the gap between consecutive capture timestamps, scaled by speed.
	PacingTimestamp PacingMode = "timestamp"
)

// DefaultDelay is the fixed wait inserted before each delivered message.
const DefaultDelay = 500 * time.Millisecond

// Pacing configures delivery pacing.
type Pacing struct {
	Mode  PacingMode    `json:"mode" yaml:"mode"`
	Delay time.Duration `json:"delay" yaml:"delay"`
	Speed float64       `json:"speed" yaml:"speed"` // timestamp mode only: 1 = real-time, 10 = 10x, 0 = instant
}

// DefaultPacing returns the fixed half-second pacing.
func DefaultPacing() Pacing {
	return Pacing{
		Mode:  PacingFixed,
		Delay: DefaultDelay,
		Speed: 1,
	}
}

// Validate checks the pacing parameters.
func (p Pacing) Validate() error {
	switch p.Mode {
	case PacingFixed, PacingTimestamp:
	default:
		return fmt.Errorf("unknown pacing mode %q, must be one of: fixed, timestamp", p.Mode)
	}
	if p.Delay < 0 {
		return fmt.Errorf("pacing delay must not be negative, got %s", p.Delay)
	}
	if p.Speed < 0 {
		return fmt.Errorf("pacing speed must not be negative, got %g", p.Speed)
	}
	return nil
}

// pacer computes per-delivery waits for one session.
type pacer struct {
	cfg  Pacing
	prev time.Duration
	seen bool
}

func newPacer(cfg Pacing) *pacer {
	return &pacer{cfg: cfg}
}

// next returns the wait before delivering rec.
// In timestamp mode the first delivery is immediate, a backwards step is
// treated as a midnight rollover, and unparsable timestamps fall back to
// the fixed delay without moving the reference point.
func (p *pacer) next(rec capture.Record) time.Duration {
	if p.cfg.Mode != PacingTimestamp {
		return p.cfg.Delay
	}

	tod, err := rec.TimeOfDay()
	if err != nil {
		return p.cfg.Delay
	}
	if !p.seen {
		p.seen = true
		p.prev = tod
		return 0
	}

	gap := tod - p.prev
	if gap < 0 {
		gap += 24 * time.Hour
	}
	p.prev = tod

	if p.cfg.Speed <= 0 {
		return 0
	}
	return time.Duration(float64(gap) / p.cfg.Speed)
}
