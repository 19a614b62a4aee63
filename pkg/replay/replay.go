// Package replay exposes the capture replay engine for embedding in test
// harnesses that want deliveries in-process instead of over a socket.
package replay

import (
	"log/slog"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
	internalreplay "github.com/SmitUplenchwar2687/txreplay/internal/replay"
)

// Engine replays a capture file to sinks.
type Engine = internalreplay.Engine

// Settings are the read-only parameters shared by every session.
type Settings = internalreplay.Settings

// Pacing configures delivery pacing.
type Pacing = internalreplay.Pacing

// Sink receives delivered payloads in order.
type Sink = internalreplay.Sink

// SinkFunc adapts a function to Sink.
type SinkFunc = internalreplay.SinkFunc

// Delivery describes one payload handed to a sink.
type Delivery = internalreplay.Delivery

// Summary aggregates the outcome of one session.
type Summary = internalreplay.Summary

// State is the lifecycle state of one replay session.
type State = internalreplay.State

const (
	StateCompleted    = internalreplay.StateCompleted
	StateDisconnected = internalreplay.StateDisconnected
	StateFailed       = internalreplay.StateFailed
	StateCancelled    = internalreplay.StateCancelled
)

// DefaultPacing returns the fixed half-second pacing.
func DefaultPacing() Pacing {
	return internalreplay.DefaultPacing()
}

// New creates an engine that waits on the wall clock.
func New(s Settings, logger *slog.Logger) *Engine {
	return internalreplay.New(s, clock.NewRealClock(), logger)
}
