package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/SmitUplenchwar2687/txreplay/internal/capture"
	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
)

// previewLen bounds how much of a payload goes into a log line.
const previewLen = 50

// State is the lifecycle state of one replay session.
type State string

const (
	StateIdle         State = "idle"
	StateStreaming    State = "streaming"
	StateCompleted    State = "completed"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Settings are the read-only parameters shared by every session.
type Settings struct {
	File     string   `json:"file"`
	Encoding string   `json:"encoding"`
	Skip     []string `json:"skip"`
	Pacing   Pacing   `json:"pacing"`
}

// Delivery describes one payload handed to a sink.
type Delivery struct {
	Session string         `json:"session"`
	Seq     int            `json:"seq"`
	Line    int            `json:"line"`
	Record  capture.Record `json:"record"`
	Time    time.Time      `json:"time"`
}

// Summary aggregates the outcome of one session.
type Summary struct {
	Session        string        `json:"session"`
	State          State         `json:"state"`
	Lines          int           `json:"lines"`
	Malformed      int           `json:"malformed"`
	WrongDirection int           `json:"wrong_direction"`
	Skipped        int           `json:"skipped"`
	Delivered      int           `json:"delivered"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Engine replays a capture file to sinks. One Engine serves any number of
// concurrent sessions; each Run opens its own read handle on the file.
type Engine struct {
	settings Settings
	filter   *capture.Filter
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates an Engine. A nil logger discards log output.
func New(s Settings, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s.Skip = append([]string(nil), s.Skip...)
	return &Engine{
		settings: s,
		filter:   capture.NewFilter(s.Skip),
		clock:    clk,
		logger:   logger,
	}
}

// Settings returns the engine's settings.
func (e *Engine) Settings() Settings {
	s := e.settings
	s.Skip = append([]string(nil), e.settings.Skip...)
	return s
}

// Run performs one full pass over the capture file for session id,
// writing every accepted payload to sink in file order.
//
// A sink error ends the session in StateDisconnected with a nil error.
// A capture open or read failure ends it in StateFailed and is returned.
// Context cancellation ends it in StateCancelled and returns ctx.Err().
// The callback, if non-nil, is called after each successful delivery.
func (e *Engine) Run(ctx context.Context, id string, sink Sink, cb func(Delivery)) (*Summary, error) {
	log := e.logger.With(slog.String("session", id))
	start := e.clock.Now()
	summary := &Summary{Session: id, State: StateIdle}
	defer func() {
		summary.Elapsed = e.clock.Since(start)
	}()

	r, err := capture.Open(e.settings.File, e.settings.Encoding)
	if err != nil {
		summary.State = StateFailed
		log.Error("open capture failed", slog.String("file", e.settings.File), slog.Any("err", err))
		return summary, err
	}
	defer r.Close()

	summary.State = StateStreaming
	pace := newPacer(e.settings.Pacing)

	for r.Next() {
		if err := ctx.Err(); err != nil {
			summary.State = StateCancelled
			return summary, err
		}

		line := r.Line()
		summary.Lines++

		rec, err := capture.ParseLine(line.Text)
		if err != nil {
			summary.Malformed++
			log.Warn("SKIP", slog.Int("line", line.Number), slog.Any("err", err), slog.String("text", line.Text))
			continue
		}

		switch e.filter.Check(rec) {
		case capture.VerdictWrongDirection:
			summary.WrongDirection++
			log.Warn("SKIP", slog.Int("line", line.Number), slog.String("direction", rec.Direction), slog.String("text", rec.Preview(previewLen)))
			continue
		case capture.VerdictSkipped:
			summary.Skipped++
			log.Debug("skip-list", slog.Int("line", line.Number), slog.String("payload", rec.Preview(previewLen)))
			continue
		}

		if err := clock.Sleep(ctx, e.clock, pace.next(rec)); err != nil {
			summary.State = StateCancelled
			return summary, err
		}

		if err := sink.Send(rec.Payload); err != nil {
			summary.State = StateDisconnected
			log.Info("peer disconnected", slog.Int("line", line.Number), slog.Int("delivered", summary.Delivered), slog.Any("err", err))
			return summary, nil
		}
		summary.Delivered++
		log.Debug("send", slog.Int("seq", summary.Delivered), slog.String("payload", rec.Preview(previewLen)))

		if cb != nil {
			cb(Delivery{
				Session: id,
				Seq:     summary.Delivered,
				Line:    line.Number,
				Record:  rec,
				Time:    e.clock.Now(),
			})
		}
	}

	if err := r.Err(); err != nil {
		summary.State = StateFailed
		log.Error("read capture failed", slog.String("file", e.settings.File), slog.Any("err", err))
		return summary, err
	}

	summary.State = StateCompleted
	log.Info("replay completed",
		slog.Int("lines", summary.Lines),
		slog.Int("delivered", summary.Delivered),
		slog.Int("skipped", summary.Skipped+summary.WrongDirection+summary.Malformed))
	return summary, nil
}
