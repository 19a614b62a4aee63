package replay

import (
	"io"
	"sync"
)

// Sink receives delivered payloads, one opaque message per call.
// A Send error means the peer is gone and ends the session.
type Sink interface {
	Send(payload string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(payload string) error

func (f SinkFunc) Send(payload string) error { return f(payload) }

// WriterSink writes each payload to w followed by a newline.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a Sink over w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Send(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, payload); err != nil {
		return err
	}
	_, err := io.WriteString(s.w, "\n")
	return err
}

// discard accepts every payload. Used for dry runs without a client.
type discard struct{}

func (discard) Send(string) error { return nil }

// Discard is a Sink that drops every payload.
var Discard Sink = discard{}
