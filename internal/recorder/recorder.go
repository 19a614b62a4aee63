package recorder

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/SmitUplenchwar2687/txreplay/internal/replay"
)

// Journal is the exported form of everything a Recorder captured.
type Journal struct {
	Deliveries []replay.Delivery `json:"deliveries"`
	Sessions   []replay.Summary  `json:"sessions"`
}

// Recorder captures deliveries and session outcomes for later inspection.
// Thread-safe for concurrent use by many sessions.
type Recorder struct {
	mu         sync.Mutex
	deliveries []replay.Delivery
	sessions   []replay.Summary
	writer     io.Writer // optional: stream deliveries as they arrive
	retain     bool
}

// New creates a new Recorder that keeps every delivery, payload included,
// until the process exits. If w is non-nil, deliveries are also written to
// w as newline-delimited JSON as they arrive.
func New(w io.Writer) *Recorder {
	return &Recorder{
		writer: w,
		retain: true,
	}
}

// NewStreaming creates a Recorder that writes deliveries to w as
// newline-delimited JSON and keeps only session summaries in memory.
func NewStreaming(w io.Writer) *Recorder {
	return &Recorder{writer: w}
}

// Record captures a single delivery.
func (r *Recorder) Record(d replay.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retain {
		r.deliveries = append(r.deliveries, d)
	}

	if r.writer != nil {
		if err := json.NewEncoder(r.writer).Encode(d); err != nil {
			return err
		}
	}
	return nil
}

// Finish captures the summary of a completed session.
func (r *Recorder) Finish(s replay.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

// Deliveries returns a copy of all recorded deliveries.
func (r *Recorder) Deliveries() []replay.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]replay.Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// Session returns the payloads delivered to one session, in delivery order.
func (r *Recorder) Session(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, d := range r.deliveries {
		if d.Session == id {
			out = append(out, d.Record.Payload)
		}
	}
	return out
}

// Len returns the number of recorded deliveries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

// ExportJSON writes the journal to w as indented JSON.
func (r *Recorder) ExportJSON(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Journal{Deliveries: r.deliveries, Sessions: r.sessions})
}

// ExportFile writes the journal to a file.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.ExportJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadJSON reads a journal written by ExportJSON.
func LoadJSON(r io.Reader) (*Journal, error) {
	var j Journal
	if err := json.NewDecoder(r).Decode(&j); err != nil {
		return nil, err
	}
	return &j, nil
}
