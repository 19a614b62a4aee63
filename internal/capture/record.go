package capture

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Direction tokens written by the connector log.
const (
	DirectionInbound  = "[I]" // command sent to the connector
	DirectionOutbound = "[O]" // callback event, the only replayable kind
	DirectionResult   = "[R]"
	DirectionVersion  = "[V]"
)

// headerFields is the number of whitespace-delimited tokens before the payload.
const headerFields = 6

// Record is one parsed capture line. Header fields are opaque.
//
//	140553.019380 [4804] [clbk] <info> [O] [830u] <markets> ...
type Record struct {
	Timestamp string `json:"timestamp"`
	Process   string `json:"process"`
	Thread    string `json:"thread"`
	Class     string `json:"class"`
	Direction string `json:"direction"`
	Marker    string `json:"marker"`
	Payload   string `json:"payload"`
}

// ParseLine splits a capture line into its header and payload.
// Lines with fewer than six tokens return ErrMalformedRecord.
//
// The payload offset is measured against the header re-joined with single
// spaces, since token widths vary from line to line.
func ParseLine(line string) (Record, error) {
	tokens := strings.Fields(line)
	if len(tokens) < headerFields {
		return Record{}, fmt.Errorf("%w: %d header fields, want %d", ErrMalformedRecord, len(tokens), headerFields)
	}

	header := strings.Join(tokens[:headerFields], " ")
	var payload string
	if offset := len(header) + 1; offset < len(line) {
		payload = strings.TrimSpace(line[offset:])
	}

	return Record{
		Timestamp: tokens[0],
		Process:   tokens[1],
		Thread:    tokens[2],
		Class:     tokens[3],
		Direction: tokens[4],
		Marker:    tokens[5],
		Payload:   payload,
	}, nil
}

// TimeOfDay interprets the timestamp token (HHMMSS.ffffff) as an offset from midnight.
func (r Record) TimeOfDay() (time.Duration, error) {
	whole, frac, _ := strings.Cut(r.Timestamp, ".")
	if len(whole) == 0 || len(whole) > 6 {
		return 0, fmt.Errorf("timestamp %q: want HHMMSS[.ffffff]", r.Timestamp)
	}
	hms, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", r.Timestamp, err)
	}
	h, m, s := hms/10000, hms/100%100, hms%100
	if hms < 0 || h > 23 || m > 59 || s > 59 {
		return 0, fmt.Errorf("timestamp %q: out of range", r.Timestamp)
	}

	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		n, err := strconv.Atoi(frac)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("timestamp %q: bad fraction", r.Timestamp)
		}
		for i := len(frac); i < 9; i++ {
			n *= 10
		}
		d += time.Duration(n)
	}
	return d, nil
}

// Preview returns at most n bytes of the payload for log output.
func (r Record) Preview(n int) string {
	if len(r.Payload) <= n {
		return r.Payload
	}
	return r.Payload[:n] + " ..."
}
