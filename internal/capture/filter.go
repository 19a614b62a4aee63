package capture

import "strings"

// Verdict is the outcome of filtering one record.
type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictWrongDirection
	VerdictSkipped
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictWrongDirection:
		return "wrong_direction"
	case VerdictSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// DefaultSkip lists the reference-data payloads dropped from every replay.
var DefaultSkip = []string{"<pits>", "<securities>", "<sec_info_upd>"}

// SkipSet is an ordered list of payload prefixes that are never delivered.
type SkipSet []string

// Match returns the first prefix that payload starts with.
func (s SkipSet) Match(payload string) (string, bool) {
	for _, p := range s {
		if strings.HasPrefix(payload, p) {
			return p, true
		}
	}
	return "", false
}

// Filter decides which records are replayable traffic.
// It is immutable after construction and safe for concurrent use.
type Filter struct {
	skip SkipSet
}

// NewFilter creates a Filter that drops payloads starting with any skip prefix.
func NewFilter(skip []string) *Filter {
	s := make(SkipSet, len(skip))
	copy(s, skip)
	return &Filter{skip: s}
}

// Skip returns a copy of the configured skip prefixes.
func (f *Filter) Skip() SkipSet {
	out := make(SkipSet, len(f.skip))
	copy(out, f.skip)
	return out
}

// Check applies the direction rule, then the skip-list rule.
func (f *Filter) Check(rec Record) Verdict {
	if rec.Direction != DirectionOutbound {
		return VerdictWrongDirection
	}
	if _, ok := f.skip.Match(rec.Payload); ok {
		return VerdictSkipped
	}
	return VerdictAccept
}
