package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureUnavailable reports that the capture file could not be opened or read.
	ErrCaptureUnavailable = errors.New("capture file unavailable")
	// ErrDecode reports a line that is not valid under the configured encoding.
	ErrDecode = errors.New("capture decode error")
	// ErrMalformedRecord reports a line with fewer header fields than the format requires.
	ErrMalformedRecord = errors.New("malformed record")
)

// DecodeError carries the line number of an undecodable capture line.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: line %d: %v", ErrDecode, e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches ErrDecode so callers can classify without a type assertion.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
