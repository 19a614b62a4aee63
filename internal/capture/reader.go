package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultEncoding is the code page TXmlConnector writes its logs in.
const DefaultEncoding = "windows-1251"

// Line is one decoded line of a capture file, without its line terminator.
type Line struct {
	Number int
	Text   string
}

// Reader yields the lines of a capture file lazily, in file order.
// Use it like bufio.Scanner: call Next until it returns false, then check Err.
type Reader struct {
	closer io.Closer
	br     *bufio.Reader
	dec    *encoding.Decoder // nil means the source is UTF-8
	line   Line
	count  int
	err    error
	done   bool
}

// LookupEncoding resolves an IANA encoding name. An empty name selects DefaultEncoding.
func LookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q is not supported", name)
	}
	return enc, nil
}

// Open opens the capture file at path for one full pass.
// Every call starts from the beginning of the file.
func Open(path, encodingName string) (*Reader, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	r := NewReader(f, enc)
	r.closer = f
	return r, nil
}

// NewReader wraps src, decoding each line with enc.
func NewReader(src io.Reader, enc encoding.Encoding) *Reader {
	r := &Reader{br: bufio.NewReaderSize(src, 64*1024)}
	if name, err := ianaindex.IANA.Name(enc); err != nil || !strings.EqualFold(name, "UTF-8") {
		r.dec = enc.NewDecoder()
	}
	return r
}

// Next advances to the next line. It returns false at end of file or on error.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}

	raw, err := r.br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return r.fail(fmt.Errorf("%w: %w", ErrCaptureUnavailable, err))
	}
	if len(raw) == 0 && err != nil {
		r.done = true
		return false
	}

	r.count++
	raw = bytes.TrimRight(raw, "\r\n")
	text, derr := r.decode(raw)
	if derr != nil {
		return r.fail(&DecodeError{Line: r.count, Err: derr})
	}
	r.line = Line{Number: r.count, Text: text}
	return true
}

// Line returns the line produced by the last successful Next.
func (r *Reader) Line() Line { return r.line }

// Err returns the first error encountered, or nil at a clean end of file.
func (r *Reader) Err() error { return r.err }

// Close releases the underlying file, if the Reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) fail(err error) bool {
	r.err = err
	r.done = true
	return false
}

func (r *Reader) decode(raw []byte) (string, error) {
	if r.dec == nil {
		if !utf8.Valid(raw) {
			return "", errors.New("invalid UTF-8 sequence")
		}
		return string(raw), nil
	}
	out, err := r.dec.Bytes(raw)
	if err != nil {
		return "", err
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", errors.New("byte not mapped by code page")
	}
	return string(out), nil
}
