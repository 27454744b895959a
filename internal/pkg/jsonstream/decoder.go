// Package jsonstream converts between a top-level JSON array of objects and a
// stream of individual objects without materialising the whole array.
//
// ArrayDecoder is a small state machine over bytes: it tracks whether it is
// waiting for the opening bracket, between elements, inside an object, or inside
// a string within an object. Only the bytes of the object currently being read
// are buffered, so memory is bounded by the largest single element.
package jsonstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// ErrTruncated is returned when the input ends before the closing bracket.
var ErrTruncated = fmt.Errorf("%w: truncated array", domain.ErrMalformedInput)

// DefaultChunkSize is the read size used by Decode.
const DefaultChunkSize = 32 * 1024

type state int

const (
	stateExpectArrayStart state = iota
	stateBetweenElements
	stateInsideObject
	stateInsideString
	stateDone
)

func (s state) String() string {
	switch s {
	case stateExpectArrayStart:
		return "expect-array-start"
	case stateBetweenElements:
		return "between-elements"
	case stateInsideObject:
		return "inside-object"
	case stateInsideString:
		return "inside-string"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// ArrayDecoder incrementally splits a JSON array of objects into its elements.
type ArrayDecoder struct {
	state          state
	depth          int
	escaped        bool
	buf            []byte
	offset         int64
	emitted        int
	allowTruncated bool
	skipInvalid    bool
	skipped        int
	chunkSize      int
	emit           func(raw []byte) error
}

// Option configures an ArrayDecoder.
type Option func(*ArrayDecoder)

// AllowTruncated makes an input that ends before the closing bracket succeed.
// Any incomplete trailing object is discarded.
func AllowTruncated() Option {
	return func(d *ArrayDecoder) { d.allowTruncated = true }
}

// SkipInvalid passes over a balanced element that is not valid JSON instead of
// failing. Skipped elements are counted by Skipped, not Emitted.
func SkipInvalid() Option {
	return func(d *ArrayDecoder) { d.skipInvalid = true }
}

// WithChunkSize overrides the read size used by Decode.
func WithChunkSize(n int) Option {
	return func(d *ArrayDecoder) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// NewArrayDecoder returns a decoder that hands every complete top-level object
// to emit. The raw slice is only valid for the duration of the call.
func NewArrayDecoder(emit func(raw []byte) error, opts ...Option) *ArrayDecoder {
	d := &ArrayDecoder{emit: emit, chunkSize: DefaultChunkSize}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Done reports whether the closing bracket has been consumed.
func (d *ArrayDecoder) Done() bool { return d.state == stateDone }

// Emitted returns the number of objects handed to the callback so far.
func (d *ArrayDecoder) Emitted() int { return d.emitted }

// Skipped returns the number of invalid elements passed over with SkipInvalid.
func (d *ArrayDecoder) Skipped() int { return d.skipped }

// Feed consumes the next chunk. It returns done=true once the closing bracket is
// seen; the rest of the chunk is ignored. Errors returned by the callback are
// passed through unchanged.
func (d *ArrayDecoder) Feed(chunk []byte) (done bool, err error) {
	for i, c := range chunk {
		switch d.state {
		case stateDone:
			return true, nil

		case stateExpectArrayStart:
			if isSpace(c) {
				continue
			}
			if c != '[' {
				return false, d.malformed(i, "expected '[', got %q", c)
			}
			d.state = stateBetweenElements

		case stateBetweenElements:
			switch {
			case isSpace(c) || c == ',':
			case c == '{':
				d.buf = append(d.buf[:0], c)
				d.depth = 1
				d.state = stateInsideObject
			case c == ']':
				d.state = stateDone
				d.buf = nil
				d.offset += int64(i + 1)
				return true, nil
			default:
				return false, d.malformed(i, "unexpected %q between elements", c)
			}

		case stateInsideObject:
			d.buf = append(d.buf, c)
			switch c {
			case '"':
				d.state = stateInsideString
			case '{':
				d.depth++
			case '}':
				d.depth--
				if d.depth == 0 {
					if err := d.complete(i); err != nil {
						return false, err
					}
				}
			}

		case stateInsideString:
			d.buf = append(d.buf, c)
			switch {
			case d.escaped:
				d.escaped = false
			case c == '\\':
				d.escaped = true
			case c == '"':
				d.state = stateInsideObject
			}
		}
	}
	d.offset += int64(len(chunk))
	return d.state == stateDone, nil
}

// Finish must be called at end of input. It reports ErrTruncated when the
// closing bracket was never seen, unless AllowTruncated was given.
func (d *ArrayDecoder) Finish() error {
	switch d.state {
	case stateDone:
		return nil
	case stateExpectArrayStart:
		if d.allowTruncated {
			return nil
		}
		return fmt.Errorf("%w: empty input", domain.ErrMalformedInput)
	default:
		dangling := len(d.buf)
		d.buf = nil
		if d.allowTruncated {
			return nil
		}
		if dangling > 0 {
			return fmt.Errorf("%w: %d bytes of an incomplete object after %d elements", ErrTruncated, dangling, d.emitted)
		}
		return fmt.Errorf("%w: missing ']' after %d elements", ErrTruncated, d.emitted)
	}
}

func (d *ArrayDecoder) complete(i int) error {
	raw := d.buf
	d.state = stateBetweenElements
	var err error
	switch {
	case json.Valid(raw):
		d.emitted++
		err = d.emit(raw)
	case d.skipInvalid:
		d.skipped++
	default:
		return d.malformed(i, "element %d is not valid JSON", d.emitted)
	}
	d.buf = d.buf[:0]
	// Release a buffer that grew for an unusually large element.
	if cap(d.buf) > 1<<20 {
		d.buf = nil
	}
	return err
}

func (d *ArrayDecoder) malformed(i int, format string, args ...any) error {
	return fmt.Errorf("%w: offset %d: %s", domain.ErrMalformedInput, d.offset+int64(i), fmt.Sprintf(format, args...))
}

// Decode reads r chunk by chunk until the closing bracket or end of input.
func Decode(r io.Reader, emit func(raw []byte) error, opts ...Option) error {
	d := NewArrayDecoder(emit, opts...)
	return d.ReadFrom(r)
}

// ReadFrom drives the decoder from r. Reading stops as soon as the closing
// bracket has been consumed, without waiting for end of input.
func (d *ArrayDecoder) ReadFrom(r io.Reader) error {
	chunk := make([]byte, d.chunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			done, ferr := d.Feed(chunk[:n])
			if ferr != nil {
				return ferr
			}
			if done {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return d.Finish()
		}
		if err != nil {
			return fmt.Errorf("%w: read array: %v", domain.ErrIOFailure, err)
		}
	}
}

// Each decodes every element of the array into a T and hands it to fn.
func Each[T any](r io.Reader, fn func(T) error, opts ...Option) error {
	return Decode(r, func(raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}
		return fn(v)
	}, opts...)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
