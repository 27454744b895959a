package jsonstream

import (
	"errors"
	"io"

	"github.com/goccy/go-json"
)

var errWriterClosed = errors.New("jsonstream: writer closed")

// ArrayWriter serialises a stream of values as a single JSON array.
type ArrayWriter struct {
	w      io.Writer
	n      int
	opened bool
	closed bool
}

// NewArrayWriter returns a writer that emits a JSON array to w.
func NewArrayWriter(w io.Writer) *ArrayWriter {
	return &ArrayWriter{w: w}
}

// Encode marshals v and appends it as the next element.
func (a *ArrayWriter) Encode(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.WriteRaw(raw)
}

// WriteRaw appends an already serialised element.
func (a *ArrayWriter) WriteRaw(raw []byte) error {
	if a.closed {
		return errWriterClosed
	}
	sep := []byte{','}
	if !a.opened {
		sep[0] = '['
		a.opened = true
	}
	if _, err := a.w.Write(sep); err != nil {
		return err
	}
	if _, err := a.w.Write(raw); err != nil {
		return err
	}
	a.n++
	return nil
}

// Count returns the number of elements written.
func (a *ArrayWriter) Count() int { return a.n }

// Close terminates the array. An array with no elements is written as [].
func (a *ArrayWriter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if !a.opened {
		_, err := io.WriteString(a.w, "[]")
		return err
	}
	_, err := io.WriteString(a.w, "]")
	return err
}
