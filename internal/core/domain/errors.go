package domain

import "errors"

var (
	// ErrMalformedInput marks a record or stream that cannot be parsed.
	ErrMalformedInput = errors.New("malformed input")

	// ErrIOFailure marks a file that could not be read or written.
	ErrIOFailure = errors.New("io failure")

	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
)
