package filestore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/pkg/metrics"
)

// Scanner iterates the point log once. It is not safe for concurrent use and
// cannot be restarted.
type Scanner struct {
	ctx     context.Context
	matcher ports.ZoneMatcher

	f *os.File
	r *bufio.Reader

	array   bool
	items   []domain.Point
	idx     int
	tailErr error

	cur     domain.Point
	err     error
	done    bool
	skipped int
}

func newLineReader(f *os.File) *bufio.Reader {
	return bufio.NewReaderSize(f, 64*1024)
}

// Next advances to the next point. It returns false at the end of the log or
// on error; check Err afterwards.
func (s *Scanner) Next() bool {
	for !s.done {
		if err := s.ctx.Err(); err != nil {
			s.fail(err)
			return false
		}

		p, ok := s.advance()
		if !ok {
			continue
		}
		if s.matcher != nil && s.matcher.Contains(s.ctx, p.Lat, p.Lon) {
			continue
		}
		s.cur = p
		return true
	}
	return false
}

// advance reads one record. ok is false for a skipped record or at the end.
func (s *Scanner) advance() (domain.Point, bool) {
	if s.array {
		if s.idx >= len(s.items) {
			s.done = true
			s.err = s.tailErr
			s.items = nil
			return domain.Point{}, false
		}
		p := s.items[s.idx]
		s.idx++
		return p, true
	}

	line, err := s.r.ReadBytes('\n')
	if errors.Is(err, io.EOF) {
		// A final line without its newline is an append in progress; the next
		// scan picks it up.
		s.finish()
		return domain.Point{}, false
	}
	if err != nil {
		s.fail(fmt.Errorf("%w: scan: %v", domain.ErrIOFailure, err))
		return domain.Point{}, false
	}

	p, ok := parseLine(line)
	if !ok {
		if len(bytes.TrimSpace(line)) > 0 {
			s.skipped++
			metrics.LogScanSkipped.Inc()
		}
		return domain.Point{}, false
	}
	return p, true
}

// Point returns the current point.
func (s *Scanner) Point() domain.Point { return s.cur }

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error { return s.err }

// Skipped returns the number of malformed records passed over so far.
func (s *Scanner) Skipped() int { return s.skipped }

// Close releases the file handle.
func (s *Scanner) Close() error {
	s.done = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *Scanner) finish() {
	s.done = true
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
}

func (s *Scanner) fail(err error) {
	s.err = err
	s.finish()
}
