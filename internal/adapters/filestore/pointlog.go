// Package filestore keeps the service state in plain files under a data
// directory: the point log, the privacy zone list, routeset snapshots and the
// published artifacts.
package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/core/ports"
	"github.com/samirrijal/trailkeep/internal/pkg/jsonstream"
	"github.com/samirrijal/trailkeep/internal/pkg/metrics"
)

// DefaultTailWindow is how much of the end of a line-form log LastPoint reads.
const DefaultTailWindow = 64 * 1024

// Format is the on-disk shape of the point log.
type Format int

const (
	// FormatLines stores one JSON object per line.
	FormatLines Format = iota
	// FormatArray stores a single JSON array (legacy).
	FormatArray
)

func (f Format) String() string {
	if f == FormatArray {
		return "array"
	}
	return "lines"
}

// PointLog is the append-only point store. The on-disk format is detected
// once in Open and never re-detected. One process owns the file.
type PointLog struct {
	path       string
	tailWindow int64
	matcher    ports.ZoneMatcher

	mu     sync.Mutex
	f      *os.File
	size   int64
	format Format
	cursor *domain.Point
}

// Option configures a PointLog.
type Option func(*PointLog)

// WithZoneMatcher enables redaction for Scan(ctx, true).
func WithZoneMatcher(m ports.ZoneMatcher) Option {
	return func(l *PointLog) { l.matcher = m }
}

// WithTailWindow sets how many trailing bytes LastPoint inspects.
func WithTailWindow(n int64) Option {
	return func(l *PointLog) {
		if n > 0 {
			l.tailWindow = n
		}
	}
}

// Open opens or creates the log at path, detects its format, repairs a torn
// final line and seeds the cursor from the last valid record.
func Open(ctx context.Context, path string, opts ...Option) (*PointLog, error) {
	l := &PointLog{path: path, tailWindow: DefaultTailWindow}
	for _, o := range opts {
		o(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrIOFailure, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open point log: %v", domain.ErrIOFailure, err)
	}
	l.f = f

	format, err := detectFormat(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.format = format

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat point log: %v", domain.ErrIOFailure, err)
	}
	l.size = info.Size()

	if l.format == FormatLines {
		if err := l.repairTail(); err != nil {
			f.Close()
			return nil, err
		}
	}

	last, err := l.LastPoint(ctx)
	if err != nil {
		slog.Warn("point log: could not read last point", "path", path, "error", err)
	}
	l.cursor = last

	slog.Info("point log opened", "path", path, "format", l.format.String(), "bytes", l.size)
	return l, nil
}

// detectFormat looks at the first non-whitespace byte.
func detectFormat(f *os.File) (Format, error) {
	buf := make([]byte, 4096)
	var off int64
	for {
		n, err := f.ReadAt(buf, off)
		for _, c := range buf[:n] {
			switch c {
			case ' ', '\n', '\r', '\t':
				continue
			case '[':
				return FormatArray, nil
			default:
				return FormatLines, nil
			}
		}
		off += int64(n)
		if errors.Is(err, io.EOF) {
			return FormatLines, nil
		}
		if err != nil {
			return FormatLines, fmt.Errorf("%w: detect format: %v", domain.ErrIOFailure, err)
		}
	}
}

// repairTail makes sure the file ends with a newline. A trailing fragment left
// by an interrupted write is cut off unless it happens to be a complete record.
func (l *PointLog) repairTail() error {
	if l.size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := l.f.ReadAt(last, l.size-1); err != nil {
		return fmt.Errorf("%w: read tail: %v", domain.ErrIOFailure, err)
	}
	if last[0] == '\n' {
		return nil
	}

	nl, err := lastIndexByte(l.f, l.size, '\n')
	if err != nil {
		return err
	}
	fragment := make([]byte, l.size-(nl+1))
	if _, err := l.f.ReadAt(fragment, nl+1); err != nil {
		return fmt.Errorf("%w: read tail: %v", domain.ErrIOFailure, err)
	}

	if _, ok := parseLine(fragment); ok {
		if _, err := l.f.WriteAt([]byte{'\n'}, l.size); err != nil {
			return fmt.Errorf("%w: terminate last line: %v", domain.ErrIOFailure, err)
		}
		l.size++
		return l.f.Sync()
	}

	if err := l.f.Truncate(nl + 1); err != nil {
		return fmt.Errorf("%w: truncate torn tail: %v", domain.ErrIOFailure, err)
	}
	slog.Warn("point log: dropped incomplete final line", "path", l.path, "bytes", len(fragment))
	metrics.LogTailRepairs.Inc()
	l.size = nl + 1
	return l.f.Sync()
}

// Path returns the log file path.
func (l *PointLog) Path() string { return l.path }

// Format returns the format detected at open.
func (l *PointLog) Format() Format {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.format
}

// Cursor returns a copy of the most recently accepted point, or nil.
func (l *PointLog) Cursor() *domain.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor == nil {
		return nil
	}
	p := *l.cursor
	return &p
}

// Append durably writes p and advances the cursor.
func (l *PointLog) Append(ctx context.Context, p domain.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.Valid() {
		return fmt.Errorf("%w: non-finite coordinates", domain.ErrMalformedInput)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode point: %v", domain.ErrMalformedInput, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("%w: point log closed", domain.ErrIOFailure)
	}

	if l.format == FormatArray {
		err = l.appendArray(raw)
	} else {
		err = l.appendLine(raw)
	}
	if err != nil {
		return err
	}

	l.cursor = &p
	metrics.LogAppends.WithLabelValues(l.format.String()).Inc()
	return nil
}

func (l *PointLog) appendLine(raw []byte) error {
	line := make([]byte, 0, len(raw)+1)
	line = append(line, raw...)
	line = append(line, '\n')

	n, err := l.f.WriteAt(line, l.size)
	if err != nil {
		if n > 0 {
			// Never leave half a record behind.
			_ = l.f.Truncate(l.size)
		}
		return fmt.Errorf("%w: append: %v", domain.ErrIOFailure, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", domain.ErrIOFailure, err)
	}
	l.size += int64(n)
	return nil
}

// appendArray rewrites only the closing bracket of a legacy array log.
func (l *PointLog) appendArray(raw []byte) error {
	closing, prev, err := l.arrayTail()
	if err != nil {
		return err
	}

	out := make([]byte, 0, len(raw)+4)
	if prev != '[' {
		out = append(out, ',')
	}
	out = append(out, raw...)
	out = append(out, ']', '\n')

	if _, err := l.f.WriteAt(out, closing); err != nil {
		return fmt.Errorf("%w: append: %v", domain.ErrIOFailure, err)
	}
	end := closing + int64(len(out))
	if end < l.size {
		if err := l.f.Truncate(end); err != nil {
			return fmt.Errorf("%w: append: %v", domain.ErrIOFailure, err)
		}
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", domain.ErrIOFailure, err)
	}
	l.size = end
	return nil
}

// arrayTail finds the offset of the closing ']' and the last significant byte
// before it.
func (l *PointLog) arrayTail() (closing int64, prev byte, err error) {
	closing = -1
	const block = 512
	buf := make([]byte, block)
	for end := l.size; end > 0; {
		start := end - block
		if start < 0 {
			start = 0
		}
		n, rerr := l.f.ReadAt(buf[:end-start], start)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return 0, 0, fmt.Errorf("%w: read array tail: %v", domain.ErrIOFailure, rerr)
		}
		for i := n - 1; i >= 0; i-- {
			c := buf[i]
			if c == ' ' || c == '\n' || c == '\r' || c == '\t' {
				continue
			}
			if closing < 0 {
				if c != ']' {
					return 0, 0, fmt.Errorf("%w: array log does not end with ']'", domain.ErrMalformedInput)
				}
				closing = start + int64(i)
				continue
			}
			return closing, c, nil
		}
		end = start
	}
	return 0, 0, fmt.Errorf("%w: array log has no opening '['", domain.ErrMalformedInput)
}

// Scan returns a lazy iterator over the log. With redact set, points inside a
// privacy zone are skipped.
func (l *PointLog) Scan(ctx context.Context, redact bool) (ports.PointIterator, error) {
	l.mu.Lock()
	format := l.format
	l.mu.Unlock()

	s := &Scanner{ctx: ctx}
	if redact {
		s.matcher = l.matcher
	}

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		s.done = true
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open for scan: %v", domain.ErrIOFailure, err)
	}

	if format == FormatArray {
		// Legacy path: the array is decoded in one go.
		defer f.Close()
		d := jsonstream.NewArrayDecoder(func(raw []byte) error {
			if p, ok := parseLine(raw); ok {
				s.items = append(s.items, p)
			} else {
				s.skipped++
				metrics.LogScanSkipped.Inc()
			}
			return nil
		}, jsonstream.AllowTruncated(), jsonstream.SkipInvalid())
		err := d.ReadFrom(f)
		if n := d.Skipped(); n > 0 {
			s.skipped += n
			metrics.LogScanSkipped.Add(float64(n))
		}
		if err != nil {
			slog.Warn("point log: array scan stopped early", "path", l.path, "error", err)
			s.tailErr = err
		}
		s.array = true
		return s, nil
	}

	s.f = f
	s.r = newLineReader(f)
	return s, nil
}

// LastPoint returns the last valid record. In line form only the trailing
// window of the file is read.
func (l *PointLog) LastPoint(ctx context.Context) (*domain.Point, error) {
	l.mu.Lock()
	format := l.format
	l.mu.Unlock()

	if format == FormatArray {
		var last *domain.Point
		f, err := os.Open(l.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: open: %v", domain.ErrIOFailure, err)
		}
		defer f.Close()
		err = jsonstream.Decode(f, func(raw []byte) error {
			if p, ok := parseLine(raw); ok {
				last = &p
			}
			return ctx.Err()
		}, jsonstream.AllowTruncated(), jsonstream.SkipInvalid())
		return last, err
	}

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", domain.ErrIOFailure, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %v", domain.ErrIOFailure, err)
	}
	start := info.Size() - l.tailWindow
	if start < 0 {
		start = 0
	}
	window := make([]byte, info.Size()-start)
	if _, err := f.ReadAt(window, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read tail: %v", domain.ErrIOFailure, err)
	}
	if start > 0 {
		// The first line of the window is probably cut.
		if i := bytes.IndexByte(window, '\n'); i >= 0 {
			window = window[i+1:]
		} else {
			return nil, nil
		}
	}

	for len(window) > 0 {
		window = bytes.TrimRight(window, "\r\n\t ")
		i := bytes.LastIndexByte(window, '\n')
		line := window[i+1:]
		if p, ok := parseLine(line); ok {
			return &p, nil
		}
		if i < 0 {
			break
		}
		window = window[:i]
	}
	return nil, nil
}

// Reset truncates the log and clears the cursor. A legacy array log is left
// as an empty array so its format stays valid.
func (l *PointLog) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("%w: point log closed", domain.ErrIOFailure)
	}

	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate: %v", domain.ErrIOFailure, err)
	}
	l.size = 0
	if l.format == FormatArray {
		n, err := l.f.WriteAt([]byte("[]\n"), 0)
		if err != nil {
			return fmt.Errorf("%w: reset array: %v", domain.ErrIOFailure, err)
		}
		l.size = int64(n)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", domain.ErrIOFailure, err)
	}
	l.cursor = nil
	slog.Info("point log reset", "path", l.path, "format", l.format.String())
	return nil
}

// Close releases the write handle.
func (l *PointLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// record is the tolerant on-disk shape. Older logs carry fractional speeds.
type record struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Timestamp string   `json:"timestamp"`
	Alt       *float64 `json:"alt"`
	Heading   *float64 `json:"heading"`
	SpeedKmh  *float64 `json:"speedKmh"`
}

// parseLine decodes one record. ok is false for blank or malformed input and
// for records without numeric lat/lon.
func parseLine(line []byte) (domain.Point, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return domain.Point{}, false
	}
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return domain.Point{}, false
	}
	if r.Lat == nil || r.Lon == nil {
		return domain.Point{}, false
	}
	p := domain.Point{
		Lat:       *r.Lat,
		Lon:       *r.Lon,
		Timestamp: r.Timestamp,
		Alt:       r.Alt,
		Heading:   r.Heading,
	}
	if r.SpeedKmh != nil {
		v := int(math.Round(*r.SpeedKmh))
		p.SpeedKmh = &v
	}
	if !p.Valid() {
		return domain.Point{}, false
	}
	return p, true
}

func lastIndexByte(f *os.File, size int64, c byte) (int64, error) {
	const block = 4096
	buf := make([]byte, block)
	for end := size; end > 0; {
		start := end - block
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return -1, fmt.Errorf("%w: read: %v", domain.ErrIOFailure, err)
		}
		if i := bytes.LastIndexByte(buf[:n], c); i >= 0 {
			return start + int64(i), nil
		}
		end = start
	}
	return -1, nil
}
