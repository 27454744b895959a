package filestore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/samirrijal/trailkeep/internal/core/domain"
	"github.com/samirrijal/trailkeep/internal/pkg/jsonstream"
)

// ErrAlreadyLineForm is returned by Migrate when the log is not an array.
var ErrAlreadyLineForm = errors.New("point log is already in line form")

// MigrateResult describes a completed migration.
type MigrateResult struct {
	Points int
	Backup string
}

// Migrate rewrites an array-form log at path into line form. The array is
// streamed through the decoder into a temporary file, so the log is never
// loaded whole. Only after the rewrite succeeds is a timestamped backup of the
// original written and the new file swapped in; on any failure the original is
// left untouched.
func Migrate(ctx context.Context, path string, now time.Time) (*MigrateResult, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrIOFailure, path, err)
	}
	defer src.Close()

	format, err := detectFormat(src)
	if err != nil {
		return nil, err
	}
	if format != FormatArray {
		return nil, ErrAlreadyLineForm
	}

	tmpPath := path + ".migrating"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrIOFailure, tmpPath, err)
	}
	abort := func(err error) (*MigrateResult, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}

	bw := bufio.NewWriterSize(tmp, 64*1024)
	var line bytes.Buffer
	count := 0
	err = jsonstream.Decode(src, func(raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := parseLine(raw); !ok {
			return fmt.Errorf("%w: element %d has no numeric lat/lon", domain.ErrMalformedInput, count)
		}
		line.Reset()
		if err := json.Compact(&line, raw); err != nil {
			return fmt.Errorf("%w: element %d: %v", domain.ErrMalformedInput, count, err)
		}
		line.WriteByte('\n')
		if _, err := bw.Write(line.Bytes()); err != nil {
			return fmt.Errorf("%w: write: %v", domain.ErrIOFailure, err)
		}
		count++
		return nil
	})
	if err != nil {
		return abort(fmt.Errorf("migrate %s: %w", path, err))
	}
	if err := bw.Flush(); err != nil {
		return abort(fmt.Errorf("%w: flush: %v", domain.ErrIOFailure, err))
	}
	if err := tmp.Sync(); err != nil {
		return abort(fmt.Errorf("%w: sync: %v", domain.ErrIOFailure, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: close: %v", domain.ErrIOFailure, err)
	}

	backup := fmt.Sprintf("%s.%s.bak", path, now.UTC().Format("20060102T150405Z"))
	if err := copyFile(path, backup); err != nil {
		_ = os.Remove(tmpPath)
		_ = os.Remove(backup)
		return nil, fmt.Errorf("%w: backup: %v", domain.ErrIOFailure, err)
	}
	if err := PublishFile(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	slog.Info("point log migrated to line form", "path", path, "points", count, "backup", backup)
	return &MigrateResult{Points: count, Backup: backup}, nil
}
