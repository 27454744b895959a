package filestore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// rename is swapped out in tests to exercise the copy fallback.
var rename = os.Rename

// PublishFile moves tmp over dst. When the rename fails (for example across
// filesystems) it copies tmp onto dst and removes tmp. ErrIOFailure is
// returned only if both strategies fail, in which case dst is untouched or
// partially written and tmp is kept.
func PublishFile(tmp, dst string) error {
	renameErr := rename(tmp, dst)
	if renameErr == nil {
		return nil
	}
	slog.Warn("publish: rename failed, falling back to copy", "src", tmp, "dst", dst, "error", renameErr)

	if err := copyFile(tmp, dst); err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrIOFailure, dst, errors.Join(renameErr, err))
	}
	if err := os.Remove(tmp); err != nil {
		slog.Warn("publish: could not remove temp file", "path", tmp, "error", err)
	}
	return nil
}

// WriteFileAtomic writes path through a sibling temp file that is synced and
// then published with PublishFile.
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create dir: %v", domain.ErrIOFailure, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", domain.ErrIOFailure, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	bw := bufio.NewWriterSize(tmp, 64*1024)
	if err := write(bw); err != nil {
		cleanup()
		return err
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("%w: flush: %v", domain.ErrIOFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: sync: %v", domain.ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp: %v", domain.ErrIOFailure, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		slog.Warn("publish: chmod failed", "path", tmpPath, "error", err)
	}

	if err := PublishFile(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
