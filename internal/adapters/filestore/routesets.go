package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// RoutesetStore keeps routeset metadata in one JSON file and every snapshot in
// its own file next to it.
type RoutesetStore struct {
	metaPath string
	dir      string
	mu       sync.Mutex
}

// NewRoutesetStore returns a store using metaPath for the metadata list and
// dir for snapshot files.
func NewRoutesetStore(metaPath, dir string) *RoutesetStore {
	return &RoutesetStore{metaPath: metaPath, dir: dir}
}

// List returns routesets, newest first.
func (s *RoutesetStore) List(ctx context.Context) ([]domain.Routeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt > list[j].CreatedAt })
	return list, nil
}

// Get returns the metadata of one routeset.
func (s *RoutesetStore) Get(ctx context.Context, id string) (*domain.Routeset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			rs := list[i]
			return &rs, nil
		}
	}
	return nil, fmt.Errorf("routeset %s: %w", id, domain.ErrNotFound)
}

// Create writes the snapshot with write, then records the metadata. The
// returned count from write becomes PointCount.
func (s *RoutesetStore) Create(ctx context.Context, rs *domain.Routeset, write func(w io.Writer) (int, error)) error {
	if !validID(rs.ID) {
		return fmt.Errorf("%w: invalid routeset id %q", domain.ErrMalformedInput, rs.ID)
	}

	// The snapshot is written outside the lock; it may take a while.
	err := WriteFileAtomic(s.snapshotPath(rs.ID), func(w io.Writer) error {
		n, err := write(w)
		rs.PointCount = n
		return err
	})
	if err != nil {
		return fmt.Errorf("write routeset %s: %w", rs.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load()
	if err != nil {
		return err
	}
	list = append(list, *rs)
	return s.save(list)
}

// Open returns the snapshot file of a routeset.
func (s *RoutesetStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if !validID(id) {
		return nil, fmt.Errorf("routeset %s: %w", id, domain.ErrNotFound)
	}
	f, err := os.Open(s.snapshotPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("routeset %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open routeset: %v", domain.ErrIOFailure, err)
	}
	return f, nil
}

// Delete removes a routeset and its snapshot.
func (s *RoutesetStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.load()
	if err != nil {
		return err
	}
	kept := list[:0]
	found := false
	for _, rs := range list {
		if rs.ID == id {
			found = true
			continue
		}
		kept = append(kept, rs)
	}
	if !found {
		return fmt.Errorf("routeset %s: %w", id, domain.ErrNotFound)
	}
	if err := s.save(kept); err != nil {
		return err
	}
	if err := os.Remove(s.snapshotPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove routeset: %v", domain.ErrIOFailure, err)
	}
	return nil
}

func (s *RoutesetStore) load() ([]domain.Routeset, error) {
	data, err := os.ReadFile(s.metaPath)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return []domain.Routeset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read routesets: %v", domain.ErrIOFailure, err)
	}
	var list []domain.Routeset
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: routesets: %v", domain.ErrMalformedInput, err)
	}
	return list, nil
}

func (s *RoutesetStore) save(list []domain.Routeset) error {
	return WriteFileAtomic(s.metaPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	})
}

func (s *RoutesetStore) snapshotPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// validID keeps ids usable as file names.
func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
