package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

// ZoneFile reads the privacy zone list from a JSON array on disk. The list is
// maintained elsewhere; this side only reads it.
type ZoneFile struct {
	path string
}

// NewZoneFile returns a ZoneRepository backed by path.
func NewZoneFile(path string) *ZoneFile {
	return &ZoneFile{path: path}
}

// List returns all zones. A missing file is an empty list.
func (z *ZoneFile) List(ctx context.Context) ([]domain.PrivacyZone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(z.path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.PrivacyZone{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read zones: %v", domain.ErrIOFailure, err)
	}
	if len(data) == 0 {
		return []domain.PrivacyZone{}, nil
	}

	var zones []domain.PrivacyZone
	if err := json.Unmarshal(data, &zones); err != nil {
		return nil, fmt.Errorf("%w: zones: %v", domain.ErrMalformedInput, err)
	}

	valid := zones[:0]
	for _, zn := range zones {
		if zn.RadiusMeters <= 0 {
			continue
		}
		if zn.Lat < -90 || zn.Lat > 90 || zn.Lon < -180 || zn.Lon > 180 {
			continue
		}
		valid = append(valid, zn)
	}
	return valid, nil
}
