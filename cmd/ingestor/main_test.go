package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/samirrijal/trailkeep/internal/core/domain"
)

func collect(t *testing.T, input string) ([]domain.Sample, error) {
	t.Helper()
	var out []domain.Sample
	err := readSamples(strings.NewReader(input), func(s domain.Sample) error {
		out = append(out, s)
		return nil
	})
	return out, err
}

func TestReadSamples_Array(t *testing.T) {
	got, err := collect(t, "\n  [{\"lat\":1,\"lon\":2},{\"lat\":\"3\",\"lon\":\"4\"}]\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if lat, _, ok := got[1].Coordinates(); !ok || lat != 3 {
		t.Errorf("expected string coordinates to survive, got %+v", got[1])
	}
}

func TestReadSamples_TruncatedArray(t *testing.T) {
	_, err := collect(t, `[{"lat":1,"lon":2},{"lat":`)
	if !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestReadSamples_Lines(t *testing.T) {
	input := "{\"lat\":1,\"lon\":2}\n\nnot json\n{\"lat\":5,\"lon\":6}\n"
	got, err := collect(t, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 samples with the bad line skipped, got %d", len(got))
	}
}

func TestReadSamples_Empty(t *testing.T) {
	got, err := collect(t, "  \n")
	if err != nil || len(got) != 0 {
		t.Errorf("expected nothing, got %v %v", got, err)
	}
}
