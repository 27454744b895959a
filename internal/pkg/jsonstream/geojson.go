package jsonstream

import (
	"io"
	"strconv"

	"github.com/goccy/go-json"
)

const emptyFeatureCollection = `{"type":"FeatureCollection","features":[]}`

// LineBuilder writes a GeoJSON FeatureCollection holding one LineString feature,
// one vertex at a time. A line needs two vertices, so the first two are held
// back until the second arrives; if fewer than two are ever added the result is
// an empty FeatureCollection.
type LineBuilder struct {
	w       io.Writer
	pending [][2]float64
	open    bool
	closed  bool
	count   int
	start   string
	end     string
	scratch []byte
}

// LineProperties is written as the properties object of the line feature.
type LineProperties struct {
	PointCount int    `json:"pointCount"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
}

// NewLineBuilder returns a builder writing to w.
func NewLineBuilder(w io.Writer) *LineBuilder {
	return &LineBuilder{w: w, pending: make([][2]float64, 0, 2)}
}

// Add appends a vertex. timestamp may be empty.
func (b *LineBuilder) Add(lon, lat float64, timestamp string) error {
	if b.closed {
		return errWriterClosed
	}
	if timestamp != "" {
		if b.start == "" {
			b.start = timestamp
		}
		b.end = timestamp
	}
	b.count++

	if !b.open {
		b.pending = append(b.pending, [2]float64{lon, lat})
		if len(b.pending) < 2 {
			return nil
		}
		b.scratch = append(b.scratch[:0], `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[`...)
		b.scratch = appendPair(b.scratch, b.pending[0])
		b.scratch = append(b.scratch, ',')
		b.scratch = appendPair(b.scratch, b.pending[1])
		b.pending = b.pending[:0]
		b.open = true
		_, err := b.w.Write(b.scratch)
		return err
	}

	b.scratch = append(b.scratch[:0], ',')
	b.scratch = appendPair(b.scratch, [2]float64{lon, lat})
	_, err := b.w.Write(b.scratch)
	return err
}

// Count returns the number of vertices added.
func (b *LineBuilder) Count() int { return b.count }

// Close terminates the document.
func (b *LineBuilder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.open {
		_, err := io.WriteString(b.w, emptyFeatureCollection)
		return err
	}
	props, err := json.Marshal(LineProperties{PointCount: b.count, Start: b.start, End: b.end})
	if err != nil {
		return err
	}
	b.scratch = append(b.scratch[:0], `]},"properties":`...)
	b.scratch = append(b.scratch, props...)
	b.scratch = append(b.scratch, "}]}"...)
	_, err = b.w.Write(b.scratch)
	return err
}

func appendPair(dst []byte, p [2]float64) []byte {
	dst = append(dst, '[')
	dst = strconv.AppendFloat(dst, p[0], 'f', -1, 64)
	dst = append(dst, ',')
	dst = strconv.AppendFloat(dst, p[1], 'f', -1, 64)
	return append(dst, ']')
}
