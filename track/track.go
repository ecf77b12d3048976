// Package track decodes activity recordings (FIT, GPX, TCX) into one
// normalized, time-ordered sequence of track points.
package track

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrCorruptFile is returned when the container structure of a recording cannot be parsed.
	ErrCorruptFile = errors.New("corrupt track file")

	// ErrUnsupportedFormat is returned for formats without a registered decoder.
	ErrUnsupportedFormat = errors.New("unsupported track format")
)

const maxWarnings = 25

// Format names a recording container.
type Format string

const (
	FormatFIT Format = "fit"
	FormatGPX Format = "gpx"
	FormatTCX Format = "tcx"
)

// ParseFormat normalizes a format name such as "FIT" or ".gpx".
func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	if _, ok := registry[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, filepath.Base(path))
	}
	return ParseFormat(ext)
}

// LatLng is a WGS84 position in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TrackPoint is one sample of a recording. Nil fields were not recorded.
type TrackPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Position  *LatLng   `json:"position,omitempty"`
	Elevation *float64  `json:"elevation_m,omitempty"`
	HeartRate *float64  `json:"heart_rate_bpm,omitempty"`
	Cadence   *float64  `json:"cadence,omitempty"`
	Speed     *float64  `json:"speed_mps,omitempty"`
}

// Device describes the recorder when the container carries that metadata.
type Device struct {
	Manufacturer string    `json:"manufacturer,omitempty"`
	Product      string    `json:"product,omitempty"`
	SerialNumber uint32    `json:"serial_number,omitempty"`
	TimeCreated  time.Time `json:"time_created,omitempty"`
}

// Track is a decoded recording. Points are ordered by timestamp.
type Track struct {
	Format         Format       `json:"format"`
	Points         []TrackPoint `json:"points"`
	Sport          string       `json:"sport,omitempty"`
	Device         *Device      `json:"device,omitempty"`
	SkippedRecords int          `json:"skipped_records"`
	Warnings       []string     `json:"warnings,omitempty"`

	suppressed int
}

func (t *Track) warnf(format string, args ...any) {
	if len(t.Warnings) >= maxWarnings {
		t.suppressed++
		return
	}
	t.Warnings = append(t.Warnings, fmt.Sprintf(format, args...))
}

func (t *Track) skip(format string, args ...any) {
	t.SkippedRecords++
	t.warnf(format, args...)
}

func (t *Track) finish() {
	sort.SliceStable(t.Points, func(i, j int) bool {
		return t.Points[i].Timestamp.Before(t.Points[j].Timestamp)
	})
	if t.suppressed > 0 {
		t.Warnings = append(t.Warnings, fmt.Sprintf("%d further warnings suppressed", t.suppressed))
		t.suppressed = 0
	}
}

// Decoder turns the raw bytes of one container format into a Track.
type Decoder interface {
	Decode(data []byte) (*Track, error)
}

var registry = map[Format]Decoder{
	FormatFIT: fitDecoder{},
	FormatGPX: gpxDecoder{},
	FormatTCX: tcxDecoder{},
}

// DecoderFor returns the registered decoder for f.
func DecoderFor(f Format) (Decoder, error) {
	d, ok := registry[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
	return d, nil
}

// Decode parses data as format f.
func Decode(data []byte, f Format) (*Track, error) {
	d, err := DecoderFor(f)
	if err != nil {
		return nil, err
	}
	t, err := d.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f, err)
	}
	t.Format = f
	t.finish()
	return t, nil
}

// DecodeFile reads path and decodes it using the format implied by its extension.
func DecodeFile(path string) (*Track, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read track file: %w", err)
	}
	return Decode(data, f)
}

func floatPtr(v float64) *float64 {
	return &v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
