package pipeline

import (
	"time"

	garminhealth "github.com/lucasjlepore/garmin-health"
	"github.com/lucasjlepore/garmin-health/track"
)

// ManifestFormatVersion is bumped whenever an artifact layout changes.
const ManifestFormatVersion = "1"

// Options configures an export run over one recording on disk.
type Options struct {
	InputPath  string
	OutDir     string
	Format     string // parquet|csv|sqlite
	Overwrite  bool
	CopySource bool
	Analysis   garminhealth.Options
}

// BytesOptions configures an in-memory export run.
type BytesOptions struct {
	SourceFileName string
	Data           []byte
	Format         string
	CopySource     bool
	Analysis       garminhealth.Options
}

// Result returns generated output paths.
type Result struct {
	RunID          string                `json:"run_id"`
	OutputDir      string                `json:"output_dir"`
	ManifestPath   string                `json:"manifest_path"`
	PointsPath     string                `json:"points_path"`
	SummaryPath    string                `json:"summary_path"`
	NotesPath      string                `json:"notes_path"`
	SourceCopyPath string                `json:"source_copy_path,omitempty"`
	Summary        *garminhealth.Summary `json:"-"`
}

// BytesResult holds in-memory artifacts keyed by file name.
type BytesResult struct {
	RunID    string
	Files    map[string][]byte
	Summary  *garminhealth.Summary
	Warnings []string
}

// PointRow is one normalized, timestamped track point.
type PointRow struct {
	PointIndex int       `json:"point_index"`
	TSUTCISO   string    `json:"ts_utc_iso"`
	Timestamp  time.Time `json:"-"`
	ElapsedS   float64   `json:"elapsed_s"`
	DistanceM  float64   `json:"distance_m"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	ElevationM *float64  `json:"elevation_m,omitempty"`
	HRBPM      *float64  `json:"hr_bpm,omitempty"`
	Cadence    *float64  `json:"cadence,omitempty"`
	SpeedMPS   *float64  `json:"speed_mps,omitempty"`
}

// Manifest describes one export run and its artifacts.
type Manifest struct {
	FormatVersion   string        `json:"format_version"`
	RunID           string        `json:"run_id"`
	GeneratedAt     time.Time     `json:"generated_at"`
	SourceFile      string        `json:"source_file,omitempty"`
	SourceFileName  string        `json:"source_file_name"`
	SourceSHA256    string        `json:"source_sha256"`
	SourceSizeBytes int64         `json:"source_size_bytes"`
	SourceFormat    track.Format  `json:"source_format"`
	Sport           string        `json:"sport,omitempty"`
	Device          *track.Device `json:"device,omitempty"`
	PointCount      int           `json:"point_count"`
	SkippedRecords  int           `json:"skipped_records"`
	ExportFormat    string        `json:"export_format"`
	Files           []string      `json:"files"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// FileResult is the outcome of analyzing one file in a batch.
type FileResult struct {
	Path    string                `json:"path"`
	Summary *garminhealth.Summary `json:"summary,omitempty"`
	Kind    garminhealth.Kind     `json:"error_kind,omitempty"`
	Error   string                `json:"error,omitempty"`
	Err     error                 `json:"-"`
}
