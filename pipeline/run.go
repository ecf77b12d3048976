package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	garminhealth "github.com/lucasjlepore/garmin-health"
	"github.com/lucasjlepore/garmin-health/track"
)

// ErrUnsupportedExport is returned for an unknown export format or one the
// build target cannot write.
var ErrUnsupportedExport = errors.New("unsupported export format")

const (
	manifestFileName = "manifest.json"
	summaryFileName  = "summary.json"
	notesFileName    = "notes.md"
	sqliteFileName   = "activity.sqlite"
)

// analysis is everything derived from one recording before it is written out.
type analysis struct {
	summary  *garminhealth.Summary
	rows     []PointRow
	manifest Manifest
}

// Run decodes and summarizes opts.InputPath and writes the artifacts to opts.OutDir:
//   - manifest.json
//   - summary.json
//   - notes.md
//   - track_points.parquet, track_points.csv or activity.sqlite
//   - source.<ext> (optional)
func Run(opts Options) (*Result, error) {
	if strings.TrimSpace(opts.InputPath) == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if strings.TrimSpace(opts.OutDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	format, err := normalizeFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	src, err := track.FormatFromPath(opts.InputPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("read track file: %w", err)
	}

	a, err := analyze(filepath.Base(opts.InputPath), data, src, opts.Analysis)
	if err != nil {
		return nil, err
	}
	a.summary.FilePath = opts.InputPath
	a.manifest.SourceFile = opts.InputPath

	if err := ensureOutputDir(opts.OutDir, opts.Overwrite); err != nil {
		return nil, err
	}

	pointsPath := filepath.Join(opts.OutDir, pointsFileName(format))
	switch format {
	case "csv":
		f, err := os.Create(pointsPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Base(pointsPath), err)
		}
		err = writePointsCSV(f, a.rows)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("write track points csv: %w", err)
		}
	case "parquet":
		if err := writePointsParquet(pointsPath, a.rows); err != nil {
			return nil, fmt.Errorf("write track points parquet: %w", err)
		}
	case "sqlite":
		if err := writeSQLite(pointsPath, a.manifest, a.summary, a.rows); err != nil {
			return nil, fmt.Errorf("write sqlite database: %w", err)
		}
	}

	sourceCopyPath := ""
	if opts.CopySource {
		sourceCopyPath = filepath.Join(opts.OutDir, sourceFileName(src))
		if err := os.WriteFile(sourceCopyPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("copy source file: %w", err)
		}
	}

	summaryPath := filepath.Join(opts.OutDir, summaryFileName)
	if err := writeJSON(summaryPath, a.summary); err != nil {
		return nil, fmt.Errorf("write %s: %w", summaryFileName, err)
	}
	notesPath := filepath.Join(opts.OutDir, notesFileName)
	if err := os.WriteFile(notesPath, []byte(a.summary.Notes), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", notesFileName, err)
	}

	a.manifest.Files = artifactNames(format, src, opts.CopySource)
	manifestPath := filepath.Join(opts.OutDir, manifestFileName)
	if err := writeJSON(manifestPath, a.manifest); err != nil {
		return nil, fmt.Errorf("write %s: %w", manifestFileName, err)
	}

	return &Result{
		RunID:          a.manifest.RunID,
		OutputDir:      opts.OutDir,
		ManifestPath:   manifestPath,
		PointsPath:     pointsPath,
		SummaryPath:    summaryPath,
		NotesPath:      notesPath,
		SourceCopyPath: sourceCopyPath,
		Summary:        a.summary,
	}, nil
}

// RunBytes produces the same artifacts as Run without touching an output
// directory. The source format is taken from the file name extension.
func RunBytes(opts BytesOptions) (*BytesResult, error) {
	if len(opts.Data) == 0 {
		return nil, fmt.Errorf("track bytes are required")
	}
	name := strings.TrimSpace(opts.SourceFileName)
	if name == "" {
		name = "input.fit"
	}
	format, err := normalizeFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	src, err := track.FormatFromPath(name)
	if err != nil {
		return nil, err
	}

	a, err := analyze(name, opts.Data, src, opts.Analysis)
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte, 5)
	var points []byte
	switch format {
	case "csv":
		var buf bytes.Buffer
		if err := writePointsCSV(&buf, a.rows); err != nil {
			return nil, fmt.Errorf("write track points csv: %w", err)
		}
		points = buf.Bytes()
	case "parquet":
		points, err = marshalPointsParquet(a.rows)
		if err != nil {
			return nil, fmt.Errorf("write track points parquet: %w", err)
		}
	case "sqlite":
		points, err = marshalSQLite(a.manifest, a.summary, a.rows)
		if err != nil {
			return nil, fmt.Errorf("write sqlite database: %w", err)
		}
	}
	files[pointsFileName(format)] = points

	if opts.CopySource {
		files[sourceFileName(src)] = append([]byte(nil), opts.Data...)
	}
	summaryJSON, err := marshalJSON(a.summary)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", summaryFileName, err)
	}
	files[summaryFileName] = summaryJSON
	files[notesFileName] = []byte(a.summary.Notes)

	a.manifest.Files = artifactNames(format, src, opts.CopySource)
	manifestJSON, err := marshalJSON(a.manifest)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", manifestFileName, err)
	}
	files[manifestFileName] = manifestJSON

	return &BytesResult{
		RunID:    a.manifest.RunID,
		Files:    files,
		Summary:  a.summary,
		Warnings: a.summary.Warnings,
	}, nil
}

func analyze(name string, data []byte, src track.Format, opts garminhealth.Options) (*analysis, error) {
	t, err := track.Decode(data, src)
	if err != nil {
		return nil, err
	}
	s, err := garminhealth.Summarize(t, opts)
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	return &analysis{
		summary: s,
		rows:    BuildPointRows(t),
		manifest: Manifest{
			FormatVersion:   ManifestFormatVersion,
			RunID:           uuid.NewString(),
			GeneratedAt:     time.Now().UTC(),
			SourceFileName:  name,
			SourceSHA256:    hex.EncodeToString(sum[:]),
			SourceSizeBytes: int64(len(data)),
			SourceFormat:    t.Format,
			Sport:           t.Sport,
			Device:          t.Device,
			PointCount:      s.PointCount,
			SkippedRecords:  t.SkippedRecords,
			Warnings:        s.Warnings,
		},
	}, nil
}

// BuildPointRows flattens the timestamped points of t into export rows with
// elapsed time and cumulative distance.
func BuildPointRows(t *track.Track) []PointRow {
	if t == nil {
		return nil
	}
	rows := make([]PointRow, 0, len(t.Points))
	var (
		start    time.Time
		distance float64
		last     *track.LatLng
	)
	for _, p := range t.Points {
		if p.Timestamp.IsZero() {
			continue
		}
		if len(rows) == 0 {
			start = p.Timestamp
		}
		row := PointRow{
			PointIndex: len(rows),
			TSUTCISO:   p.Timestamp.UTC().Format(time.RFC3339),
			Timestamp:  p.Timestamp,
			ElapsedS:   p.Timestamp.Sub(start).Seconds(),
			ElevationM: finiteOrNil(p.Elevation),
			HRBPM:      finiteOrNil(p.HeartRate),
			Cadence:    finiteOrNil(p.Cadence),
			SpeedMPS:   finiteOrNil(p.Speed),
		}
		if p.Position != nil {
			if last != nil {
				distance += garminhealth.Distance(*last, *p.Position)
			}
			pos := *p.Position
			last = &pos
			row.Lat = floatPtr(pos.Lat)
			row.Lng = floatPtr(pos.Lng)
		}
		row.DistanceM = distance
		rows = append(rows, row)
	}
	return rows
}

func normalizeFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "parquet"
	}
	switch format {
	case "parquet", "csv", "sqlite":
		return format, nil
	}
	return "", fmt.Errorf("%w: %q (expected parquet|csv|sqlite)", ErrUnsupportedExport, format)
}

func pointsFileName(format string) string {
	if format == "sqlite" {
		return sqliteFileName
	}
	return "track_points." + format
}

func sourceFileName(src track.Format) string {
	return "source." + string(src)
}

func artifactNames(format string, src track.Format, copySource bool) []string {
	names := []string{manifestFileName, summaryFileName, notesFileName, pointsFileName(format)}
	if copySource {
		names = append(names, sourceFileName(src))
	}
	sort.Strings(names)
	return names
}

func ensureOutputDir(path string, overwrite bool) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read output directory: %w", err)
	}
	if len(entries) > 0 && !overwrite {
		return fmt.Errorf("output directory is not empty: %s (set overwrite=true to allow)", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return floatPtr(*v)
}

func floatPtr(v float64) *float64 {
	return &v
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
