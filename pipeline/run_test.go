package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	garminhealth "github.com/lucasjlepore/garmin-health"
	"github.com/lucasjlepore/garmin-health/track"
)

const runGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="Forerunner 255" xmlns="http://www.topografix.com/GPX/1/1"
  xmlns:gpxtpx="http://www.garmin.com/xmlschemas/TrackPointExtension/v1">
  <trk>
    <type>running</type>
    <trkseg>
      <trkpt lat="45.0000" lon="-73.0000">
        <ele>100.0</ele>
        <time>2024-03-01T07:30:00Z</time>
        <extensions><gpxtpx:TrackPointExtension><gpxtpx:hr>140</gpxtpx:hr></gpxtpx:TrackPointExtension></extensions>
      </trkpt>
      <trkpt lat="45.0050" lon="-73.0000">
        <ele>104.0</ele>
        <time>2024-03-01T07:35:00Z</time>
        <extensions><gpxtpx:TrackPointExtension><gpxtpx:hr>150</gpxtpx:hr></gpxtpx:TrackPointExtension></extensions>
      </trkpt>
      <trkpt lat="45.0100" lon="-73.0000">
        <ele>102.0</ele>
        <time>2024-03-01T07:40:00Z</time>
        <extensions><gpxtpx:TrackPointExtension><gpxtpx:hr>160</gpxtpx:hr></gpxtpx:TrackPointExtension></extensions>
      </trkpt>
    </trkseg>
  </trk>
</gpx>`

func writeFixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func readManifest(t *testing.T, path string) Manifest {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	return m
}

func TestBuildPointRows(t *testing.T) {
	start := time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)
	hr := 150.0
	nan := math.NaN()
	tr := &track.Track{Points: []track.TrackPoint{
		{Timestamp: start, Position: &track.LatLng{Lat: 45, Lng: -73}},
		{Position: &track.LatLng{Lat: 50, Lng: -73}},
		{Timestamp: start.Add(5 * time.Minute), HeartRate: &hr, Elevation: &nan},
		{Timestamp: start.Add(10 * time.Minute), Position: &track.LatLng{Lat: 45.01, Lng: -73}},
	}}

	rows := BuildPointRows(tr)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 (untimed point dropped)", len(rows))
	}
	if rows[1].PointIndex != 1 || rows[1].ElapsedS != 300 || rows[1].TSUTCISO != "2024-03-01T07:35:00Z" {
		t.Fatalf("row 1 = %+v", rows[1])
	}
	if rows[1].Lat != nil || rows[1].DistanceM != 0 {
		t.Fatalf("unpositioned row should carry no position and no distance: %+v", rows[1])
	}
	if rows[1].HRBPM == nil || *rows[1].HRBPM != 150 {
		t.Fatalf("hr = %v, want 150", rows[1].HRBPM)
	}
	if rows[1].ElevationM != nil {
		t.Fatalf("NaN elevation should be dropped, got %v", *rows[1].ElevationM)
	}
	want := garminhealth.Distance(track.LatLng{Lat: 45, Lng: -73}, track.LatLng{Lat: 45.01, Lng: -73})
	if math.Abs(rows[2].DistanceM-want) > 1e-9 {
		t.Fatalf("cumulative distance = %v, want %v", rows[2].DistanceM, want)
	}
	if BuildPointRows(nil) != nil {
		t.Fatal("nil track should give nil rows")
	}
}

func TestRunWritesCSVArtifacts(t *testing.T) {
	in := writeFixture(t, "morning.gpx", runGPX)
	outDir := filepath.Join(t.TempDir(), "out")

	res, err := Run(Options{InputPath: in, OutDir: outDir, Format: "csv", CopySource: true})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if filepath.Base(res.PointsPath) != "track_points.csv" {
		t.Fatalf("points path = %s", res.PointsPath)
	}

	f, err := os.Open(res.PointsPath)
	if err != nil {
		t.Fatalf("open points: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("csv rows = %d, want header + 3", len(rows))
	}
	if diff := cmp.Diff(pointColumns, rows[0]); diff != "" {
		t.Fatalf("header (-want +got):\n%s", diff)
	}
	if rows[3][2] != "600.000000" {
		t.Fatalf("elapsed_s of last row = %q", rows[3][2])
	}

	m := readManifest(t, res.ManifestPath)
	if _, err := uuid.Parse(m.RunID); err != nil {
		t.Fatalf("run_id %q is not a uuid: %v", m.RunID, err)
	}
	if m.RunID != res.RunID {
		t.Fatalf("manifest run_id %s != result %s", m.RunID, res.RunID)
	}
	sum := sha256.Sum256([]byte(runGPX))
	if m.SourceSHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("sha256 = %s", m.SourceSHA256)
	}
	if m.SourceFormat != track.FormatGPX || m.Sport != "running" || m.PointCount != 3 {
		t.Fatalf("manifest = %+v", m)
	}
	wantFiles := []string{"manifest.json", "notes.md", "source.gpx", "summary.json", "track_points.csv"}
	if diff := cmp.Diff(wantFiles, m.Files); diff != "" {
		t.Fatalf("files (-want +got):\n%s", diff)
	}
	for _, name := range wantFiles {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}

	var s garminhealth.Summary
	data, err := os.ReadFile(res.SummaryPath)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if s.DurationSeconds != 600 || math.Abs(s.DistanceMeters-1111.95) > 1 {
		t.Fatalf("summary duration=%v distance=%v", s.DurationSeconds, s.DistanceMeters)
	}
	if s.FilePath != in {
		t.Fatalf("file_path = %q, want %q", s.FilePath, in)
	}
}

func TestRunRefusesNonEmptyOutputDir(t *testing.T) {
	in := writeFixture(t, "morning.gpx", runGPX)
	outDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(outDir, "keep.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(Options{InputPath: in, OutDir: outDir, Format: "csv"}); err == nil {
		t.Fatal("expected error for non-empty output directory")
	}
	if _, err := Run(Options{InputPath: in, OutDir: outDir, Format: "csv", Overwrite: true}); err != nil {
		t.Fatalf("Run with overwrite: %v", err)
	}
}

func TestRunWritesParquet(t *testing.T) {
	in := writeFixture(t, "morning.gpx", runGPX)
	res, err := Run(Options{InputPath: in, OutDir: filepath.Join(t.TempDir(), "out")})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	data, err := os.ReadFile(res.PointsPath)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatalf("%s is not a parquet file", res.PointsPath)
	}
}

func TestRunWritesSQLite(t *testing.T) {
	in := writeFixture(t, "morning.gpx", runGPX)
	res, err := Run(Options{InputPath: in, OutDir: filepath.Join(t.TempDir(), "out"), Format: "sqlite"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	db, err := sql.Open("sqlite", res.PointsPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var points int
	if err := db.QueryRow("SELECT COUNT(*) FROM track_points WHERE run_id = ?", res.RunID).Scan(&points); err != nil {
		t.Fatalf("count points: %v", err)
	}
	if points != 3 {
		t.Fatalf("track_points = %d, want 3", points)
	}

	var (
		sport  string
		avgHR  sql.NullFloat64
		splits int
	)
	if err := db.QueryRow("SELECT sport, avg_hr_bpm FROM summaries WHERE run_id = ?", res.RunID).Scan(&sport, &avgHR); err != nil {
		t.Fatalf("query summary: %v", err)
	}
	if sport != "running" || !avgHR.Valid || avgHR.Float64 != 150 {
		t.Fatalf("summary sport=%q avg_hr=%v", sport, avgHR)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM splits WHERE run_id = ?", res.RunID).Scan(&splits); err != nil {
		t.Fatalf("count splits: %v", err)
	}
	if splits != 2 {
		t.Fatalf("splits = %d, want 2", splits)
	}
}

func TestRunBytesProducesArtifacts(t *testing.T) {
	res, err := RunBytes(BytesOptions{
		SourceFileName: "morning.gpx",
		Data:           []byte(runGPX),
		Format:         "parquet",
		CopySource:     true,
	})
	if err != nil {
		t.Fatalf("RunBytes() error: %v", err)
	}

	required := []string{"manifest.json", "summary.json", "notes.md", "track_points.parquet", "source.gpx"}
	for _, name := range required {
		if _, ok := res.Files[name]; !ok {
			t.Fatalf("missing artifact %s", name)
		}
	}
	if len(res.Files) != len(required) {
		t.Fatalf("got %d artifacts, want %d", len(res.Files), len(required))
	}
	if !bytes.Equal(res.Files["source.gpx"], []byte(runGPX)) {
		t.Fatal("source copy differs from input")
	}
	if res.Summary == nil || res.Summary.PointCount != 3 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if !bytes.Contains(res.Files["notes.md"], []byte("Session: running (GPX)")) {
		t.Fatalf("notes = %s", res.Files["notes.md"])
	}
}

func TestRunBytesErrors(t *testing.T) {
	tests := []struct {
		name string
		opts BytesOptions
		want error
	}{
		{"unknown export", BytesOptions{SourceFileName: "a.gpx", Data: []byte(runGPX), Format: "xlsx"}, ErrUnsupportedExport},
		{"unknown source", BytesOptions{SourceFileName: "a.kml", Data: []byte(runGPX)}, track.ErrUnsupportedFormat},
		{"corrupt fit", BytesOptions{SourceFileName: "a.fit", Data: []byte{0x0e, 0x10}}, track.ErrCorruptFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RunBytes(tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := RunBytes(BytesOptions{SourceFileName: "a.gpx"}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestAnalyzeFilesRecordsPerFileErrors(t *testing.T) {
	good := writeFixture(t, "good.gpx", runGPX)
	corrupt := writeFixture(t, "bad.fit", "")
	unsupported := writeFixture(t, "notes.txt", "hello")

	results, err := AnalyzeFiles(context.Background(), []string{good, corrupt, unsupported}, garminhealth.DefaultOptions())
	if err != nil {
		t.Fatalf("AnalyzeFiles() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Err != nil || results[0].Summary == nil || results[0].Summary.PointCount != 3 {
		t.Fatalf("good result = %+v", results[0])
	}
	if results[1].Kind != garminhealth.KindCorruptFile || !errors.Is(results[1].Err, track.ErrCorruptFile) {
		t.Fatalf("corrupt result = %+v", results[1])
	}
	if results[2].Kind != garminhealth.KindUnsupportedFormat {
		t.Fatalf("unsupported result = %+v", results[2])
	}
	for i, path := range []string{good, corrupt, unsupported} {
		if results[i].Path != path {
			t.Fatalf("result %d path = %s, want %s", i, results[i].Path, path)
		}
	}
}

func TestAnalyzeFilesHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	good := writeFixture(t, "good.gpx", runGPX)
	if _, err := AnalyzeFiles(ctx, []string{good}, garminhealth.DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExportFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a", "run.gpx")
	b := filepath.Join(dir, "b", "run.gpx")
	for _, p := range []string{a, b} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(runGPX), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	outDir := filepath.Join(dir, "out")
	results, err := ExportFiles(context.Background(), []string{a, b}, outDir, Options{Format: "csv"})
	if err != nil {
		t.Fatalf("ExportFiles() error: %v", err)
	}
	want := []string{filepath.Join(outDir, "run"), filepath.Join(outDir, "run-2")}
	for i, res := range results {
		if res.OutputDir != want[i] {
			t.Fatalf("result %d dir = %s, want %s", i, res.OutputDir, want[i])
		}
	}
	if results[0].RunID == results[1].RunID {
		t.Fatal("run ids should differ between exports")
	}
}

func TestExportDirsAreUnique(t *testing.T) {
	got := exportDirs("out", []string{"a.fit", "a.gpx", "a-2.fit", "runs/a.tcx", ".fit"})
	want := []string{
		filepath.Join("out", "a"),
		filepath.Join("out", "a-2"),
		filepath.Join("out", "a-2-2"),
		filepath.Join("out", "a-3"),
		filepath.Join("out", "track"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("exportDirs mismatch (-want +got):\n%s", diff)
	}
}
