//go:build !js

package pipeline

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	garminhealth "github.com/lucasjlepore/garmin-health"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS summaries (
		run_id TEXT PRIMARY KEY,
		source_file_name TEXT NOT NULL,
		source_sha256 TEXT NOT NULL,
		source_format TEXT NOT NULL,
		sport TEXT,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		point_count INTEGER NOT NULL,
		skipped_records INTEGER NOT NULL,
		duration_s REAL NOT NULL,
		moving_s REAL NOT NULL,
		distance_m REAL NOT NULL,
		elevation_gain_m REAL NOT NULL,
		elevation_loss_m REAL NOT NULL,
		avg_speed_mps REAL NOT NULL,
		max_speed_mps REAL NOT NULL,
		avg_hr_bpm REAL,
		max_hr_bpm REAL,
		avg_cadence REAL,
		max_cadence REAL,
		notes TEXT,
		generated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS splits (
		run_id TEXT NOT NULL,
		split_index INTEGER NOT NULL,
		distance_m REAL NOT NULL,
		duration_s REAL NOT NULL,
		pace_s_per_km REAL NOT NULL,
		partial INTEGER NOT NULL,
		PRIMARY KEY (run_id, split_index),
		FOREIGN KEY (run_id) REFERENCES summaries(run_id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS track_points (
		run_id TEXT NOT NULL,
		point_index INTEGER NOT NULL,
		ts_utc TEXT NOT NULL,
		elapsed_s REAL NOT NULL,
		distance_m REAL NOT NULL,
		lat REAL,
		lng REAL,
		elevation_m REAL,
		hr_bpm REAL,
		cadence REAL,
		speed_mps REAL,
		PRIMARY KEY (run_id, point_index),
		FOREIGN KEY (run_id) REFERENCES summaries(run_id) ON DELETE CASCADE
	)`,

	`CREATE INDEX IF NOT EXISTS idx_track_points_ts ON track_points(ts_utc)`,
}

// writeSQLite stores one run in the database at path, creating the schema
// when needed. An existing database gains another run.
func writeSQLite(path string, m Manifest, s *garminhealth.Summary, rows []PointRow) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO summaries (
			run_id, source_file_name, source_sha256, source_format, sport,
			start_time, end_time, point_count, skipped_records,
			duration_s, moving_s, distance_m, elevation_gain_m, elevation_loss_m,
			avg_speed_mps, max_speed_mps, avg_hr_bpm, max_hr_bpm, avg_cadence, max_cadence,
			notes, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.SourceFileName, m.SourceSHA256, string(m.SourceFormat), s.Sport,
		s.StartTime.UTC().Format(time.RFC3339), s.EndTime.UTC().Format(time.RFC3339), s.PointCount, s.SkippedRecords,
		s.DurationSeconds, s.MovingSeconds, s.DistanceMeters, s.ElevationGainM, s.ElevationLossM,
		s.AvgSpeedMps, s.MaxSpeedMps, s.AvgHeartRate, s.MaxHeartRate, s.AvgCadence, s.MaxCadence,
		s.Notes, m.GeneratedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}

	for _, sp := range s.Splits {
		_, err := tx.Exec(`
			INSERT INTO splits (run_id, split_index, distance_m, duration_s, pace_s_per_km, partial)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.RunID, sp.Index, sp.DistanceMeters, sp.DurationSeconds, sp.PaceSecPerKm, sp.Partial,
		)
		if err != nil {
			return fmt.Errorf("inserting split: %w", err)
		}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO track_points (
			run_id, point_index, ts_utc, elapsed_s, distance_m,
			lat, lng, elevation_m, hr_bpm, cadence, speed_mps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.Exec(
			m.RunID, r.PointIndex, r.TSUTCISO, r.ElapsedS, r.DistanceM,
			r.Lat, r.Lng, r.ElevationM, r.HRBPM, r.Cadence, r.SpeedMPS,
		)
		if err != nil {
			return fmt.Errorf("inserting track point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// marshalSQLite builds the database in a scratch directory and returns its bytes.
func marshalSQLite(m Manifest, s *garminhealth.Summary, rows []PointRow) ([]byte, error) {
	dir, err := os.MkdirTemp("", "garmin-health-sqlite-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, sqliteFileName)
	if err := writeSQLite(path, m, s, rows); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
