package garminhealth

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasjlepore/garmin-health/track"
)

const (
	earthRadiusMeters = 6371008.8

	defaultElevationThreshold = 1.0
	defaultSplitDistance      = 1000.0
	defaultMovingSpeed        = 0.5
)

// ErrInsufficientData is returned when a track has fewer than two timestamped points.
var ErrInsufficientData = errors.New("insufficient data")

// Options controls the derived statistics.
type Options struct {
	// ElevationThreshold drops elevation deltas smaller than this many meters.
	ElevationThreshold float64 `json:"elevation_threshold_m"`
	// SplitDistance is the pace split length in meters.
	SplitDistance float64 `json:"split_distance_m"`
	// MaxHR enables heart-rate zones when positive.
	MaxHR float64 `json:"max_hr"`
	// MovingSpeed is the segment speed above which time counts as moving.
	// Zero selects the default.
	MovingSpeed float64 `json:"moving_speed_mps"`
}

// DefaultOptions returns the analyzer defaults.
func DefaultOptions() Options {
	return Options{
		ElevationThreshold: defaultElevationThreshold,
		SplitDistance:      defaultSplitDistance,
		MovingSpeed:        defaultMovingSpeed,
	}
}

func (o Options) withDefaults() Options {
	if !(o.ElevationThreshold > 0) {
		o.ElevationThreshold = defaultElevationThreshold
	}
	if !(o.SplitDistance > 0) {
		o.SplitDistance = defaultSplitDistance
	}
	if !(o.MovingSpeed > 0) {
		o.MovingSpeed = defaultMovingSpeed
	}
	if !(o.MaxHR > 0) {
		o.MaxHR = 0
	}
	return o
}

// Summary contains the statistics derived from one track.
type Summary struct {
	FilePath        string         `json:"file_path,omitempty"`
	Format          track.Format   `json:"format"`
	Sport           string         `json:"sport,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	PointCount      int            `json:"point_count"`
	SkippedRecords  int            `json:"skipped_records"`
	DurationSeconds float64        `json:"duration_seconds"`
	MovingSeconds   float64        `json:"moving_seconds"`
	DistanceMeters  float64        `json:"distance_meters"`
	ElevationGainM  float64        `json:"elevation_gain_m"`
	ElevationLossM  float64        `json:"elevation_loss_m"`
	ElevationMinM   *float64       `json:"elevation_min_m,omitempty"`
	ElevationMaxM   *float64       `json:"elevation_max_m,omitempty"`
	AvgSpeedMps     float64        `json:"avg_speed_mps"`
	MaxSpeedMps     float64        `json:"max_speed_mps"`
	AvgPaceSecPerKm float64        `json:"avg_pace_sec_per_km,omitempty"`
	AvgHeartRate    *float64       `json:"avg_heart_rate_bpm,omitempty"`
	MaxHeartRate    *float64       `json:"max_heart_rate_bpm,omitempty"`
	AvgCadence      *float64       `json:"avg_cadence,omitempty"`
	MaxCadence      *float64       `json:"max_cadence,omitempty"`
	HeartRateZones  []ZoneDuration `json:"heart_rate_zones,omitempty"`
	Splits          []Split        `json:"splits,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

// AnalyzeFile decodes a recording from disk and summarizes it.
func AnalyzeFile(path string, opts Options) (*Summary, error) {
	t, err := track.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Summarize(t, opts)
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", path, err)
	}
	s.FilePath = path
	return s, nil
}

// Summarize derives duration, distance, elevation, speed, heart-rate and
// cadence statistics plus splits and zones from t. t is not modified.
func Summarize(t *track.Track, opts Options) (*Summary, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: no track", ErrInsufficientData)
	}
	opts = opts.withDefaults()

	points := timedPoints(t.Points)
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: %d timestamped point(s), need at least 2", ErrInsufficientData, len(points))
	}

	start := points[0].Timestamp
	end := points[len(points)-1].Timestamp
	s := &Summary{
		Format:          t.Format,
		Sport:           t.Sport,
		StartTime:       start,
		EndTime:         end,
		PointCount:      len(points),
		SkippedRecords:  t.SkippedRecords,
		DurationSeconds: end.Sub(start).Seconds(),
		Warnings:        append([]string(nil), t.Warnings...),
	}

	var (
		weightedSpeed float64
		speedSeconds  float64
		positioned    int
		zones         = newZoneAccumulator(opts.MaxHR)
		splits        = newSplitAccumulator(opts.SplitDistance)
	)
	if points[0].Position != nil {
		positioned++
	}

	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		dt := cur.Timestamp.Sub(prev.Timestamp).Seconds()

		segDist, hasDist := 0.0, false
		if prev.Position != nil && cur.Position != nil {
			segDist, hasDist = haversine(*prev.Position, *cur.Position), true
			s.DistanceMeters += segDist
		}
		if cur.Position != nil {
			positioned++
		}

		speed, hasSpeed := segmentSpeed(cur, segDist, hasDist, dt)
		if hasSpeed {
			if speed > s.MaxSpeedMps {
				s.MaxSpeedMps = speed
			}
			if dt > 0 {
				weightedSpeed += speed * dt
				speedSeconds += dt
				if speed > opts.MovingSpeed {
					s.MovingSeconds += dt
				}
			}
		}

		if prev.HeartRate != nil {
			zones.add(*prev.HeartRate, dt)
		}
		if hasDist {
			splits.add(segDist, prev.Timestamp.Sub(start).Seconds(), dt)
		}
	}

	switch {
	case speedSeconds > 0:
		s.AvgSpeedMps = weightedSpeed / speedSeconds
	case s.DurationSeconds > 0:
		s.AvgSpeedMps = s.DistanceMeters / s.DurationSeconds
	}
	if s.AvgSpeedMps > 0 {
		s.AvgPaceSecPerKm = 1000.0 / s.AvgSpeedMps
	}

	s.ElevationGainM, s.ElevationLossM, s.ElevationMinM, s.ElevationMaxM = elevationStats(points, opts.ElevationThreshold)
	s.AvgHeartRate, s.MaxHeartRate = avgMax(points, func(p track.TrackPoint) *float64 { return p.HeartRate })
	s.AvgCadence, s.MaxCadence = avgMax(points, func(p track.TrackPoint) *float64 { return p.Cadence })
	s.HeartRateZones = zones.result()
	s.Splits = splits.result()

	if positioned < 2 {
		s.Warnings = append(s.Warnings, "fewer than two positioned points; distance not computed")
	}
	s.Notes = BuildNotes(s)
	return s, nil
}

// timedPoints returns the points carrying a timestamp, ordered by time.
func timedPoints(in []track.TrackPoint) []track.TrackPoint {
	out := make([]track.TrackPoint, 0, len(in))
	for _, p := range in {
		if p.Timestamp.IsZero() {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// segmentSpeed prefers the speed recorded at the end of the segment and
// falls back to distance over elapsed time.
func segmentSpeed(cur track.TrackPoint, dist float64, hasDist bool, dt float64) (float64, bool) {
	if cur.Speed != nil && isFinite(*cur.Speed) && *cur.Speed >= 0 {
		return *cur.Speed, true
	}
	if hasDist && dt > 0 {
		return dist / dt, true
	}
	return 0, false
}

func elevationStats(points []track.TrackPoint, threshold float64) (gain, loss float64, minElev, maxElev *float64) {
	var prev *float64
	for _, p := range points {
		if p.Elevation == nil || !isFinite(*p.Elevation) {
			continue
		}
		e := *p.Elevation
		if minElev == nil || e < *minElev {
			minElev = floatPtr(e)
		}
		if maxElev == nil || e > *maxElev {
			maxElev = floatPtr(e)
		}
		if prev != nil {
			delta := e - *prev
			if math.Abs(delta) >= threshold {
				if delta > 0 {
					gain += delta
				} else {
					loss -= delta
				}
			}
		}
		prev = floatPtr(e)
	}
	return gain, loss, minElev, maxElev
}

func avgMax(points []track.TrackPoint, field func(track.TrackPoint) *float64) (*float64, *float64) {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if v := field(p); v != nil && isFinite(*v) {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return nil, nil
	}
	return floatPtr(average(values)), floatPtr(maxValue(values))
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b track.LatLng) float64 {
	return haversine(a, b)
}

func haversine(a, b track.LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func maxValue(values []float64) float64 {
	max := 0.0
	for i, v := range values {
		if i == 0 || v > max {
			max = v
		}
	}
	return max
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func floatPtr(v float64) *float64 {
	return &v
}
