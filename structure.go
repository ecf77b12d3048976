package garminhealth

import "math"

// ZoneDuration stores time spent in one heart-rate zone.
type ZoneDuration struct {
	Zone       string  `json:"zone"`
	MinPctMax  float64 `json:"min_pct_max_hr"`
	MaxPctMax  float64 `json:"max_pct_max_hr"`
	Seconds    float64 `json:"seconds"`
	Percentage float64 `json:"percentage"`
}

// Split is one fixed-distance slice of the activity.
type Split struct {
	Index           int     `json:"index"`
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
	PaceSecPerKm    float64 `json:"pace_sec_per_km"`
	// Partial marks the trailing split shorter than the split distance.
	Partial bool `json:"partial,omitempty"`
}

var heartRateZones = []struct {
	zone     string
	min, max float64
}{
	{zone: "Z1 Recovery", min: 0, max: 60},
	{zone: "Z2 Endurance", min: 60, max: 70},
	{zone: "Z3 Tempo", min: 70, max: 80},
	{zone: "Z4 Threshold", min: 80, max: 90},
	{zone: "Z5 Maximum", min: 90, max: math.Inf(1)},
}

type zoneAccumulator struct {
	maxHR   float64
	seconds []float64
	total   float64
}

func newZoneAccumulator(maxHR float64) *zoneAccumulator {
	return &zoneAccumulator{maxHR: maxHR, seconds: make([]float64, len(heartRateZones))}
}

// add credits dt seconds to the zone of the heart rate at the segment start.
func (z *zoneAccumulator) add(hr, dt float64) {
	if z.maxHR <= 0 || dt <= 0 || !isFinite(hr) || hr <= 0 {
		return
	}
	pct := hr / z.maxHR * 100
	for i, zone := range heartRateZones {
		if pct >= zone.min && pct < zone.max {
			z.seconds[i] += dt
			z.total += dt
			return
		}
	}
}

func (z *zoneAccumulator) result() []ZoneDuration {
	if z.total == 0 {
		return nil
	}
	out := make([]ZoneDuration, 0, len(heartRateZones))
	for i, zone := range heartRateZones {
		maxPct := zone.max
		if math.IsInf(maxPct, 1) {
			maxPct = 0
		}
		out = append(out, ZoneDuration{
			Zone:       zone.zone,
			MinPctMax:  zone.min,
			MaxPctMax:  maxPct,
			Seconds:    z.seconds[i],
			Percentage: z.seconds[i] / z.total * 100,
		})
	}
	return out
}

type splitAccumulator struct {
	length    float64
	started   bool
	covered   float64
	lastMark  float64
	lastTime  float64
	endTime   float64
	completed []Split
}

func newSplitAccumulator(length float64) *splitAccumulator {
	return &splitAccumulator{length: length}
}

// add consumes one positioned segment of dist meters that starts at elapsed
// second startAt and lasts dt seconds. Split boundaries inside the segment
// are timed by linear interpolation.
func (s *splitAccumulator) add(dist, startAt, dt float64) {
	if !s.started {
		s.lastTime = startAt
		s.started = true
	}
	if dist <= 0 {
		s.endTime = startAt + dt
		return
	}
	next := s.lastMark + s.length
	for s.covered+dist >= next {
		frac := (next - s.covered) / dist
		crossAt := startAt + frac*dt
		s.completed = append(s.completed, newSplit(len(s.completed)+1, s.length, crossAt-s.lastTime, false))
		s.lastMark = next
		s.lastTime = crossAt
		next += s.length
	}
	s.covered += dist
	s.endTime = startAt + dt
}

func (s *splitAccumulator) result() []Split {
	out := s.completed
	if rest := s.covered - s.lastMark; rest >= 1 {
		out = append(out, newSplit(len(out)+1, rest, s.endTime-s.lastTime, true))
	}
	return out
}

func newSplit(index int, dist, seconds float64, partial bool) Split {
	sp := Split{
		Index:           index,
		DistanceMeters:  dist,
		DurationSeconds: seconds,
		Partial:         partial,
	}
	if dist > 0 && seconds > 0 {
		sp.PaceSecPerKm = seconds / (dist / 1000)
	}
	return sp
}
