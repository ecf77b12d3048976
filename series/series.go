// Package series resolves point-in-time values from one day of sparse,
// irregularly sampled health metric readings.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasjlepore/garmin-health/timespec"
)

// ErrNotFound is returned when no sample satisfies the requested policy.
var ErrNotFound = errors.New("no sample found")

// Sample is one timestamped reading.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	// Status holds the non-numeric part of structured readings, e.g. "MEASURED".
	Status string `json:"status,omitempty"`
}

// Series is one metric's samples for one calendar day, ordered by timestamp
// with no duplicate timestamps.
type Series struct {
	Metric  string   `json:"metric"`
	Samples []Sample `json:"samples"`
	// Dropped counts input rows discarded while building the series.
	Dropped int `json:"dropped,omitempty"`
}

// New builds a Series from samples in any order. Samples sharing a timestamp
// collapse to the one that appears last in the input.
func New(metric string, samples []Sample) Series {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := sorted[:0]
	for _, s := range sorted {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(s.Timestamp) {
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}
	return Series{Metric: metric, Samples: out}
}

// Len returns the number of samples.
func (s Series) Len() int {
	return len(s.Samples)
}

// Reading is the resolved answer to a point-in-time query.
type Reading struct {
	Metric       string    `json:"metric"`
	Value        float64   `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
	Policy       Policy    `json:"policy"`
	Interpolated bool      `json:"interpolated"`
	Status       string    `json:"status,omitempty"`
	// Offset is the signed distance from the target to the sample used (zero when interpolated).
	Offset time.Duration `json:"offset_ns"`
}

// Resolve returns the value of s at target (time elapsed since local midnight) under p.
// target is assumed to be in [0, 24h); the timespec parser enforces that.
func Resolve(s Series, target time.Duration, p Policy) (Reading, error) {
	if len(s.Samples) == 0 {
		return Reading{}, fmt.Errorf("%s at %s: %w", s.Metric, clock(target), ErrNotFound)
	}

	switch p {
	case PolicyExact:
		return resolveExact(s, target)
	case PolicyNearest:
		return resolveNearest(s, target), nil
	case PolicyInterpolate:
		return resolveInterpolate(s, target), nil
	default:
		return Reading{}, fmt.Errorf("resolve %s: unknown policy %d", s.Metric, int(p))
	}
}

// ResolveAt resolves the samples of s that fall on ts.Date at ts.TimeOfDay.
func ResolveAt(s Series, ts timespec.TimeSpec, p Policy) (Reading, error) {
	sameDay := make([]Sample, 0, len(s.Samples))
	for _, sample := range s.Samples {
		if timespec.DateOf(sample.Timestamp) == ts.Date {
			sameDay = append(sameDay, sample)
		}
	}
	if len(sameDay) == 0 {
		return Reading{}, fmt.Errorf("%s on %s: %w", s.Metric, ts.Date, ErrNotFound)
	}
	return Resolve(Series{Metric: s.Metric, Samples: sameDay}, ts.TimeOfDay, p)
}

func resolveExact(s Series, target time.Duration) (Reading, error) {
	want := target.Truncate(time.Second)
	for _, sample := range s.Samples {
		if timespec.OfDay(sample.Timestamp).Truncate(time.Second) == want {
			return sampleReading(s.Metric, sample, PolicyExact, target), nil
		}
	}
	return Reading{}, fmt.Errorf("%s at %s: %w", s.Metric, clock(target), ErrNotFound)
}

func resolveNearest(s Series, target time.Duration) Reading {
	best := 0
	bestDiff := absDuration(timespec.OfDay(s.Samples[0].Timestamp) - target)
	for i := 1; i < len(s.Samples); i++ {
		diff := absDuration(timespec.OfDay(s.Samples[i].Timestamp) - target)
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return sampleReading(s.Metric, s.Samples[best], PolicyNearest, target)
}

func resolveInterpolate(s Series, target time.Duration) Reading {
	first := s.Samples[0]
	last := s.Samples[len(s.Samples)-1]
	if target <= timespec.OfDay(first.Timestamp) {
		return sampleReading(s.Metric, first, PolicyInterpolate, target)
	}
	if target >= timespec.OfDay(last.Timestamp) {
		return sampleReading(s.Metric, last, PolicyInterpolate, target)
	}

	for i := 0; i < len(s.Samples)-1; i++ {
		lo, hi := s.Samples[i], s.Samples[i+1]
		loT, hiT := timespec.OfDay(lo.Timestamp), timespec.OfDay(hi.Timestamp)
		if target == loT {
			return sampleReading(s.Metric, lo, PolicyInterpolate, target)
		}
		if target < loT || target >= hiT {
			continue
		}

		frac := float64(target-loT) / float64(hiT-loT)
		value := lo.Value + (hi.Value-lo.Value)*frac
		value = math.Max(math.Min(lo.Value, hi.Value), math.Min(math.Max(lo.Value, hi.Value), value))
		return Reading{
			Metric:       s.Metric,
			Value:        value,
			Timestamp:    lo.Timestamp.Add(target - loT),
			Policy:       PolicyInterpolate,
			Interpolated: true,
		}
	}

	// Unreachable for a series ordered within one day.
	return sampleReading(s.Metric, last, PolicyInterpolate, target)
}

func sampleReading(metric string, sample Sample, p Policy, target time.Duration) Reading {
	return Reading{
		Metric:    metric,
		Value:     sample.Value,
		Timestamp: sample.Timestamp,
		Policy:    p,
		Status:    sample.Status,
		Offset:    timespec.OfDay(sample.Timestamp) - target,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func clock(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
