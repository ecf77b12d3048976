package garminhealth

import (
	"fmt"
	"math"
	"strings"
)

// BuildNotes renders a summary as a short plain-text report.
func BuildNotes(s *Summary) string {
	if s == nil {
		return ""
	}

	var b strings.Builder

	sport := s.Sport
	if sport == "" {
		sport = "activity"
	}
	fmt.Fprintf(&b, "Session: %s (%s)\n", sport, strings.ToUpper(string(s.Format)))
	if !s.StartTime.IsZero() {
		fmt.Fprintf(&b, "Start: %s\n", s.StartTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(
		&b,
		"Duration %s (moving %s) | Distance %.2f km | Elevation +%.0f/-%.0f m\n",
		formatDuration(s.DurationSeconds),
		formatDuration(s.MovingSeconds),
		s.DistanceMeters/1000.0,
		s.ElevationGainM,
		s.ElevationLossM,
	)
	fmt.Fprintf(
		&b,
		"Speed %.1f avg / %.1f max km/h | Pace %s\n",
		mpsToKmh(s.AvgSpeedMps),
		mpsToKmh(s.MaxSpeedMps),
		formatPace(s.AvgPaceSecPerKm),
	)

	if s.AvgHeartRate != nil {
		fmt.Fprintf(&b, "HR %.0f avg / %.0f max bpm", *s.AvgHeartRate, *s.MaxHeartRate)
	} else {
		b.WriteString("HR not recorded")
	}
	if s.AvgCadence != nil {
		fmt.Fprintf(&b, " | Cadence %.0f avg / %.0f max", *s.AvgCadence, *s.MaxCadence)
	}
	b.WriteByte('\n')

	if len(s.HeartRateZones) > 0 {
		b.WriteString("\nHeart Rate Zones\n")
		for _, z := range s.HeartRateZones {
			if z.Seconds <= 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s (%.1f%%)\n", z.Zone, formatDuration(z.Seconds), z.Percentage)
		}
	}

	if len(s.Splits) > 0 {
		b.WriteString("\nSplits\n")
		for _, sp := range s.Splits {
			label := fmt.Sprintf("%d", sp.Index)
			if sp.Partial {
				label += fmt.Sprintf(" (%.0f m)", sp.DistanceMeters)
			}
			fmt.Fprintf(&b, "- %s: %s, %s\n", label, formatDuration(sp.DurationSeconds), formatPace(sp.PaceSecPerKm))
		}
	}

	if s.SkippedRecords > 0 {
		fmt.Fprintf(&b, "\nSkipped %d unusable record(s).\n", s.SkippedRecords)
	}

	return strings.TrimSpace(b.String())
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	s := int(math.Round(seconds))
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}

func formatPace(secPerKm float64) string {
	if secPerKm <= 0 || !isFinite(secPerKm) {
		return "n/a"
	}
	s := int(math.Round(secPerKm))
	return fmt.Sprintf("%d:%02d /km", s/60, s%60)
}

func mpsToKmh(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v * 3.6
}
