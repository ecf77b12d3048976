// Package timespec turns loose clock-time expressions ("3:00 PM", "15:30",
// "noon") plus an optional calendar date into a canonical (date, time-of-day)
// pair used to index into a day of health samples.
package timespec

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	day        = 24 * time.Hour
)

var (
	// ErrInvalidTimeFormat is returned when a time string matches none of the supported grammars.
	ErrInvalidTimeFormat = errors.New("invalid time format")

	// ErrInvalidDateFormat is returned when a supplied date is not a valid YYYY-MM-DD calendar date.
	ErrInvalidDateFormat = errors.New("invalid date format")
)

var (
	clock24 = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
	clock12 = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*([ap])\.?\s*m\.?$`)
)

var aliases = map[string]time.Duration{
	"noon":     12 * time.Hour,
	"midnight": 0,
}

// Date is a calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, dd := t.Date()
	return Date{Year: y, Month: m, Day: dd}
}

// TimeSpec is a resolved (calendar date, time-of-day) pair.
// TimeOfDay is always a whole number of seconds in [0, 24h).
type TimeSpec struct {
	Date      Date
	TimeOfDay time.Duration
}

// In anchors the spec at an absolute instant in loc.
func (ts TimeSpec) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	midnight := time.Date(ts.Date.Year, ts.Date.Month, ts.Date.Day, 0, 0, 0, 0, loc)
	return midnight.Add(ts.TimeOfDay)
}

// Clock renders the time of day as HH:MM:SS.
func (ts TimeSpec) Clock() string {
	secs := int(ts.TimeOfDay / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

func (ts TimeSpec) String() string {
	return ts.Date.String() + " " + ts.Clock()
}

// Parse resolves timeStr and an optional dateStr against the current local date.
func Parse(timeStr, dateStr string) (TimeSpec, error) {
	return ParseAt(timeStr, dateStr, time.Now())
}

// ParseAt is Parse with an explicit "now" used when dateStr is empty.
func ParseAt(timeStr, dateStr string, now time.Time) (TimeSpec, error) {
	tod, err := ParseClock(timeStr)
	if err != nil {
		return TimeSpec{}, err
	}

	date := DateOf(now)
	if s := strings.TrimSpace(dateStr); s != "" {
		parsed, err := time.Parse(dateLayout, s)
		if err != nil {
			return TimeSpec{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, dateStr)
		}
		date = DateOf(parsed)
	}

	return TimeSpec{Date: date, TimeOfDay: tod}, nil
}

// ParseClock parses only the time-of-day part. Grammars are tried in order:
// 24-hour H[H]:MM[:SS], 12-hour H[:MM] AM|PM, then the noon/midnight aliases.
func ParseClock(timeStr string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(timeStr))
	if s == "" {
		return 0, fmt.Errorf("%w: empty time", ErrInvalidTimeFormat)
	}

	if m := clock24.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		return clockDuration(timeStr, h, m[2], m[3])
	}

	if m := clock12.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h < 1 || h > 12 {
			return 0, fmt.Errorf("%w: hour %d out of range in %q", ErrInvalidTimeFormat, h, timeStr)
		}
		h %= 12
		if m[3] == "p" {
			h += 12
		}
		return clockDuration(timeStr, h, m[2], "")
	}

	if d, ok := aliases[s]; ok {
		return d, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, timeStr)
}

func clockDuration(raw string, hour int, minStr, secStr string) (time.Duration, error) {
	minute, second := 0, 0
	if minStr != "" {
		minute, _ = strconv.Atoi(minStr)
	}
	if secStr != "" {
		second, _ = strconv.Atoi(secStr)
	}
	if hour > 23 || minute > 59 || second > 59 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTimeFormat, raw)
	}
	d := time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second
	if d < 0 || d >= day {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTimeFormat, raw)
	}
	return d, nil
}

// OfDay returns the time elapsed since local midnight for t, in t's location.
func OfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}
