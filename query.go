package garminhealth

import (
	"fmt"
	"time"

	"github.com/lucasjlepore/garmin-health/series"
	"github.com/lucasjlepore/garmin-health/timespec"
)

// MetricAt answers "what was metric m at timeStr on dateStr" from a fetched
// day payload. dateStr may be empty for today; timestamps without an offset
// are read in loc.
func MetricAt(payload []byte, m series.Metric, timeStr, dateStr string, loc *time.Location) (series.Reading, error) {
	if loc == nil {
		loc = time.Local
	}
	spec, err := timespec.ParseAt(timeStr, dateStr, time.Now().In(loc))
	if err != nil {
		return series.Reading{}, err
	}
	s, err := series.Decode(payload, m, loc)
	if err != nil {
		return series.Reading{}, err
	}
	r, err := series.ResolveAt(s, spec, m.Policy)
	if err != nil {
		return series.Reading{}, fmt.Errorf("%s at %s: %w", m.Name, spec, err)
	}
	return r, nil
}
