package series

import (
	"fmt"
	"sort"
	"strings"
)

// Metric describes one health metric family and how its day series is read and resolved.
type Metric struct {
	Name string `json:"name"`

	// Policy is the default resolution policy for point-in-time queries.
	Policy Policy `json:"policy"`

	// ValueIndex is the column holding the value in platform array rows
	// such as [epoch_ms, value] or [epoch_ms, status, level, version].
	ValueIndex int `json:"value_index"`

	// DropNegative discards negative readings, which the platform uses as
	// "not measured" markers (e.g. -1 / -2 for stress).
	DropNegative bool `json:"drop_negative"`

	// PayloadKey names the sample list inside a platform envelope object.
	// Day payloads can carry several metric arrays side by side.
	PayloadKey string `json:"payload_key,omitempty"`

	Unit string `json:"unit,omitempty"`
}

// WithPolicy returns a copy of m that resolves with p.
func (m Metric) WithPolicy(p Policy) Metric {
	m.Policy = p
	return m
}

var (
	HeartRate   = Metric{Name: "heart_rate", Policy: PolicyInterpolate, ValueIndex: 1, PayloadKey: "heartRateValues", Unit: "bpm"}
	Stress      = Metric{Name: "stress", Policy: PolicyExact, ValueIndex: 1, DropNegative: true, PayloadKey: "stressValuesArray", Unit: "level"}
	BodyBattery = Metric{Name: "body_battery", Policy: PolicyNearest, ValueIndex: 2, DropNegative: true, PayloadKey: "bodyBatteryValuesArray", Unit: "%"}
	Respiration = Metric{Name: "respiration", Policy: PolicyInterpolate, ValueIndex: 1, DropNegative: true, PayloadKey: "respirationValuesArray", Unit: "brpm"}
	SpO2        = Metric{Name: "spo2", Policy: PolicyNearest, ValueIndex: 1, DropNegative: true, PayloadKey: "spO2HourlyAverages", Unit: "%"}
)

var catalog = map[string]Metric{
	HeartRate.Name:   HeartRate,
	Stress.Name:      Stress,
	BodyBattery.Name: BodyBattery,
	Respiration.Name: Respiration,
	SpO2.Name:        SpO2,
}

// LookupMetric returns the built-in metric registered under name.
func LookupMetric(name string) (Metric, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	m, ok := catalog[key]
	if !ok {
		return Metric{}, fmt.Errorf("unknown metric %q (known: %s)", name, strings.Join(MetricNames(), ", "))
	}
	return m, nil
}

// MetricNames lists the built-in metrics in sorted order.
func MetricNames() []string {
	names := make([]string, 0, len(catalog))
	for k := range catalog {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
