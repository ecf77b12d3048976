package series

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ErrMalformedSeries is returned when a payload is not a JSON list of samples.
var ErrMalformedSeries = errors.New("malformed series payload")

var localLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Decode builds the day series for m from a fetched JSON payload.
//
// Accepted shapes are a list of objects ({"timestamp": ..., "value": ...})
// or platform rows ([epoch_ms, ...] with the value at m.ValueIndex), either
// bare or wrapped in an object under m.PayloadKey. An envelope without that
// key may hold one list under "samples", "values" or a "...Values" /
// "...ValuesArray" key. Timestamps without an offset are read in loc and
// all others are converted to it.
// Rows that cannot yield a timestamp and a usable value are counted in
// Series.Dropped.
func Decode(data []byte, m Metric, loc *time.Location) (Series, error) {
	if loc == nil {
		loc = time.Local
	}

	rows, err := payloadRows(data, m.PayloadKey)
	if err != nil {
		return Series{}, fmt.Errorf("decode %s series: %w", m.Name, err)
	}

	samples := make([]Sample, 0, len(rows))
	dropped := 0
	for _, raw := range rows {
		sample, ok := decodeRow(raw, m, loc)
		if !ok {
			dropped++
			continue
		}
		samples = append(samples, sample)
	}

	s := New(m.Name, samples)
	s.Dropped = dropped
	return s, nil
}

func payloadRows(data []byte, key string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSeries, err)
		}
		return rows, nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSeries, err)
		}
		inner, err := envelopeList(envelope, key)
		if err != nil {
			return nil, err
		}
		return payloadRows(inner, "")
	default:
		return nil, fmt.Errorf("%w: expected list or object", ErrMalformedSeries)
	}
}

// envelopeList picks the sample list out of an envelope object. The key is
// matched case-insensitively. Without it, a lone list under a series-like key
// is accepted and several such lists are ambiguous.
func envelopeList(envelope map[string]json.RawMessage, key string) (json.RawMessage, error) {
	var candidates []string
	for k, v := range envelope {
		inner := bytes.TrimSpace(v)
		if len(inner) == 0 || inner[0] != '[' {
			continue
		}
		if key != "" && strings.EqualFold(k, key) {
			return inner, nil
		}
		if isSeriesKey(k) {
			candidates = append(candidates, k)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: no sample list in object", ErrMalformedSeries)
	case 1:
		return bytes.TrimSpace(envelope[candidates[0]]), nil
	}
	sort.Strings(candidates)
	if key != "" {
		return nil, fmt.Errorf("%w: no %q list among %s", ErrMalformedSeries, key, strings.Join(candidates, ", "))
	}
	return nil, fmt.Errorf("%w: ambiguous sample lists %s", ErrMalformedSeries, strings.Join(candidates, ", "))
}

func isSeriesKey(k string) bool {
	lower := strings.ToLower(k)
	return lower == "samples" || lower == "values" ||
		strings.HasSuffix(lower, "values") || strings.HasSuffix(lower, "valuesarray")
}

func decodeRow(raw json.RawMessage, m Metric, loc *time.Location) (Sample, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Sample{}, false
	}

	var (
		sample Sample
		ok     bool
	)
	switch trimmed[0] {
	case '[':
		sample, ok = decodeArrayRow(trimmed, m, loc)
	case '{':
		sample, ok = decodeObjectRow(trimmed, loc)
	}
	if !ok {
		return Sample{}, false
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return Sample{}, false
	}
	if m.DropNegative && sample.Value < 0 {
		return Sample{}, false
	}
	return sample, true
}

func decodeArrayRow(raw []byte, m Metric, loc *time.Location) (Sample, bool) {
	var cols []json.RawMessage
	if err := json.Unmarshal(raw, &cols); err != nil {
		return Sample{}, false
	}
	idx := m.ValueIndex
	if idx <= 0 {
		idx = 1
	}
	if len(cols) <= idx {
		return Sample{}, false
	}

	ts, ok := parseTimestamp(cols[0], loc)
	if !ok {
		return Sample{}, false
	}
	value, ok := parseNumber(cols[idx])
	if !ok {
		return Sample{}, false
	}

	sample := Sample{Timestamp: ts, Value: value}
	for i := 1; i < len(cols); i++ {
		if i == idx {
			continue
		}
		var status string
		if err := json.Unmarshal(cols[i], &status); err == nil && status != "" {
			sample.Status = status
			break
		}
	}
	return sample, true
}

type objectRow struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Time      json.RawMessage `json:"time"`
	Value     json.RawMessage `json:"value"`
	Status    string          `json:"status"`
}

func decodeObjectRow(raw []byte, loc *time.Location) (Sample, bool) {
	var row objectRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return Sample{}, false
	}
	tsRaw := row.Timestamp
	if len(tsRaw) == 0 {
		tsRaw = row.Time
	}
	ts, ok := parseTimestamp(tsRaw, loc)
	if !ok {
		return Sample{}, false
	}
	value, ok := parseNumber(row.Value)
	if !ok {
		return Sample{}, false
	}
	return Sample{Timestamp: ts, Value: value, Status: row.Status}, true
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// parseTimestamp accepts epoch milliseconds, RFC 3339 or an offset-less local layout.
func parseTimestamp(raw json.RawMessage, loc *time.Location) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	if ms, ok := parseNumber(raw); ok {
		if ms <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).In(loc), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.In(loc), true
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
