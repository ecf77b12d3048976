package pipeline

import (
	"encoding/csv"
	"io"
	"strconv"
)

var pointColumns = []string{
	"point_index", "ts_utc_iso", "elapsed_s", "distance_m", "lat", "lng", "elevation_m", "hr_bpm", "cadence", "speed_mps",
}

func writePointsCSV(out io.Writer, rows []PointRow) error {
	w := csv.NewWriter(out)
	if err := w.Write(pointColumns); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.PointIndex),
			r.TSUTCISO,
			formatFloat(r.ElapsedS),
			formatFloat(r.DistanceM),
			formatFloatPtr(r.Lat),
			formatFloatPtr(r.Lng),
			formatFloatPtr(r.ElevationM),
			formatFloatPtr(r.HRBPM),
			formatFloatPtr(r.Cadence),
			formatFloatPtr(r.SpeedMPS),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
