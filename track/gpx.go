package track

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Creator string     `xml:"creator,attr"`
	Tracks  []gpxTrack `xml:"trk"`
	Routes  []gpxRoute `xml:"rte"`
}

type gpxTrack struct {
	Type     string       `xml:"type"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxRoute struct {
	Points []gpxPoint `xml:"rtept"`
}

type gpxPoint struct {
	Lat  string `xml:"lat,attr"`
	Lon  string `xml:"lon,attr"`
	Ele  string `xml:"ele"`
	Time string `xml:"time"`
	TPX  struct {
		HR    string `xml:"hr"`
		Cad   string `xml:"cad"`
		Speed string `xml:"speed"`
	} `xml:"extensions>TrackPointExtension"`
}

type gpxDecoder struct{}

func (gpxDecoder) Decode(data []byte) (*Track, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrCorruptFile)
	}
	var doc gpxFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	t := &Track{Format: FormatGPX, Points: []TrackPoint{}}
	if doc.Creator != "" {
		t.Device = &Device{Product: doc.Creator}
	}

	index := 0
	for _, trk := range doc.Tracks {
		if t.Sport == "" {
			t.Sport = strings.ToLower(strings.TrimSpace(trk.Type))
		}
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				index++
				t.addGPXPoint(index, p)
			}
		}
	}
	for _, rte := range doc.Routes {
		for _, p := range rte.Points {
			index++
			t.addGPXPoint(index, p)
		}
	}
	return t, nil
}

func (t *Track) addGPXPoint(index int, p gpxPoint) {
	ts, ok := parseXMLTime(p.Time)
	if !ok {
		if strings.TrimSpace(p.Time) == "" {
			t.skip("point %d: missing time", index)
		} else {
			t.skip("point %d: unparsable time %q", index, p.Time)
		}
		return
	}

	pt := TrackPoint{Timestamp: ts}
	pt.Position = t.parsePosition(index, p.Lat, p.Lon)
	pt.Elevation = t.parseOptional(index, "ele", p.Ele)
	pt.HeartRate = t.parseOptional(index, "hr", p.TPX.HR)
	pt.Cadence = t.parseOptional(index, "cad", p.TPX.Cad)
	pt.Speed = t.parseOptional(index, "speed", p.TPX.Speed)
	t.Points = append(t.Points, pt)
}

func (t *Track) parsePosition(index int, latRaw, lonRaw string) *LatLng {
	lat := t.parseOptional(index, "lat", latRaw)
	lon := t.parseOptional(index, "lon", lonRaw)
	if lat == nil || lon == nil {
		return nil
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		t.warnf("point %d: position %f,%f out of range", index, *lat, *lon)
		return nil
	}
	return &LatLng{Lat: *lat, Lng: *lon}
}

// parseOptional returns nil for an absent value and warns about a malformed one.
func (t *Track) parseOptional(index int, name, raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !isFinite(v) {
		t.warnf("point %d: unparsable %s %q", index, name, raw)
		return nil
	}
	return &v
}

func parseXMLTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		ts, err = time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
		if err != nil {
			return time.Time{}, false
		}
	}
	return ts, true
}
