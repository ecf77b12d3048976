package track

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

type tcxFile struct {
	XMLName    xml.Name      `xml:"TrainingCenterDatabase"`
	Activities []tcxActivity `xml:"Activities>Activity"`
}

type tcxActivity struct {
	Sport   string   `xml:"Sport,attr"`
	Laps    []tcxLap `xml:"Lap"`
	Creator string   `xml:"Creator>Name"`
}

type tcxLap struct {
	Tracks []tcxSegment `xml:"Track"`
}

type tcxSegment struct {
	Points []tcxPoint `xml:"Trackpoint"`
}

type tcxPoint struct {
	Time      string `xml:"Time"`
	Lat       string `xml:"Position>LatitudeDegrees"`
	Lon       string `xml:"Position>LongitudeDegrees"`
	Altitude  string `xml:"AltitudeMeters"`
	HeartRate string `xml:"HeartRateBpm>Value"`
	Cadence   string `xml:"Cadence"`
	Speed     string `xml:"Extensions>TPX>Speed"`
	RunCad    string `xml:"Extensions>TPX>RunCadence"`
}

type tcxDecoder struct{}

func (tcxDecoder) Decode(data []byte) (*Track, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrCorruptFile)
	}
	var doc tcxFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	t := &Track{Format: FormatTCX, Points: []TrackPoint{}}
	index := 0
	for _, act := range doc.Activities {
		if t.Sport == "" {
			t.Sport = strings.ToLower(strings.TrimSpace(act.Sport))
		}
		if t.Device == nil && strings.TrimSpace(act.Creator) != "" {
			t.Device = &Device{Product: strings.TrimSpace(act.Creator)}
		}
		for _, lap := range act.Laps {
			for _, seg := range lap.Tracks {
				for _, p := range seg.Points {
					index++
					t.addTCXPoint(index, p)
				}
			}
		}
	}
	return t, nil
}

func (t *Track) addTCXPoint(index int, p tcxPoint) {
	ts, ok := parseXMLTime(p.Time)
	if !ok {
		if strings.TrimSpace(p.Time) == "" {
			t.skip("trackpoint %d: missing time", index)
		} else {
			t.skip("trackpoint %d: unparsable time %q", index, p.Time)
		}
		return
	}

	pt := TrackPoint{Timestamp: ts}
	pt.Position = t.parsePosition(index, p.Lat, p.Lon)
	pt.Elevation = t.parseOptional(index, "altitude", p.Altitude)
	pt.HeartRate = t.parseOptional(index, "heart rate", p.HeartRate)
	pt.Cadence = t.parseOptional(index, "cadence", p.Cadence)
	if pt.Cadence == nil {
		pt.Cadence = t.parseOptional(index, "run cadence", p.RunCad)
	}
	pt.Speed = t.parseOptional(index, "speed", p.Speed)
	t.Points = append(t.Points, pt)
}
