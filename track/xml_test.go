package track

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="Garmin Connect"
  xmlns="http://www.topografix.com/GPX/1/1"
  xmlns:gpxtpx="http://www.garmin.com/xmlschemas/TrackPointExtension/v1">
  <trk>
    <name>Morning Run</name>
    <type>running</type>
    <trkseg>
      <trkpt lat="45.0010" lon="-73.0000">
        <ele>101.0</ele>
        <time>2024-03-01T07:30:10Z</time>
        <extensions><gpxtpx:TrackPointExtension><gpxtpx:hr>142</gpxtpx:hr><gpxtpx:cad>86</gpxtpx:cad></gpxtpx:TrackPointExtension></extensions>
      </trkpt>
      <trkpt lat="45.0000" lon="-73.0000">
        <ele>100.0</ele>
        <time>2024-03-01T07:30:00Z</time>
        <extensions><gpxtpx:TrackPointExtension><gpxtpx:hr>140</gpxtpx:hr></gpxtpx:TrackPointExtension></extensions>
      </trkpt>
      <trkpt lat="45.0020" lon="-73.0000">
        <ele>n/a</ele>
        <time>2024-03-01T07:30:20Z</time>
      </trkpt>
      <trkpt lat="45.0030" lon="-73.0000">
        <ele>103.0</ele>
      </trkpt>
    </trkseg>
  </trk>
</gpx>`

const sampleTCX = `<?xml version="1.0" encoding="UTF-8"?>
<TrainingCenterDatabase xmlns="http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2"
  xmlns:ns3="http://www.garmin.com/xmlschemas/ActivityExtension/v2">
  <Activities>
    <Activity Sport="Biking">
      <Id>2024-03-01T07:30:00Z</Id>
      <Lap StartTime="2024-03-01T07:30:00Z">
        <Track>
          <Trackpoint>
            <Time>2024-03-01T07:30:00Z</Time>
            <Position><LatitudeDegrees>45.0</LatitudeDegrees><LongitudeDegrees>-73.0</LongitudeDegrees></Position>
            <AltitudeMeters>100.0</AltitudeMeters>
            <HeartRateBpm><Value>120</Value></HeartRateBpm>
            <Cadence>90</Cadence>
            <Extensions><ns3:TPX><ns3:Speed>6.5</ns3:Speed></ns3:TPX></Extensions>
          </Trackpoint>
          <Trackpoint>
            <Time>2024-03-01T07:30:05Z</Time>
            <AltitudeMeters>101.5</AltitudeMeters>
          </Trackpoint>
          <Trackpoint>
            <AltitudeMeters>102.0</AltitudeMeters>
          </Trackpoint>
        </Track>
      </Lap>
      <Creator><Name>Edge 530</Name></Creator>
    </Activity>
  </Activities>
</TrainingCenterDatabase>`

func TestDecodeGPX(t *testing.T) {
	tr, err := Decode([]byte(sampleGPX), FormatGPX)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(tr.Points))
	}
	if tr.SkippedRecords != 1 {
		t.Fatalf("skipped = %d, want 1", tr.SkippedRecords)
	}
	if tr.Sport != "running" {
		t.Fatalf("sport = %q", tr.Sport)
	}
	if tr.Device == nil || tr.Device.Product != "Garmin Connect" {
		t.Fatalf("device = %+v", tr.Device)
	}

	first := tr.Points[0]
	if !first.Timestamp.Equal(time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)) {
		t.Fatalf("points not ordered by time: %v", first.Timestamp)
	}
	if first.HeartRate == nil || *first.HeartRate != 140 {
		t.Fatalf("heart rate = %v", first.HeartRate)
	}
	if tr.Points[1].Cadence == nil || *tr.Points[1].Cadence != 86 {
		t.Fatalf("cadence = %v", tr.Points[1].Cadence)
	}
	if last := tr.Points[2]; last.Elevation != nil || last.Position == nil {
		t.Fatalf("bad elevation should drop only that field: %+v", last)
	}
	if !hasWarning(tr, "unparsable ele") {
		t.Fatalf("expected elevation warning, got %v", tr.Warnings)
	}
}

func TestDecodeTCX(t *testing.T) {
	tr, err := Decode([]byte(sampleTCX), FormatTCX)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 2 || tr.SkippedRecords != 1 {
		t.Fatalf("points=%d skipped=%d, want 2 and 1", len(tr.Points), tr.SkippedRecords)
	}
	if tr.Sport != "biking" {
		t.Fatalf("sport = %q", tr.Sport)
	}
	p := tr.Points[0]
	if p.Position == nil || math.Abs(p.Position.Lat-45) > 1e-9 {
		t.Fatalf("position = %+v", p.Position)
	}
	if p.HeartRate == nil || *p.HeartRate != 120 {
		t.Fatalf("heart rate = %v", p.HeartRate)
	}
	if p.Speed == nil || *p.Speed != 6.5 {
		t.Fatalf("speed = %v", p.Speed)
	}
	if tr.Points[1].Position != nil {
		t.Fatalf("second point should have no position")
	}
	if tr.Device == nil || tr.Device.Product != "Edge 530" {
		t.Fatalf("device = %+v", tr.Device)
	}
}

func TestDecodeXMLStructuralFailures(t *testing.T) {
	tests := []struct {
		name string
		data string
		f    Format
	}{
		{"empty gpx", "  ", FormatGPX},
		{"wrong root gpx", `<kml></kml>`, FormatGPX},
		{"broken gpx", `<gpx><trk>`, FormatGPX},
		{"wrong root tcx", `<gpx></gpx>`, FormatTCX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data), tt.f); !errors.Is(err, ErrCorruptFile) {
				t.Fatalf("err = %v, want ErrCorruptFile", err)
			}
		})
	}
}

func TestDecodeGPXWithoutPointsIsEmpty(t *testing.T) {
	tr, err := Decode([]byte(`<gpx version="1.1"><trk><trkseg></trkseg></trk></gpx>`), FormatGPX)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 0 {
		t.Fatalf("points = %d, want 0", len(tr.Points))
	}
}

func TestDecodeFileGPX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.gpx")
	if err := os.WriteFile(path, []byte(sampleGPX), 0o644); err != nil {
		t.Fatalf("write gpx: %v", err)
	}
	tr, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if tr.Format != FormatGPX {
		t.Fatalf("format = %q", tr.Format)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"FIT": FormatFIT, ".gpx": FormatGPX, " tcx ": FormatTCX} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("kml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}
