package track

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tormoder/fit"
	"github.com/tormoder/fit/dyncrc16"
)

func TestDecodeEncodedActivity(t *testing.T) {
	start := time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)
	data := buildActivityFIT(t, start)

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(tr.Points))
	}
	if tr.Sport != "running" {
		t.Fatalf("sport = %q, want running", tr.Sport)
	}
	if tr.Device == nil {
		t.Fatal("expected device metadata from file_id")
	}
	for _, w := range tr.Warnings {
		if strings.Contains(w, "CRC") {
			t.Fatalf("unexpected CRC warning: %s", w)
		}
	}

	first := tr.Points[0]
	if !first.Timestamp.Equal(start) {
		t.Fatalf("first timestamp = %v, want %v", first.Timestamp, start)
	}
	if first.Position == nil {
		t.Fatal("expected position")
	}
	if math.Abs(first.Position.Lat-45.0) > 1e-6 || math.Abs(first.Position.Lng+73.0) > 1e-6 {
		t.Fatalf("position = %+v", *first.Position)
	}
	if first.HeartRate == nil || *first.HeartRate != 140 {
		t.Fatalf("heart rate = %v", first.HeartRate)
	}
	if first.Elevation == nil || math.Abs(*first.Elevation-100) > 1e-9 {
		t.Fatalf("elevation = %v", first.Elevation)
	}
	if first.Speed == nil || math.Abs(*first.Speed-2.5) > 1e-9 {
		t.Fatalf("speed = %v", first.Speed)
	}
}

func TestDecodeEmptyInputIsCorrupt(t *testing.T) {
	if _, err := Decode(nil, FormatFIT); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("err = %v, want ErrCorruptFile", err)
	}
}

func TestDecodeBadHeaderIsCorrupt(t *testing.T) {
	valid := newFITBuilder().
		define(0, globalRecord, false, [3]byte{fieldTimestamp, 4, 0x86}).
		data(0, le32(1000000000)...).
		build(true)

	tests := map[string][]byte{
		"header size": append([]byte{13}, valid[1:]...),
		"magic":       bytes.Replace(append([]byte(nil), valid...), []byte(".FIT"), []byte(".TIF"), 1),
		"short":       valid[:10],
		"data size":   withDataSize(valid, 4096),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(data, FormatFIT); !errors.Is(err, ErrCorruptFile) {
				t.Fatalf("err = %v, want ErrCorruptFile", err)
			}
		})
	}
}

func TestDecodeSkipsUnknownVendorMessages(t *testing.T) {
	data := newFITBuilder().
		define(0, 0xFF01, false, [3]byte{1, 2, 0x84}).
		data(0, 0x34, 0x12).
		define(1, globalRecord, false, [3]byte{fieldTimestamp, 4, 0x86}, [3]byte{fieldHeartRate, 1, 0x02}).
		data(1, append(le32(1000000000), 120)...).
		data(0, 0x35, 0x12).
		data(1, append(le32(1000000001), 121)...).
		build(true)

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(tr.Points))
	}
	if *tr.Points[1].HeartRate != 121 {
		t.Fatalf("heart rate = %v, want 121", *tr.Points[1].HeartRate)
	}
	if !hasWarning(tr, "65281") {
		t.Fatalf("expected warning about global 65281, got %v", tr.Warnings)
	}
}

func TestDecodeWarnsOnFirstManufacturerMessage(t *testing.T) {
	data := newFITBuilder().
		define(0, 0xFF00, false, [3]byte{1, 2, 0x84}).
		data(0, 0x34, 0x12).
		define(1, globalRecord, false, [3]byte{fieldTimestamp, 4, 0x86}).
		data(1, le32(1000000000)...).
		build(true)

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(tr.Points))
	}
	if !hasWarning(tr, "global number 65280") {
		t.Fatalf("expected warning about global 65280, got %v", tr.Warnings)
	}
	if tr.SkippedRecords != 0 {
		t.Fatalf("skipped = %d, want 0", tr.SkippedRecords)
	}
}

func TestDecodeCompressedTimestamp(t *testing.T) {
	const base = 1000000010 // low five bits = 10
	data := newFITBuilder().
		define(1, globalRecord, false, [3]byte{fieldTimestamp, 4, 0x86}).
		data(1, le32(base)...).
		define(2, globalRecord, false, [3]byte{fieldHeartRate, 1, 0x02}).
		raw(0x80|2<<5|15, 99).
		build(false)

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(tr.Points))
	}
	want := fitEpoch.Add((base + 5) * time.Second)
	if got := tr.Points[1].Timestamp; !got.Equal(want) {
		t.Fatalf("compressed timestamp = %v, want %v", got, want)
	}
	if *tr.Points[1].HeartRate != 99 {
		t.Fatalf("heart rate = %v", *tr.Points[1].HeartRate)
	}
}

func TestDecodeBigEndianDefinition(t *testing.T) {
	ts := make([]byte, 4)
	binary.BigEndian.PutUint32(ts, 1000000000)
	lat := make([]byte, 4)
	binary.BigEndian.PutUint32(lat, uint32(int32(1<<30)))

	data := newFITBuilder().
		define(0, globalRecord, true, [3]byte{fieldTimestamp, 4, 0x86}, [3]byte{fieldPositionLat, 4, 0x85}, [3]byte{fieldPositionLong, 4, 0x85}).
		data(0, append(append(ts, lat...), lat...)...).
		build(true)

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 1 || tr.Points[0].Position == nil {
		t.Fatalf("unexpected points %+v", tr.Points)
	}
	if got := tr.Points[0].Position.Lat; math.Abs(got-90) > 1e-9 {
		t.Fatalf("lat = %v, want 90", got)
	}
}

func TestDecodeSkipsRecordsWithoutTimestamp(t *testing.T) {
	data := newFITBuilder().
		define(0, globalRecord, false, [3]byte{fieldTimestamp, 4, 0x86}, [3]byte{fieldHeartRate, 1, 0x02}).
		data(0, append(le32(1000000000), 130)...).
		data(0, append(le32(0xFFFFFFFF), 131)...).
		build(true)

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 1 || tr.SkippedRecords != 1 {
		t.Fatalf("points=%d skipped=%d, want 1 and 1", len(tr.Points), tr.SkippedRecords)
	}
}

func TestDecodeInvalidSentinelsAreAbsent(t *testing.T) {
	data := newFITBuilder().
		define(0, globalRecord, false,
			[3]byte{fieldTimestamp, 4, 0x86},
			[3]byte{fieldPositionLat, 4, 0x85},
			[3]byte{fieldPositionLong, 4, 0x85},
			[3]byte{fieldHeartRate, 1, 0x02},
			[3]byte{fieldAltitude, 2, 0x84},
		).
		data(0, concat(le32(1000000000), le32(0x7FFFFFFF), le32(0x7FFFFFFF), []byte{0xFF}, []byte{0xFF, 0xFF})...).
		build(true)

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := tr.Points[0]
	if p.Position != nil || p.HeartRate != nil || p.Elevation != nil {
		t.Fatalf("expected absent fields, got %+v", p)
	}
}

func TestDecodeCRCMismatchWarns(t *testing.T) {
	data := newFITBuilder().
		define(0, globalRecord, false, [3]byte{fieldTimestamp, 4, 0x86}).
		data(0, le32(1000000000)...).
		build(true)
	data[len(data)-1] ^= 0xFF

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(tr.Points))
	}
	if !hasWarning(tr, "file CRC mismatch") {
		t.Fatalf("expected CRC warning, got %v", tr.Warnings)
	}
}

func TestDecodeTruncatedRecordKeepsEarlierPoints(t *testing.T) {
	data := newFITBuilder().
		define(0, globalRecord, false, [3]byte{fieldTimestamp, 4, 0x86}, [3]byte{fieldHeartRate, 1, 0x02}).
		data(0, append(le32(1000000000), 130)...).
		raw(0x00, 0x01, 0x02).
		build(true)

	tr, err := Decode(data, FormatFIT)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tr.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(tr.Points))
	}
	if !hasWarning(tr, "stopped reading records") {
		t.Fatalf("expected truncation warning, got %v", tr.Warnings)
	}
	if tr.SkippedRecords != 1 {
		t.Fatalf("skipped = %d, want 1", tr.SkippedRecords)
	}
}

func TestDecodeFileUsesExtension(t *testing.T) {
	if _, err := DecodeFile("ride.kml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	f, err := FormatFromPath("/tmp/Morning_Run.FIT")
	if err != nil || f != FormatFIT {
		t.Fatalf("FormatFromPath = %q, %v", f, err)
	}
}

func buildActivityFIT(t *testing.T, start time.Time) []byte {
	t.Helper()

	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	if err != nil {
		t.Fatalf("new fit file: %v", err)
	}
	file.FileId.TimeCreated = start
	file.FileId.Manufacturer = fit.ManufacturerGarmin

	activity, err := file.Activity()
	if err != nil {
		t.Fatalf("activity accessor: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec := fit.NewRecordMsg()
		rec.Timestamp = start.Add(time.Duration(i) * 10 * time.Second)
		rec.PositionLat = fit.NewLatitudeDegrees(45.0 + float64(i)*0.0001)
		rec.PositionLong = fit.NewLongitudeDegrees(-73.0)
		rec.HeartRate = uint8(140 + i)
		rec.Altitude = uint16((100 + 500) * 5)
		rec.Speed = 2500
		activity.Records = append(activity.Records, rec)
	}

	session := fit.NewSessionMsg()
	session.Timestamp = start.Add(30 * time.Second)
	session.StartTime = start
	session.Sport = fit.SportRunning
	activity.Sessions = append(activity.Sessions, session)

	var buf bytes.Buffer
	if err := fit.Encode(&buf, file, binary.LittleEndian); err != nil {
		t.Fatalf("encode fit: %v", err)
	}
	return buf.Bytes()
}

type fitBuilder struct {
	body bytes.Buffer
}

func newFITBuilder() *fitBuilder {
	return &fitBuilder{}
}

func (b *fitBuilder) define(local uint8, global uint16, bigEndian bool, fields ...[3]byte) *fitBuilder {
	b.body.WriteByte(mesgDefinitionMask | local)
	b.body.WriteByte(0)
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		b.body.WriteByte(1)
		order = binary.BigEndian
	} else {
		b.body.WriteByte(0)
	}
	g := make([]byte, 2)
	order.PutUint16(g, global)
	b.body.Write(g)
	b.body.WriteByte(byte(len(fields)))
	for _, f := range fields {
		b.body.Write(f[:])
	}
	return b
}

func (b *fitBuilder) data(local uint8, payload ...byte) *fitBuilder {
	b.body.WriteByte(local)
	b.body.Write(payload)
	return b
}

func (b *fitBuilder) raw(payload ...byte) *fitBuilder {
	b.body.Write(payload)
	return b
}

func (b *fitBuilder) build(headerCRC bool) []byte {
	size := headerSizeNoCRC
	if headerCRC {
		size = headerSizeCRC
	}
	header := make([]byte, size)
	header[0] = byte(size)
	header[1] = 0x20
	binary.LittleEndian.PutUint16(header[2:4], 2132)
	binary.LittleEndian.PutUint32(header[4:8], uint32(b.body.Len()))
	copy(header[8:12], ".FIT")
	if headerCRC {
		binary.LittleEndian.PutUint16(header[12:14], dyncrc16.Checksum(header[:12]))
	}

	out := append(header, b.body.Bytes()...)
	crc := make([]byte, 2)
	binary.LittleEndian.PutUint16(crc, dyncrc16.Checksum(out))
	return append(out, crc...)
}

func withDataSize(data []byte, size uint32) []byte {
	out := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(out[4:8], size)
	return out
}

func le32(v uint32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, v)
	return out
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func hasWarning(tr *Track, substr string) bool {
	for _, w := range tr.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
