package track

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tormoder/fit"
	"github.com/tormoder/fit/dyncrc16"
)

const (
	compressedHeaderMask       = 0x80
	compressedLocalMesgNumMask = 0x60
	compressedTimeMask         = 0x1F
	mesgDefinitionMask         = 0x40
	devDataMask                = 0x20
	localMesgNumMask           = 0x0F

	headerSizeNoCRC = 12
	headerSizeCRC   = 14

	globalSession     = 18
	globalRecord      = 20
	globalMfgRangeMin = 0xFF00

	fieldTimestamp        = 253
	fieldPositionLat      = 0
	fieldPositionLong     = 1
	fieldAltitude         = 2
	fieldHeartRate        = 3
	fieldCadence          = 4
	fieldSpeed            = 6
	fieldEnhancedSpeed    = 73
	fieldEnhancedAltitude = 78
	fieldSessionSport     = 5

	semicircleToDegrees = 180.0 / (1 << 31)
)

var fitEpoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

type baseType uint8

const (
	baseEnum    baseType = 0x00
	baseSint8   baseType = 0x01
	baseUint8   baseType = 0x02
	baseSint16  baseType = 0x83
	baseUint16  baseType = 0x84
	baseSint32  baseType = 0x85
	baseUint32  baseType = 0x86
	baseString  baseType = 0x07
	baseFloat32 baseType = 0x88
	baseFloat64 baseType = 0x89
	baseUint8z  baseType = 0x0A
	baseUint16z baseType = 0x8B
	baseUint32z baseType = 0x8C
	baseByte    baseType = 0x0D
	baseSint64  baseType = 0x8E
	baseUint64  baseType = 0x8F
	baseUint64z baseType = 0x90
)

var baseSizes = map[baseType]int{
	baseEnum: 1, baseSint8: 1, baseUint8: 1, baseString: 1, baseUint8z: 1, baseByte: 1,
	baseSint16: 2, baseUint16: 2, baseUint16z: 2,
	baseSint32: 4, baseUint32: 4, baseFloat32: 4, baseUint32z: 4,
	baseFloat64: 8, baseSint64: 8, baseUint64: 8, baseUint64z: 8,
}

type fieldDef struct {
	number uint8
	size   uint8
	base   baseType
}

type definition struct {
	global  uint16
	arch    binary.ByteOrder
	fields  []fieldDef
	devSize int
}

// message is one decoded FIT data message. Only record and session messages
// are interpreted; everything else is carried as an unknownMessage.
type message interface {
	global() uint16
}

type recordMessage struct {
	point        TrackPoint
	hasTimestamp bool
}

type sessionMessage struct {
	sport string
}

type unknownMessage struct {
	num    uint16
	length int
}

func (recordMessage) global() uint16    { return globalRecord }
func (sessionMessage) global() uint16   { return globalSession }
func (m unknownMessage) global() uint16 { return m.num }

type fitDecoder struct{}

// Decode parses a FIT activity. Header and container violations are fatal;
// CRC mismatches only warn. A truncated record or an undefined local message
// ends the scan with a warning and one skipped record, keeping the points
// decoded so far.
func (fitDecoder) Decode(data []byte) (*Track, error) {
	t := &Track{Format: FormatFIT, Points: []TrackPoint{}}

	dataStart, dataEnd, err := checkFITContainer(data, t)
	if err != nil {
		return nil, err
	}

	s := &fitScanner{
		data:        data[dataStart:dataEnd],
		offset:      dataStart,
		definitions: make(map[uint8]definition),
	}
	if err := s.scan(); err != nil {
		t.skip("stopped reading records: %v", err)
	}

	untimed := 0
	var unknown []unknownMessage
	for _, m := range s.messages {
		switch msg := m.(type) {
		case recordMessage:
			if !msg.hasTimestamp {
				untimed++
				continue
			}
			t.Points = append(t.Points, msg.point)
		case sessionMessage:
			if t.Sport == "" && msg.sport != "" {
				t.Sport = msg.sport
			}
		case unknownMessage:
			unknown = append(unknown, msg)
		}
	}
	if untimed > 0 {
		t.SkippedRecords += untimed
		t.warnf("skipped %d record message(s) without a timestamp", untimed)
	}
	reportUnknownMessages(t, unknown)

	t.Device = fitDevice(data)
	return t, nil
}

func checkFITContainer(data []byte, t *Track) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("%w: empty input", ErrCorruptFile)
	}
	size := int(data[0])
	if size != headerSizeNoCRC && size != headerSizeCRC {
		return 0, 0, fmt.Errorf("%w: invalid fit header size %d", ErrCorruptFile, size)
	}
	if len(data) < size {
		return 0, 0, fmt.Errorf("%w: truncated fit header: need %d bytes, have %d", ErrCorruptFile, size, len(data))
	}
	if string(data[8:12]) != ".FIT" {
		return 0, 0, fmt.Errorf("%w: invalid fit data type %q", ErrCorruptFile, string(data[8:12]))
	}

	if size == headerSizeCRC {
		stored := binary.LittleEndian.Uint16(data[12:14])
		if stored != 0 {
			if computed := dyncrc16.Checksum(data[:12]); computed != stored {
				t.warnf("header CRC mismatch: stored 0x%04X, computed 0x%04X", stored, computed)
			}
		}
	}

	dataSize := int(binary.LittleEndian.Uint32(data[4:8]))
	end := size + dataSize
	if end > len(data) || end < size {
		return 0, 0, fmt.Errorf("%w: fit data size %d exceeds file length %d", ErrCorruptFile, dataSize, len(data)-size)
	}

	if len(data) < end+2 {
		t.warnf("file CRC missing")
	} else {
		stored := binary.LittleEndian.Uint16(data[end : end+2])
		if computed := dyncrc16.Checksum(data[:end]); computed != stored {
			t.warnf("file CRC mismatch: stored 0x%04X, computed 0x%04X", stored, computed)
		}
		if extra := len(data) - end - 2; extra > 0 {
			t.warnf("ignored %d trailing byte(s) after the first fit file", extra)
		}
	}
	return size, end, nil
}

type fitScanner struct {
	data           []byte
	offset         int
	definitions    map[uint8]definition
	lastTimestamp  uint32
	lastTimeOffset uint32
	messages       []message
}

func (s *fitScanner) scan() error {
	pos := 0
	for pos < len(s.data) {
		start := pos
		header := s.data[pos]
		pos++

		var err error
		switch {
		case header&compressedHeaderMask == compressedHeaderMask:
			local := (header & compressedLocalMesgNumMask) >> 5
			def, ok := s.definitions[local]
			if !ok {
				return fmt.Errorf("compressed data message for undefined local type %d at byte %d", local, s.offset+start)
			}
			pos, err = s.readData(pos, header, def, true)
		case header&mesgDefinitionMask == mesgDefinitionMask:
			pos, err = s.readDefinition(pos, header)
		default:
			local := header & localMesgNumMask
			def, ok := s.definitions[local]
			if !ok {
				return fmt.Errorf("data message for undefined local type %d at byte %d", local, s.offset+start)
			}
			pos, err = s.readData(pos, header, def, false)
		}
		if err != nil {
			return fmt.Errorf("record at byte %d: %w", s.offset+start, err)
		}
	}
	return nil
}

func (s *fitScanner) take(pos, n int) ([]byte, int, error) {
	if pos+n > len(s.data) {
		return nil, pos, fmt.Errorf("truncated: need %d bytes, have %d", n, len(s.data)-pos)
	}
	return s.data[pos : pos+n], pos + n, nil
}

func (s *fitScanner) readDefinition(pos int, header uint8) (int, error) {
	fixed, pos, err := s.take(pos, 5)
	if err != nil {
		return pos, err
	}

	var arch binary.ByteOrder
	switch fixed[1] {
	case 0:
		arch = binary.LittleEndian
	case 1:
		arch = binary.BigEndian
	default:
		return pos, fmt.Errorf("invalid architecture byte %d", fixed[1])
	}

	def := definition{
		global: arch.Uint16(fixed[2:4]),
		arch:   arch,
		fields: make([]fieldDef, 0, fixed[4]),
	}
	for i := 0; i < int(fixed[4]); i++ {
		var raw []byte
		if raw, pos, err = s.take(pos, 3); err != nil {
			return pos, err
		}
		def.fields = append(def.fields, fieldDef{number: raw[0], size: raw[1], base: decompressBaseType(raw[2])})
	}

	if header&devDataMask == devDataMask {
		var count []byte
		if count, pos, err = s.take(pos, 1); err != nil {
			return pos, err
		}
		for i := 0; i < int(count[0]); i++ {
			var raw []byte
			if raw, pos, err = s.take(pos, 3); err != nil {
				return pos, err
			}
			def.devSize += int(raw[1])
		}
	}

	s.definitions[header&localMesgNumMask] = def
	return pos, nil
}

func (s *fitScanner) readData(pos int, header uint8, def definition, compressed bool) (int, error) {
	start := pos
	var (
		rec      recordMessage
		sess     sessionMessage
		lat, lng float64
		haveLat  bool
		haveLng  bool
		altitude *float64
		enhAlt   *float64
		speed    *float64
		enhSpeed *float64
	)

	if compressed && s.lastTimestamp != 0 {
		offset := uint32(header & compressedTimeMask)
		s.lastTimestamp += (offset - s.lastTimeOffset) & compressedTimeMask
		s.lastTimeOffset = offset
		rec.point.Timestamp = fitEpoch.Add(time.Duration(s.lastTimestamp) * time.Second)
		rec.hasTimestamp = true
	}

	for _, fd := range def.fields {
		var raw []byte
		var err error
		if raw, pos, err = s.take(pos, int(fd.size)); err != nil {
			return pos, err
		}
		if def.global != globalRecord && def.global != globalSession && fd.number != fieldTimestamp {
			continue
		}

		v, ok := decodeNumber(raw, fd.base, def.arch)
		if !ok {
			continue
		}

		if fd.number == fieldTimestamp {
			ts := uint32(v)
			s.lastTimestamp = ts
			s.lastTimeOffset = ts & compressedTimeMask
			if def.global == globalRecord {
				rec.point.Timestamp = fitEpoch.Add(time.Duration(ts) * time.Second)
				rec.hasTimestamp = true
			}
			continue
		}

		if def.global == globalSession {
			if fd.number == fieldSessionSport {
				sess.sport = sportName(uint8(v))
			}
			continue
		}

		switch fd.number {
		case fieldPositionLat:
			lat, haveLat = v*semicircleToDegrees, true
		case fieldPositionLong:
			lng, haveLng = v*semicircleToDegrees, true
		case fieldAltitude:
			altitude = floatPtr(v/5 - 500)
		case fieldEnhancedAltitude:
			enhAlt = floatPtr(v/5 - 500)
		case fieldHeartRate:
			rec.point.HeartRate = floatPtr(v)
		case fieldCadence:
			rec.point.Cadence = floatPtr(v)
		case fieldSpeed:
			speed = floatPtr(v / 1000)
		case fieldEnhancedSpeed:
			enhSpeed = floatPtr(v / 1000)
		}
	}

	if def.devSize > 0 {
		var err error
		if _, pos, err = s.take(pos, def.devSize); err != nil {
			return pos, err
		}
	}

	switch def.global {
	case globalRecord:
		if haveLat && haveLng {
			rec.point.Position = &LatLng{Lat: lat, Lng: lng}
		}
		rec.point.Elevation = firstNonNil(enhAlt, altitude)
		rec.point.Speed = firstNonNil(enhSpeed, speed)
		s.messages = append(s.messages, rec)
	case globalSession:
		s.messages = append(s.messages, sess)
	default:
		s.messages = append(s.messages, unknownMessage{num: def.global, length: pos - start})
	}
	return pos, nil
}

// decodeNumber reads the first element of a numeric field, reporting false
// for FIT invalid sentinels and non-numeric base types.
func decodeNumber(raw []byte, bt baseType, arch binary.ByteOrder) (float64, bool) {
	size, ok := baseSizes[bt]
	if !ok || bt == baseString || bt == baseByte || len(raw) < size {
		return 0, false
	}
	raw = raw[:size]

	switch bt {
	case baseEnum, baseUint8:
		return float64(raw[0]), raw[0] != 0xFF
	case baseUint8z:
		return float64(raw[0]), raw[0] != 0x00
	case baseSint8:
		v := int8(raw[0])
		return float64(v), v != 0x7F
	case baseSint16:
		v := int16(arch.Uint16(raw))
		return float64(v), v != 0x7FFF
	case baseUint16:
		v := arch.Uint16(raw)
		return float64(v), v != 0xFFFF
	case baseUint16z:
		v := arch.Uint16(raw)
		return float64(v), v != 0
	case baseSint32:
		v := int32(arch.Uint32(raw))
		return float64(v), v != 0x7FFFFFFF
	case baseUint32:
		v := arch.Uint32(raw)
		return float64(v), v != 0xFFFFFFFF
	case baseUint32z:
		v := arch.Uint32(raw)
		return float64(v), v != 0
	case baseFloat32:
		bits := arch.Uint32(raw)
		v := float64(math.Float32frombits(bits))
		return v, bits != 0xFFFFFFFF && !math.IsNaN(v) && !math.IsInf(v, 0)
	case baseFloat64:
		bits := arch.Uint64(raw)
		v := math.Float64frombits(bits)
		return v, bits != 0xFFFFFFFFFFFFFFFF && !math.IsNaN(v) && !math.IsInf(v, 0)
	case baseSint64:
		v := int64(arch.Uint64(raw))
		return float64(v), v != 0x7FFFFFFFFFFFFFFF
	case baseUint64:
		v := arch.Uint64(raw)
		return float64(v), v != 0xFFFFFFFFFFFFFFFF
	case baseUint64z:
		v := arch.Uint64(raw)
		return float64(v), v != 0
	default:
		return 0, false
	}
}

func decompressBaseType(b byte) baseType {
	switch b & 0x1F {
	case 0x03:
		return baseSint16
	case 0x04:
		return baseUint16
	case 0x05:
		return baseSint32
	case 0x06:
		return baseUint32
	case 0x08:
		return baseFloat32
	case 0x09:
		return baseFloat64
	case 0x0B:
		return baseUint16z
	case 0x0C:
		return baseUint32z
	case 0x0E:
		return baseSint64
	case 0x0F:
		return baseUint64
	case 0x10:
		return baseUint64z
	default:
		return baseType(b & 0x1F)
	}
}

// isVendorMessage reports whether global is in the manufacturer range or
// otherwise unnamed by the FIT profile.
func isVendorMessage(global uint16) bool {
	if global >= globalMfgRangeMin {
		return true
	}
	return strings.HasPrefix(fmt.Sprint(fit.MesgNum(global)), "MesgNum(")
}

// reportUnknownMessages warns about vendor messages the FIT profile does not
// name. Profile messages other than record and session are skipped silently.
func reportUnknownMessages(t *Track, skipped []unknownMessage) {
	type tally struct{ count, bytes int }
	byGlobal := make(map[uint16]*tally)
	for _, m := range skipped {
		if !isVendorMessage(m.global()) {
			continue
		}
		tl, ok := byGlobal[m.global()]
		if !ok {
			tl = &tally{}
			byGlobal[m.global()] = tl
		}
		tl.count++
		tl.bytes += m.length
	}

	globals := make([]int, 0, len(byGlobal))
	for g := range byGlobal {
		globals = append(globals, int(g))
	}
	sort.Ints(globals)
	for _, g := range globals {
		tl := byGlobal[uint16(g)]
		t.warnf("skipped %d unrecognized message(s) with global number %d (%d bytes)", tl.count, g, tl.bytes)
	}
}

func sportName(v uint8) string {
	name := fit.Sport(v).String()
	if strings.HasPrefix(name, "Sport(") {
		return fmt.Sprintf("sport_%d", v)
	}
	return strings.ToLower(strings.TrimPrefix(name, "Sport"))
}

func fitDevice(data []byte) *Device {
	_, id, err := fit.DecodeHeaderAndFileID(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	d := &Device{
		Manufacturer: fmt.Sprint(id.Manufacturer),
		Product:      fmt.Sprint(id.GetProduct()),
		SerialNumber: id.SerialNumber,
	}
	if !id.TimeCreated.IsZero() && !fit.IsBaseTime(id.TimeCreated) {
		d.TimeCreated = id.TimeCreated.UTC()
	}
	return d
}

func firstNonNil(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
