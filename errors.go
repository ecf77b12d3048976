package garminhealth

import (
	"errors"

	"github.com/lucasjlepore/garmin-health/series"
	"github.com/lucasjlepore/garmin-health/timespec"
	"github.com/lucasjlepore/garmin-health/track"
)

// Kind names a failure category that callers report back as a textual error field.
type Kind string

const (
	KindInvalidTimeFormat Kind = "InvalidTimeFormat"
	KindInvalidDateFormat Kind = "InvalidDateFormat"
	KindNotFound          Kind = "NotFound"
	KindCorruptFile       Kind = "CorruptFile"
	KindInsufficientData  Kind = "InsufficientData"
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindInternal          Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{timespec.ErrInvalidTimeFormat, KindInvalidTimeFormat},
	{timespec.ErrInvalidDateFormat, KindInvalidDateFormat},
	{series.ErrNotFound, KindNotFound},
	{track.ErrCorruptFile, KindCorruptFile},
	{ErrInsufficientData, KindInsufficientData},
	{track.ErrUnsupportedFormat, KindUnsupportedFormat},
}

// ErrorKind classifies err. It returns "" for nil and KindInternal for
// errors outside the taxonomy.
func ErrorKind(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
