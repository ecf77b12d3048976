//go:build js

package pipeline

import (
	"fmt"

	garminhealth "github.com/lucasjlepore/garmin-health"
)

func writeSQLite(string, Manifest, *garminhealth.Summary, []PointRow) error {
	return fmt.Errorf("%w: sqlite is not available in this build", ErrUnsupportedExport)
}

func marshalSQLite(Manifest, *garminhealth.Summary, []PointRow) ([]byte, error) {
	return nil, fmt.Errorf("%w: sqlite is not available in this build", ErrUnsupportedExport)
}
