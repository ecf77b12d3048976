//go:build js

package pipeline

import "fmt"

func writePointsParquet(string, []PointRow) error {
	return fmt.Errorf("%w: parquet is not available in this build", ErrUnsupportedExport)
}

func marshalPointsParquet([]PointRow) ([]byte, error) {
	return nil, fmt.Errorf("%w: parquet is not available in this build", ErrUnsupportedExport)
}
