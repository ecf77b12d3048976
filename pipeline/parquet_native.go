//go:build !js

package pipeline

import (
	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// Missing optional values are written as NaN alongside a has_position flag.
type pointParquetRow struct {
	PointIndex  int64   `parquet:"name=point_index, type=INT64"`
	TSUTCISO    string  `parquet:"name=ts_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ElapsedS    float64 `parquet:"name=elapsed_s, type=DOUBLE"`
	DistanceM   float64 `parquet:"name=distance_m, type=DOUBLE"`
	Lat         float64 `parquet:"name=lat, type=DOUBLE"`
	Lng         float64 `parquet:"name=lng, type=DOUBLE"`
	ElevationM  float64 `parquet:"name=elevation_m, type=DOUBLE"`
	HRBPM       float64 `parquet:"name=hr_bpm, type=DOUBLE"`
	Cadence     float64 `parquet:"name=cadence, type=DOUBLE"`
	SpeedMPS    float64 `parquet:"name=speed_mps, type=DOUBLE"`
	HasPosition bool    `parquet:"name=has_position, type=BOOLEAN"`
}

func toParquetRow(r PointRow) pointParquetRow {
	return pointParquetRow{
		PointIndex:  int64(r.PointIndex),
		TSUTCISO:    r.TSUTCISO,
		ElapsedS:    r.ElapsedS,
		DistanceM:   r.DistanceM,
		Lat:         valueOrNaN(r.Lat),
		Lng:         valueOrNaN(r.Lng),
		ElevationM:  valueOrNaN(r.ElevationM),
		HRBPM:       valueOrNaN(r.HRBPM),
		Cadence:     valueOrNaN(r.Cadence),
		SpeedMPS:    valueOrNaN(r.SpeedMPS),
		HasPosition: r.Lat != nil && r.Lng != nil,
	}
}

func writeParquetRows(fw source.ParquetFile, rows []PointRow) error {
	pw, err := writer.NewParquetWriter(fw, new(pointParquetRow), 4)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		if err := pw.Write(toParquetRow(r)); err != nil {
			_ = pw.WriteStop()
			return err
		}
	}
	return pw.WriteStop()
}

func writePointsParquet(path string, rows []PointRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	if err := writeParquetRows(fw, rows); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

func marshalPointsParquet(rows []PointRow) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	if err := writeParquetRows(fw, rows); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}
