package dataset

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

// Compression codecs accepted by ExportParquet.
const (
	CodecSnappy = "SNAPPY"
	CodecGzip   = "GZIP"
	CodecNone   = "NONE"
)

// FeatureRow is the Parquet schema of an enriched record. Target columns are
// null for scoring records.
type FeatureRow struct {
	Datetime      string  `parquet:"name=datetime,type=BYTE_ARRAY,convertedtype=UTF8"`
	Timestamp     int64   `parquet:"name=timestamp,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	Season        int32   `parquet:"name=season,type=INT32"`
	Holiday       bool    `parquet:"name=holiday,type=BOOLEAN"`
	WorkingDay    bool    `parquet:"name=workingday,type=BOOLEAN"`
	Weather       int32   `parquet:"name=weather,type=INT32"`
	Temp          float64 `parquet:"name=temp,type=DOUBLE"`
	Atemp         float64 `parquet:"name=atemp,type=DOUBLE"`
	Humidity      float64 `parquet:"name=humidity,type=DOUBLE"`
	Windspeed     float64 `parquet:"name=windspeed,type=DOUBLE"`
	Hour          int32   `parquet:"name=hour,type=INT32"`
	Day           int32   `parquet:"name=day,type=INT32"`
	Month         int32   `parquet:"name=month,type=INT32"`
	Year          int32   `parquet:"name=year,type=INT32"`
	DayOfWeek     int32   `parquet:"name=day_of_week,type=INT32"`
	TimeOfDay     string  `parquet:"name=time_of_day,type=BYTE_ARRAY,convertedtype=UTF8"`
	IsRushHour    bool    `parquet:"name=is_rush_hour,type=BOOLEAN"`
	IsWeekend     bool    `parquet:"name=is_weekend,type=BOOLEAN"`
	WeatherSeason string  `parquet:"name=weather_season,type=BYTE_ARRAY,convertedtype=UTF8"`
	TempBin       string  `parquet:"name=temp_bin,type=BYTE_ARRAY,convertedtype=UTF8"`
	HumidityBin   string  `parquet:"name=humidity_bin,type=BYTE_ARRAY,convertedtype=UTF8"`
	WindspeedBin  string  `parquet:"name=windspeed_bin,type=BYTE_ARRAY,convertedtype=UTF8"`
	TempHumidity  float64 `parquet:"name=temp_humidity,type=DOUBLE"`
	TempWindspeed float64 `parquet:"name=temp_windspeed,type=DOUBLE"`

	Casual     *int32   `parquet:"name=casual,type=INT32,repetitiontype=OPTIONAL"`
	Registered *int32   `parquet:"name=registered,type=INT32,repetitiontype=OPTIONAL"`
	Count      *int32   `parquet:"name=count,type=INT32,repetitiontype=OPTIONAL"`
	CountLog   *float64 `parquet:"name=count_log,type=DOUBLE,repetitiontype=OPTIONAL"`
}

// NewFeatureRow flattens an enriched record.
func NewFeatureRow(r preprocessing.EnrichedRecord) FeatureRow {
	row := FeatureRow{
		Datetime:      r.Timestamp.Format(preprocessing.TimestampLayout),
		Timestamp:     r.Timestamp.UnixMilli(),
		Season:        int32(r.Season),
		Holiday:       r.Holiday,
		WorkingDay:    r.WorkingDay,
		Weather:       int32(r.Weather),
		Temp:          r.Temp,
		Atemp:         r.FeelsLikeTemp,
		Humidity:      r.Humidity,
		Windspeed:     r.Windspeed,
		Hour:          int32(r.Hour),
		Day:           int32(r.Day),
		Month:         int32(r.Month),
		Year:          int32(r.Year),
		DayOfWeek:     int32(r.DayOfWeek),
		TimeOfDay:     r.TimeOfDay,
		IsRushHour:    r.IsRushHour,
		IsWeekend:     r.IsWeekend,
		WeatherSeason: r.WeatherSeason,
		TempBin:       r.TempBin,
		HumidityBin:   r.HumidityBin,
		WindspeedBin:  r.WindspeedBin,
		TempHumidity:  r.TempHumidity,
		TempWindspeed: r.TempWindspeed,
	}
	if t := r.Target; t != nil {
		casual, registered, count := int32(t.Casual), int32(t.Registered), int32(t.Count)
		row.Casual, row.Registered, row.Count = &casual, &registered, &count
	}
	if r.CountLog != nil {
		v := *r.CountLog
		row.CountLog = &v
	}
	return row
}

// ParseCodec maps a codec name to its Parquet constant. An empty name
// selects SNAPPY.
func ParseCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", CodecSnappy:
		return parquet.CompressionCodec_SNAPPY, nil
	case CodecGzip:
		return parquet.CompressionCodec_GZIP, nil
	case CodecNone, "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, errors.NewValidationError("codec", "must be SNAPPY, GZIP or NONE", name)
	}
}

// ExportParquet writes the enriched frame to w as a single Parquet file.
func ExportParquet(w io.Writer, recs []preprocessing.EnrichedRecord, codec string) error {
	cc, err := ParseCodec(codec)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriterFromWriter(w, new(FeatureRow), 1)
	if err != nil {
		return errors.Wrap(err, "create parquet writer")
	}
	pw.CompressionType = cc

	for i := range recs {
		if err := pw.Write(NewFeatureRow(recs[i])); err != nil {
			return errors.Wrapf(err, "write parquet row %d", i)
		}
	}
	// WriteStop can panic on internal writer errors
	return errors.SafeExecute("dataset.ExportParquet", pw.WriteStop)
}

// SaveParquet writes the enriched frame to path.
func SaveParquet(path string, recs []preprocessing.EnrichedRecord, codec string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	return ExportParquet(f, recs, codec)
}
