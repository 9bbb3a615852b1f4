package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

const trainCSV = `datetime,season,holiday,workingday,weather,temp,atemp,humidity,windspeed,casual,registered,count
2011-01-01 00:00:00,1,0,0,1,9.84,14.395,81,0,3,13,16
2011-01-01 01:00:00,1,0,0,1,9.02,13.635,80,0,8,32,40
2011-01-01 02:00:00,1,0,0,1,9.02,13.635,80,0,5,27,32
`

const testCSV = `datetime,season,holiday,workingday,weather,temp,atemp,humidity,windspeed
2011-01-20 00:00:00,1,0,1,1,10.66,11.365,56,26.0027
2011-01-20 01:00:00,1,0,1,1,10.66,13.635,56,0
`

func TestReadRecordsTrain(t *testing.T) {
	recs, err := ReadRecords(strings.NewReader(trainCSV))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	r := recs[0]
	assert.Equal(t, "2011-01-01 00:00:00", r.Timestamp.Format(preprocessing.TimestampLayout))
	assert.Equal(t, 1, r.Season)
	assert.False(t, r.Holiday)
	assert.False(t, r.WorkingDay)
	assert.InDelta(t, 9.84, r.Temp, 1e-12)
	assert.InDelta(t, 14.395, r.FeelsLikeTemp, 1e-12)
	assert.InDelta(t, 81.0, r.Humidity, 1e-12)
	require.NotNil(t, r.Target)
	assert.Equal(t, preprocessing.Target{Casual: 3, Registered: 13, Count: 16}, *r.Target)

	assert.Equal(t, 1, recs[1].Timestamp.Hour())
	assert.Equal(t, 2, recs[2].Timestamp.Hour())
}

func TestReadRecordsTest(t *testing.T) {
	recs, err := ReadRecords(strings.NewReader(testCSV))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Nil(t, r.Target)
		assert.True(t, r.WorkingDay)
	}
	assert.InDelta(t, 26.0027, recs[0].Windspeed, 1e-12)
}

func TestReadRecordsColumnOrder(t *testing.T) {
	in := "humidity,datetime,windspeed,weather,temp,season,atemp,workingday,holiday,extra\n" +
		"77,2012-06-01 17:00:00,12.998,2,30.34,2,34.09,1,0,ignored\n"
	recs, err := ReadRecords(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Season)
	assert.Equal(t, 2, recs[0].Weather)
	assert.InDelta(t, 77.0, recs[0].Humidity, 1e-12)
	assert.InDelta(t, 34.09, recs[0].FeelsLikeTemp, 1e-12)
	assert.Equal(t, 17, recs[0].Timestamp.Hour())
}

func TestReadRecordsErrors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantRow   int
		wantField string
	}{
		{
			name:      "empty file",
			input:     "",
			wantRow:   -1,
			wantField: "header",
		},
		{
			name:      "missing atemp",
			input:     "datetime,season,holiday,workingday,weather,temp,humidity,windspeed\n",
			wantRow:   -1,
			wantField: ColAtemp,
		},
		{
			name:      "partial target",
			input:     "datetime,season,holiday,workingday,weather,temp,atemp,humidity,windspeed,count\n",
			wantRow:   -1,
			wantField: ColCount,
		},
		{
			name:      "bad timestamp",
			input:     testCSV + "2011/01/20 02:00,1,0,1,1,10,11,56,0\n",
			wantRow:   2,
			wantField: ColDatetime,
		},
		{
			name:      "bad temp",
			input:     testCSV + "2011-01-20 02:00:00,1,0,1,1,warm,11,56,0\n",
			wantRow:   2,
			wantField: ColTemp,
		},
		{
			name:      "fractional season",
			input:     testCSV + "2011-01-20 02:00:00,1.5,0,1,1,10,11,56,0\n",
			wantRow:   2,
			wantField: ColSeason,
		},
		{
			name:      "bad flag",
			input:     testCSV + "2011-01-20 02:00:00,1,2,1,1,10,11,56,0\n",
			wantRow:   2,
			wantField: ColHoliday,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := ReadRecords(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Nil(t, recs)

			var se *errors.SchemaError
			require.True(t, errors.As(err, &se), "expected SchemaError, got %v", err)
			assert.Equal(t, tt.wantRow, se.Row)
			assert.Equal(t, tt.wantField, se.Field)
		})
	}
}

func TestReadRecordsConversionWarning(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })

	in := "datetime,season,holiday,workingday,weather,temp,atemp,humidity,windspeed\n" +
		"2011-01-20 00:00:00,1.0,false,true,1,10,11,56,0\n"
	recs, err := ReadRecords(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 1, recs[0].Season)
	assert.True(t, recs[0].WorkingDay)

	require.Len(t, warnings, 3)
	var dc *errors.DataConversionWarning
	assert.True(t, errors.As(warnings[0], &dc))
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(path, []byte(trainCSV), 0o644))

	recs, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestWriteSubmission(t *testing.T) {
	recs := []preprocessing.SubmissionRecord{
		{Datetime: "2011-01-20 00:00:00", Count: 0},
		{Datetime: "2011-01-20 01:00:00", Count: 12.5},
		{Datetime: "2011-01-20 02:00:00", Count: 1234567.25},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSubmission(&buf, recs))

	want := "datetime,count\n" +
		"2011-01-20 00:00:00,0\n" +
		"2011-01-20 01:00:00,12.5\n" +
		"2011-01-20 02:00:00,1234567.25\n"
	assert.Equal(t, want, buf.String())
}

func TestSaveSubmissionCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "submission.csv")
	require.NoError(t, SaveSubmission(path, []preprocessing.SubmissionRecord{{Datetime: "2011-01-20 00:00:00", Count: 3}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "datetime,count\n2011-01-20 00:00:00,3\n", string(data))
}

func TestExportParquet(t *testing.T) {
	raws, err := ReadRecords(strings.NewReader(trainCSV))
	require.NoError(t, err)
	recs, err := preprocessing.Enrich(raws)
	require.NoError(t, err)

	for _, codec := range []string{"", CodecGzip, CodecNone} {
		var buf bytes.Buffer
		require.NoError(t, ExportParquet(&buf, recs, codec), "codec %q", codec)
		b := buf.Bytes()
		require.Greater(t, len(b), 8)
		assert.Equal(t, "PAR1", string(b[:4]))
		assert.Equal(t, "PAR1", string(b[len(b)-4:]))
	}

	err = ExportParquet(&bytes.Buffer{}, recs, "lz77")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestNewFeatureRow(t *testing.T) {
	raws, err := ReadRecords(strings.NewReader(testCSV))
	require.NoError(t, err)
	recs, err := preprocessing.Enrich(raws)
	require.NoError(t, err)

	row := NewFeatureRow(recs[0])
	assert.Equal(t, "2011-01-20 00:00:00", row.Datetime)
	assert.Equal(t, int32(3), row.DayOfWeek)
	assert.Equal(t, preprocessing.TimeOfDayNight, row.TimeOfDay)
	assert.Nil(t, row.Count)
	assert.Nil(t, row.CountLog)
}
