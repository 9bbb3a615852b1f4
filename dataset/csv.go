// Package dataset reads the Kaggle Bike Sharing Demand CSV files and writes
// submissions and feature exports.
package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

// Column names of the Kaggle files.
const (
	ColDatetime   = "datetime"
	ColSeason     = "season"
	ColHoliday    = "holiday"
	ColWorkingDay = "workingday"
	ColWeather    = "weather"
	ColTemp       = "temp"
	ColAtemp      = "atemp"
	ColHumidity   = "humidity"
	ColWindspeed  = "windspeed"
	ColCasual     = "casual"
	ColRegistered = "registered"
	ColCount      = "count"
)

var requiredColumns = []string{
	ColDatetime, ColSeason, ColHoliday, ColWorkingDay, ColWeather,
	ColTemp, ColAtemp, ColHumidity, ColWindspeed,
}

var targetColumns = []string{ColCasual, ColRegistered, ColCount}

const opRead = "dataset.ReadRecords"

// ReadRecords parses a train or test file. Columns are matched by header
// name, so their order does not matter and extra columns are ignored.
// A file carrying all of casual, registered and count yields records with a
// Target; a file carrying none of them yields scoring records.
//
// Row numbers in returned errors count data rows from 0, excluding the header.
func ReadRecords(r io.Reader) ([]preprocessing.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.NewSchemaError(opRead, -1, "header", "file is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, opRead)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			return nil, errors.NewSchemaError(opRead, -1, c, "required column missing from header")
		}
	}
	present := 0
	for _, c := range targetColumns {
		if _, ok := index[c]; ok {
			present++
		}
	}
	if present != 0 && present != len(targetColumns) {
		return nil, errors.NewSchemaError(opRead, -1, ColCount, "casual, registered and count must appear together")
	}
	withTarget := present == len(targetColumns)

	var out []preprocessing.RawRecord
	for row := 0; ; row++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewSchemaError(opRead, row, "", err.Error())
		}
		p := rowParser{fields: fields, index: index, row: row}
		rec := p.record(withTarget)
		if p.err != nil {
			return nil, p.err
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadCSV opens path and reads it with ReadRecords.
func LoadCSV(path string) ([]preprocessing.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	recs, err := ReadRecords(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return recs, nil
}

// rowParser keeps the first error so a record can be parsed field by field.
type rowParser struct {
	fields []string
	index  map[string]int
	row    int
	err    error
}

func (p *rowParser) cell(col string) string {
	i := p.index[col]
	if i >= len(p.fields) {
		return ""
	}
	return strings.TrimSpace(p.fields[i])
}

func (p *rowParser) fail(col, reason string) {
	if p.err == nil {
		p.err = errors.NewSchemaError(opRead, p.row, col, reason)
	}
}

func (p *rowParser) floatField(col string) float64 {
	s := p.cell(col)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(col, "not a number: "+strconv.Quote(s))
	}
	return v
}

func (p *rowParser) intField(col string) int {
	s := p.cell(col)
	v, err := strconv.Atoi(s)
	if err == nil {
		return v
	}
	// integral floats such as "3.0" are accepted
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f != float64(int(f)) {
		p.fail(col, "not an integer: "+strconv.Quote(s))
		return 0
	}
	errors.Warn(errors.NewDataConversionWarning("float", "int", col+"="+s))
	return int(f)
}

func (p *rowParser) boolField(col string) bool {
	switch s := p.cell(col); s {
	case "0":
		return false
	case "1":
		return true
	default:
		b, err := strconv.ParseBool(s)
		if err != nil {
			p.fail(col, "not a 0/1 flag: "+strconv.Quote(s))
			return false
		}
		errors.Warn(errors.NewDataConversionWarning("string", "bool", col+"="+s))
		return b
	}
}

func (p *rowParser) timeField(col string) time.Time {
	s := p.cell(col)
	t, err := time.Parse(preprocessing.TimestampLayout, s)
	if err != nil {
		p.fail(col, "timestamp must be YYYY-MM-DD hh:mm:ss: "+strconv.Quote(s))
	}
	return t
}

func (p *rowParser) record(withTarget bool) preprocessing.RawRecord {
	rec := preprocessing.RawRecord{
		Timestamp:     p.timeField(ColDatetime),
		Season:        p.intField(ColSeason),
		Holiday:       p.boolField(ColHoliday),
		WorkingDay:    p.boolField(ColWorkingDay),
		Weather:       p.intField(ColWeather),
		Temp:          p.floatField(ColTemp),
		FeelsLikeTemp: p.floatField(ColAtemp),
		Humidity:      p.floatField(ColHumidity),
		Windspeed:     p.floatField(ColWindspeed),
	}
	if withTarget {
		rec.Target = &preprocessing.Target{
			Casual:     p.intField(ColCasual),
			Registered: p.intField(ColRegistered),
			Count:      p.intField(ColCount),
		}
	}
	return rec
}
