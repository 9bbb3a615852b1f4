package preprocessing

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(TimestampLayout, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func trainRow(t *testing.T, ts string) RawRecord {
	t.Helper()
	return RawRecord{
		Timestamp:     mustTime(t, ts),
		Season:        1,
		Weather:       1,
		Temp:          9.84,
		FeelsLikeTemp: 14.395,
		Humidity:      81,
		Windspeed:     0,
		Target:        &Target{Casual: 3, Registered: 13, Count: 16},
	}
}

func TestEnrichEndToEnd(t *testing.T) {
	recs, err := Enrich([]RawRecord{trainRow(t, "2011-01-01 00:00:00")})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	r := recs[0]

	if r.Hour != 0 || r.Day != 1 || r.Month != 1 || r.Year != 2011 {
		t.Errorf("time parts = %d/%d/%d %d", r.Year, r.Month, r.Day, r.Hour)
	}
	if r.DayOfWeek != 5 {
		t.Errorf("DayOfWeek = %d, want 5", r.DayOfWeek)
	}
	if !r.IsWeekend {
		t.Error("IsWeekend = false, want true")
	}
	if r.IsRushHour {
		t.Error("IsRushHour = true, want false")
	}
	if r.TimeOfDay != TimeOfDayNight {
		t.Errorf("TimeOfDay = %q, want night", r.TimeOfDay)
	}
	if r.WeatherSeason != "11" {
		t.Errorf("WeatherSeason = %q, want 11", r.WeatherSeason)
	}
	if r.TempBin != "cold" || r.HumidityBin != "very_high" || r.WindspeedBin != "low" {
		t.Errorf("bins = %q/%q/%q", r.TempBin, r.HumidityBin, r.WindspeedBin)
	}
	if math.Abs(r.TempHumidity-9.84*81) > 1e-9 {
		t.Errorf("TempHumidity = %v", r.TempHumidity)
	}
	if r.TempWindspeed != 0 {
		t.Errorf("TempWindspeed = %v, want 0", r.TempWindspeed)
	}
	if r.CountLog == nil {
		t.Fatal("CountLog is nil")
	}
	if math.Abs(*r.CountLog-math.Log(17)) > 1e-12 {
		t.Errorf("CountLog = %v, want %v", *r.CountLog, math.Log(17))
	}
	if math.Abs(*r.CountLog-2.833) > 1e-3 {
		t.Errorf("CountLog = %v, want ~2.833", *r.CountLog)
	}
}

func TestEnrichWithoutTarget(t *testing.T) {
	raw := trainRow(t, "2011-01-20 00:00:00")
	raw.Target = nil

	recs, err := Enrich([]RawRecord{raw})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if recs[0].CountLog != nil {
		t.Errorf("CountLog = %v, want nil", *recs[0].CountLog)
	}
	if recs[0].HasTarget() {
		t.Error("HasTarget() = true")
	}
}

func TestEnrichEmpty(t *testing.T) {
	recs, err := Enrich(nil)
	if err != nil {
		t.Fatalf("Enrich(nil) error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("len = %d, want 0", len(recs))
	}
}

func hourlyRows(t *testing.T, n int) []RawRecord {
	t.Helper()
	start := mustTime(t, "2011-01-01 00:00:00")
	rows := make([]RawRecord, n)
	for i := range rows {
		rows[i] = RawRecord{
			Timestamp:     start.Add(time.Duration(i) * time.Hour),
			Season:        i%4 + 1,
			Weather:       i%3 + 1,
			Temp:          float64(i%40) - 5,
			FeelsLikeTemp: float64(i % 35),
			Humidity:      float64(i % 101),
			Windspeed:     float64(i % 57),
			Target:        &Target{Casual: i % 7, Registered: i % 11, Count: i%7 + i%11},
		}
	}
	return rows
}

func TestEnrichPreservesCardinalityAndOrder(t *testing.T) {
	for _, threshold := range []int{0, 10, 1 << 20} {
		rows := hourlyRows(t, 500)
		p := NewPipeline(WithParallelThreshold(threshold))

		recs, err := p.Enrich(rows)
		if err != nil {
			t.Fatalf("threshold %d: Enrich() error = %v", threshold, err)
		}
		if len(recs) != len(rows) {
			t.Fatalf("threshold %d: len = %d, want %d", threshold, len(recs), len(rows))
		}
		for i := range rows {
			if !recs[i].Timestamp.Equal(rows[i].Timestamp) {
				t.Fatalf("threshold %d: row %d out of order", threshold, i)
			}
		}
	}
}

func TestEnrichWeekendProperty(t *testing.T) {
	recs, err := Enrich(hourlyRows(t, 24*14))
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	for i, r := range recs {
		want := r.DayOfWeek == 5 || r.DayOfWeek == 6
		if r.IsWeekend != want {
			t.Errorf("row %d: IsWeekend = %v with DayOfWeek %d", i, r.IsWeekend, r.DayOfWeek)
		}
		if r.IsWeekend && r.IsRushHour {
			t.Errorf("row %d: rush hour on a weekend", i)
		}
	}
}

func TestEnrichIdempotent(t *testing.T) {
	rows := hourlyRows(t, 100)
	first, err := Enrich(rows)
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	second, err := Enrich(RawRecords(first))
	if err != nil {
		t.Fatalf("Enrich(Raw) error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("enriching the raw view of enriched records changed the result")
	}
}

func TestEnrichDoesNotMutateInput(t *testing.T) {
	rows := hourlyRows(t, 10)
	before := make([]RawRecord, len(rows))
	for i, r := range rows {
		before[i] = r
		tgt := *r.Target
		before[i].Target = &tgt
	}

	recs, err := Enrich(rows)
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	recs[0].Target.Count = 999

	if !reflect.DeepEqual(rows, before) {
		t.Error("input records were modified")
	}
}

func TestEnrichErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *RawRecord)
		check   func(err error) bool
		wantRow int
	}{
		{
			name:   "season out of range",
			mutate: func(r *RawRecord) { r.Season = 5 },
			check: func(err error) bool {
				var re *errors.RangeError
				return errors.As(err, &re) && re.Field == "season" && re.Row == 3
			},
		},
		{
			name:   "weather out of range",
			mutate: func(r *RawRecord) { r.Weather = 0 },
			check: func(err error) bool {
				var re *errors.RangeError
				return errors.As(err, &re) && re.Field == "weather" && re.Row == 3
			},
		},
		{
			name:   "missing timestamp",
			mutate: func(r *RawRecord) { r.Timestamp = time.Time{} },
			check: func(err error) bool {
				var se *errors.SchemaError
				return errors.As(err, &se) && se.Field == "timestamp" && se.Row == 3
			},
		},
		{
			name:   "NaN humidity",
			mutate: func(r *RawRecord) { r.Humidity = math.NaN() },
			check: func(err error) bool {
				var se *errors.SchemaError
				return errors.As(err, &se) && se.Field == "humidity"
			},
		},
		{
			name:   "humidity above 100",
			mutate: func(r *RawRecord) { r.Humidity = 150 },
			check: func(err error) bool {
				var re *errors.RangeError
				return errors.As(err, &re) && re.Field == "humidity" && re.Row == 3
			},
		},
		{
			name:   "negative humidity",
			mutate: func(r *RawRecord) { r.Humidity = -1 },
			check: func(err error) bool {
				var re *errors.RangeError
				return errors.As(err, &re) && re.Field == "humidity"
			},
		},
		{
			name:   "negative windspeed",
			mutate: func(r *RawRecord) { r.Windspeed = -3 },
			check: func(err error) bool {
				var re *errors.RangeError
				return errors.As(err, &re) && re.Field == "windspeed" && re.Row == 3
			},
		},
		{
			name:   "count mismatch",
			mutate: func(r *RawRecord) { r.Target = &Target{Casual: 1, Registered: 1, Count: 3} },
			check: func(err error) bool {
				var se *errors.SchemaError
				return errors.As(err, &se) && se.Field == "count" && se.Row == 3
			},
		},
		{
			name:   "negative casual",
			mutate: func(r *RawRecord) { r.Target = &Target{Casual: -1, Registered: 2, Count: 1} },
			check: func(err error) bool {
				var re *errors.RangeError
				return errors.As(err, &re) && re.Field == "casual"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := hourlyRows(t, 6)
			tt.mutate(&rows[3])

			recs, err := Enrich(rows)
			if err == nil {
				t.Fatal("expected error")
			}
			if recs != nil {
				t.Errorf("partial output returned: %d records", len(recs))
			}
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEnrichLowestRowErrorWins(t *testing.T) {
	rows := hourlyRows(t, 5000)
	rows[4000].Season = 9
	rows[1234].Weather = 9

	_, err := NewPipeline(WithParallelThreshold(0)).Enrich(rows)
	var re *errors.RangeError
	if !errors.As(err, &re) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if re.Row != 1234 {
		t.Errorf("Row = %d, want 1234", re.Row)
	}
}

func TestPipelineCustomSteps(t *testing.T) {
	p := NewPipeline(WithSteps(
		Step{Name: StepValidate, Apply: validateRecord},
		Step{Name: StepDecomposeTime, Apply: decomposeTime},
	))
	if got := p.Steps(); !reflect.DeepEqual(got, []string{"validate", "decompose_time"}) {
		t.Errorf("Steps() = %v", got)
	}

	recs, err := p.Enrich([]RawRecord{trainRow(t, "2011-01-03 08:00:00")})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if recs[0].Hour != 8 || recs[0].DayOfWeek != 0 {
		t.Errorf("Hour=%d DayOfWeek=%d", recs[0].Hour, recs[0].DayOfWeek)
	}
	if recs[0].TempBin != "" || recs[0].CountLog != nil {
		t.Error("steps outside the configured list were applied")
	}
}
