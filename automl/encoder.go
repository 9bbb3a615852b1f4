package automl

import (
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

// FeatureSet はモデルに渡す列の組み合わせ
type FeatureSet string

const (
	// FeatureSetRaw は生の列と日時の分解列のみ
	FeatureSetRaw FeatureSet = "raw"
	// FeatureSetEnriched は全ての派生列。カテゴリ列は one-hot 化する
	FeatureSetEnriched FeatureSet = "enriched"
)

type numericColumn struct {
	name string
	get  func(r *preprocessing.EnrichedRecord) float64
}

type categoricalColumn struct {
	name string
	get  func(r *preprocessing.EnrichedRecord) string
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// 目的変数（casual, registered, count, count_log）は特徴量に含めない
var rawColumns = []numericColumn{
	{"season", func(r *preprocessing.EnrichedRecord) float64 { return float64(r.Season) }},
	{"holiday", func(r *preprocessing.EnrichedRecord) float64 { return boolFloat(r.Holiday) }},
	{"workingday", func(r *preprocessing.EnrichedRecord) float64 { return boolFloat(r.WorkingDay) }},
	{"weather", func(r *preprocessing.EnrichedRecord) float64 { return float64(r.Weather) }},
	{"temp", func(r *preprocessing.EnrichedRecord) float64 { return r.Temp }},
	{"atemp", func(r *preprocessing.EnrichedRecord) float64 { return r.FeelsLikeTemp }},
	{"humidity", func(r *preprocessing.EnrichedRecord) float64 { return r.Humidity }},
	{"windspeed", func(r *preprocessing.EnrichedRecord) float64 { return r.Windspeed }},
	{"hour", func(r *preprocessing.EnrichedRecord) float64 { return float64(r.Hour) }},
	{"day", func(r *preprocessing.EnrichedRecord) float64 { return float64(r.Day) }},
	{"month", func(r *preprocessing.EnrichedRecord) float64 { return float64(r.Month) }},
	{"year", func(r *preprocessing.EnrichedRecord) float64 { return float64(r.Year) }},
	{"day_of_week", func(r *preprocessing.EnrichedRecord) float64 { return float64(r.DayOfWeek) }},
}

var enrichedNumericColumns = []numericColumn{
	{"is_rush_hour", func(r *preprocessing.EnrichedRecord) float64 { return boolFloat(r.IsRushHour) }},
	{"is_weekend", func(r *preprocessing.EnrichedRecord) float64 { return boolFloat(r.IsWeekend) }},
	{"temp_humidity", func(r *preprocessing.EnrichedRecord) float64 { return r.TempHumidity }},
	{"temp_windspeed", func(r *preprocessing.EnrichedRecord) float64 { return r.TempWindspeed }},
}

var enrichedCategoricalColumns = []categoricalColumn{
	{"season", func(r *preprocessing.EnrichedRecord) string { return strconv.Itoa(r.Season) }},
	{"weather", func(r *preprocessing.EnrichedRecord) string { return strconv.Itoa(r.Weather) }},
	{"time_of_day", func(r *preprocessing.EnrichedRecord) string { return r.TimeOfDay }},
	{"weather_season", func(r *preprocessing.EnrichedRecord) string { return r.WeatherSeason }},
	{"temp_bin", func(r *preprocessing.EnrichedRecord) string { return r.TempBin }},
	{"humidity_bin", func(r *preprocessing.EnrichedRecord) string { return r.HumidityBin }},
	{"windspeed_bin", func(r *preprocessing.EnrichedRecord) string { return r.WindspeedBin }},
}

// Encoder は EnrichedRecord を数値の計画行列に変換する
// カテゴリの水準は学習データから決まり、未知の水準は全て0の行になる
type Encoder struct {
	FeatureSet FeatureSet
	// Levels はカテゴリ列名から学習時に観測した水準（昇順）への対応
	Levels map[string][]string
	// Columns は出力列の名前
	Columns []string
}

// NewEncoder は未学習のエンコーダを作成する
func NewEncoder(fs FeatureSet) *Encoder {
	return &Encoder{FeatureSet: fs}
}

func (e *Encoder) numeric() []numericColumn {
	if e.FeatureSet == FeatureSetEnriched {
		return append(append([]numericColumn{}, rawColumns...), enrichedNumericColumns...)
	}
	return rawColumns
}

func (e *Encoder) categorical() []categoricalColumn {
	if e.FeatureSet == FeatureSetEnriched {
		return enrichedCategoricalColumns
	}
	return nil
}

// Fit はカテゴリ列の水準を学習する
func (e *Encoder) Fit(records []preprocessing.EnrichedRecord) error {
	if len(records) == 0 {
		return errors.NewModelError("Encoder.Fit", "empty data", errors.ErrEmptyData)
	}

	e.Levels = make(map[string][]string)
	e.Columns = e.Columns[:0]
	for _, c := range e.numeric() {
		e.Columns = append(e.Columns, c.name)
	}
	for _, c := range e.categorical() {
		seen := make(map[string]struct{})
		for i := range records {
			seen[c.get(&records[i])] = struct{}{}
		}
		levels := make([]string, 0, len(seen))
		for l := range seen {
			levels = append(levels, l)
		}
		sort.Strings(levels)
		e.Levels[c.name] = levels
		for _, l := range levels {
			e.Columns = append(e.Columns, c.name+"="+l)
		}
	}
	return nil
}

// Transform はレコード列を行列に変換する
func (e *Encoder) Transform(records []preprocessing.EnrichedRecord) (*mat.Dense, error) {
	if e.Levels == nil {
		return nil, errors.NewNotFittedError("Encoder", "Transform")
	}
	if len(records) == 0 {
		return nil, errors.NewModelError("Encoder.Transform", "empty data", errors.ErrEmptyData)
	}

	numeric := e.numeric()
	categorical := e.categorical()
	offsets := make([]map[string]int, len(categorical))
	next := len(numeric)
	for k, c := range categorical {
		offsets[k] = make(map[string]int)
		for _, l := range e.Levels[c.name] {
			offsets[k][l] = next
			next++
		}
	}

	X := mat.NewDense(len(records), len(e.Columns), nil)
	for i := range records {
		r := &records[i]
		for j, c := range numeric {
			X.Set(i, j, c.get(r))
		}
		for k, c := range categorical {
			if j, ok := offsets[k][c.get(r)]; ok {
				X.Set(i, j, 1)
			}
		}
	}
	return X, nil
}

// LabelValues は目的変数の列を取り出す
func LabelValues(records []preprocessing.EnrichedRecord, label string) ([]float64, error) {
	if label != LabelCount && label != LabelCountLog {
		return nil, errors.NewValidationError("label", "must be count or count_log", label)
	}
	y := make([]float64, len(records))
	for i := range records {
		r := &records[i]
		if r.Target == nil {
			return nil, errors.NewSchemaError("Fit", i, label, "training record has no target")
		}
		if label == LabelCountLog {
			if r.CountLog == nil {
				return nil, errors.NewSchemaError("Fit", i, label, "count_log was not derived")
			}
			y[i] = *r.CountLog
			continue
		}
		y[i] = float64(r.Target.Count)
	}
	return y, nil
}
