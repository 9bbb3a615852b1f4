package preprocessing

import (
	"math"
	"strconv"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// Step は名前付きの特徴量生成ステップ
// Apply は値渡しのレコードを受け取り、新しいレコードを返す純粋関数
type Step struct {
	Name  string
	Apply func(rec EnrichedRecord) (EnrichedRecord, error)
}

// ステップ名
const (
	StepValidate      = "validate"
	StepDecomposeTime = "decompose_time"
	StepTimeOfDay     = "time_of_day"
	StepCalendarFlags = "calendar_flags"
	StepWeatherSeason = "weather_season"
	StepBins          = "bins"
	StepInteractions  = "interactions"
	StepCountLog      = "count_log"
)

// DefaultSteps は既定の順序付きステップ列を返す
// validate は必ず先頭に置く
func DefaultSteps() []Step {
	return []Step{
		{Name: StepValidate, Apply: validateRecord},
		{Name: StepDecomposeTime, Apply: decomposeTime},
		{Name: StepTimeOfDay, Apply: timeOfDay},
		{Name: StepCalendarFlags, Apply: calendarFlags},
		{Name: StepWeatherSeason, Apply: weatherSeason},
		{Name: StepBins, Apply: binWeather},
		{Name: StepInteractions, Apply: interactions},
		{Name: StepCountLog, Apply: countLog},
	}
}

const opEnrich = "Enrich"

// validateRecord は必須フィールドと定義域を検査する
// 行番号は呼び出し側（Pipeline）で付与する
func validateRecord(rec EnrichedRecord) (EnrichedRecord, error) {
	if rec.Timestamp.IsZero() {
		return rec, errors.NewSchemaError(opEnrich, -1, "timestamp", "missing value")
	}
	if rec.Season < MinSeason || rec.Season > MaxSeason {
		return rec, errors.NewRangeError(opEnrich, -1, "season", rec.Season, "{1,2,3,4}")
	}
	if rec.Weather < MinWeather || rec.Weather > MaxWeather {
		return rec, errors.NewRangeError(opEnrich, -1, "weather", rec.Weather, "{1,2,3,4}")
	}

	floats := []struct {
		name string
		v    float64
	}{
		{"temp", rec.Temp},
		{"feels_like_temp", rec.FeelsLikeTemp},
		{"humidity", rec.Humidity},
		{"windspeed", rec.Windspeed},
	}
	for _, f := range floats {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return rec, errors.NewSchemaError(opEnrich, -1, f.name, "not a finite number")
		}
	}
	if rec.Humidity < MinHumidity || rec.Humidity > MaxHumidity {
		return rec, errors.NewRangeError(opEnrich, -1, "humidity", rec.Humidity, "[0,100]")
	}
	if rec.Windspeed < 0 {
		return rec, errors.NewRangeError(opEnrich, -1, "windspeed", rec.Windspeed, "[0,+inf)")
	}

	if t := rec.Target; t != nil {
		for _, c := range []struct {
			name string
			v    int
		}{{"casual", t.Casual}, {"registered", t.Registered}, {"count", t.Count}} {
			if c.v < 0 {
				return rec, errors.NewRangeError(opEnrich, -1, c.name, c.v, "[0, +inf)")
			}
		}
		if t.Count != t.Casual+t.Registered {
			return rec, errors.NewSchemaError(opEnrich, -1, "count", "count must equal casual + registered")
		}
	}
	return rec, nil
}

// decomposeTime は timestamp を時・日・月・年・曜日に分解する
func decomposeTime(rec EnrichedRecord) (EnrichedRecord, error) {
	ts := rec.Timestamp
	rec.Hour = ts.Hour()
	rec.Day = ts.Day()
	rec.Month = int(ts.Month())
	rec.Year = ts.Year()
	// time.Weekday は Sunday=0 なので Monday=0 に揃える
	rec.DayOfWeek = (int(ts.Weekday()) + 6) % 7
	return rec, nil
}

func timeOfDay(rec EnrichedRecord) (EnrichedRecord, error) {
	rec.TimeOfDay = TimeOfDayFor(rec.Hour)
	return rec, nil
}

// TimeOfDayFor は時刻を時間帯ラベルに変換する
func TimeOfDayFor(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return TimeOfDayMorning
	case hour >= 12 && hour < 18:
		return TimeOfDayAfternoon
	case hour >= 18 && hour < 22:
		return TimeOfDayEvening
	default:
		return TimeOfDayNight
	}
}

func calendarFlags(rec EnrichedRecord) (EnrichedRecord, error) {
	rec.IsWeekend = IsWeekend(rec.DayOfWeek)
	rec.IsRushHour = IsRushHour(rec.Hour, rec.DayOfWeek)
	return rec, nil
}

// IsWeekend は土日（DayOfWeek 5, 6）かどうかを返す
func IsWeekend(dayOfWeek int) bool {
	return dayOfWeek >= 5
}

// IsRushHour は平日の 7〜9時 または 16〜19時（両端含む）かどうかを返す
func IsRushHour(hour, dayOfWeek int) bool {
	if dayOfWeek >= 5 {
		return false
	}
	return (hour >= 7 && hour <= 9) || (hour >= 16 && hour <= 19)
}

func weatherSeason(rec EnrichedRecord) (EnrichedRecord, error) {
	rec.WeatherSeason = strconv.Itoa(rec.Weather) + strconv.Itoa(rec.Season)
	return rec, nil
}

func binWeather(rec EnrichedRecord) (EnrichedRecord, error) {
	rec.TempBin = TempBins.Label(rec.Temp)
	rec.HumidityBin = HumidityBins.Label(rec.Humidity)
	rec.WindspeedBin = WindspeedBins.Label(rec.Windspeed)
	return rec, nil
}

func interactions(rec EnrichedRecord) (EnrichedRecord, error) {
	rec.TempHumidity = rec.Temp * rec.Humidity
	rec.TempWindspeed = rec.Temp * rec.Windspeed
	return rec, nil
}

func countLog(rec EnrichedRecord) (EnrichedRecord, error) {
	if rec.Target == nil {
		rec.CountLog = nil
		return rec, nil
	}
	v := math.Log1p(float64(rec.Target.Count))
	rec.CountLog = &v
	return rec, nil
}
