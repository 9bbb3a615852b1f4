// Package preprocessing はBike Sharing Demandデータの特徴量パイプラインを提供する
//
// 生レコード（RawRecord）から派生列を持つ EnrichedRecord への変換は
// 行ごとに独立した純粋関数で、行間の状態を持たない。
// 予測値は FormatSubmission で提出用レコードに整形する。
package preprocessing

import (
	"time"
)

// TimestampLayout はKaggleのCSVと提出ファイルで使われる日時の書式
const TimestampLayout = "2006-01-02 15:04:05"

// 季節・天候・湿度の定義域
const (
	MinSeason   = 1
	MaxSeason   = 4
	MinWeather  = 1
	MaxWeather  = 4
	MinHumidity = 0.0
	MaxHumidity = 100.0
)

// 時間帯ラベル
const (
	TimeOfDayMorning   = "morning"
	TimeOfDayAfternoon = "afternoon"
	TimeOfDayEvening   = "evening"
	TimeOfDayNight     = "night"
)

// Target は学習データにのみ存在する目的変数群
// 不変条件: Count == Casual + Registered
type Target struct {
	Casual     int
	Registered int
	Count      int
}

// RawRecord は入力CSVの1行
type RawRecord struct {
	Timestamp     time.Time
	Season        int // 1:spring 2:summer 3:fall 4:winter
	Holiday       bool
	WorkingDay    bool
	Weather       int // 1（晴れ）〜4（荒天）の順序尺度
	Temp          float64
	FeelsLikeTemp float64
	Humidity      float64
	Windspeed     float64

	// Target はスコアリング用データではnil
	Target *Target
}

// HasTarget は目的変数を持つ（学習データの）レコードかどうかを返す
func (r RawRecord) HasTarget() bool {
	return r.Target != nil
}

// EnrichedRecord は RawRecord に派生列を加えたもの
// 派生列は全て timestamp と気象列の純粋関数
type EnrichedRecord struct {
	RawRecord

	Hour      int
	Day       int
	Month     int
	Year      int
	DayOfWeek int // 0=Monday ... 6=Sunday

	TimeOfDay  string
	IsRushHour bool
	IsWeekend  bool

	WeatherSeason string

	TempBin      string
	HumidityBin  string
	WindspeedBin string

	TempHumidity  float64
	TempWindspeed float64

	// CountLog は log1p(count)。目的変数がない場合はnil
	CountLog *float64
}

// Raw は派生列を除いた生レコードを返す
// 目的変数はコピーされるため、呼び出し側が変更しても元のレコードには影響しない
func (e EnrichedRecord) Raw() RawRecord {
	raw := e.RawRecord
	if raw.Target != nil {
		t := *raw.Target
		raw.Target = &t
	}
	return raw
}

// RawRecords は EnrichedRecord 列から生レコード列を取り出す
func RawRecords(records []EnrichedRecord) []RawRecord {
	out := make([]RawRecord, len(records))
	for i := range records {
		out[i] = records[i].Raw()
	}
	return out
}

// Timestamps はレコード列のタイムスタンプを入力順に返す
func Timestamps(records []EnrichedRecord) []time.Time {
	out := make([]time.Time, len(records))
	for i := range records {
		out[i] = records[i].Timestamp
	}
	return out
}
