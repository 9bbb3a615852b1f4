package preprocessing

import (
	"math"
	"time"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// SubmissionRecord は提出ファイルの1行
type SubmissionRecord struct {
	Datetime string
	Count    float64
}

// FormatSubmission は予測値をタイムスタンプと対にして提出用レコードを作る
//
// 負の予測値は0に切り上げる。順序は入力のまま。
// 長さが異なる場合は LengthMismatchError、NaN や Inf を含む場合は
// NumericalInstabilityError を返す。
func FormatSubmission(timestamps []time.Time, predictions []float64) ([]SubmissionRecord, error) {
	if len(timestamps) != len(predictions) {
		return nil, errors.NewLengthMismatchError("FormatSubmission", len(timestamps), len(predictions))
	}
	if err := errors.CheckNumericalStability("FormatSubmission", predictions); err != nil {
		return nil, err
	}

	out := make([]SubmissionRecord, len(predictions))
	for i, p := range predictions {
		out[i] = SubmissionRecord{
			Datetime: timestamps[i].Format(TimestampLayout),
			Count:    math.Max(0, p),
		}
	}
	return out, nil
}

// Log1pTarget は目的変数 count を log1p 空間に変換する
func Log1pTarget(counts []float64) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = math.Log1p(c)
	}
	return out
}

// Expm1Predictions は log1p 空間の予測値を count 空間に戻す
func Expm1Predictions(preds []float64) []float64 {
	out := make([]float64, len(preds))
	for i, p := range preds {
		out[i] = math.Expm1(p)
	}
	return out
}
