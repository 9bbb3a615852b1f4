package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// PanicError は回復したpanicをエラーとして表す。
// 候補モデルの学習やParquetの書き出しなど、外部ライブラリや数値計算が
// panicしうる処理で使われる。
type PanicError struct {
	Operation  string      // panicを回復した処理名（例: "GradientBoosting_BAG_L1.Fit"）
	PanicValue interface{} // panic() に渡された値
	StackTrace string      // 回復時点のgoroutineスタック
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// String はスタックトレース付きの詳細を返す。
func (e *PanicError) String() string {
	return e.Error() + "\nStack trace:\n" + e.StackTrace
}

// MarshalZerologObject はzerologのイベントにpanic情報を追加します。
func (e *PanicError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("operation", e.Operation).
		Str("panic", fmt.Sprint(e.PanicValue))
}

// NewPanicError は現在のスタックを記録したPanicErrorを作成します。
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		Operation:  operation,
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
	}
}

// Recover はdeferで呼び出し、panicを*errに変換する。
// *errが既にエラーを持つ場合は、そのエラーをpanic情報でラップする。
//
//	func (t *DecisionTree) Fit(X, y mat.Matrix) (err error) {
//	    defer errors.Recover(&err, "DecisionTree.Fit")
//	    ...
//	}
func Recover(err *error, operation string) {
	r := recover()
	if r == nil {
		return
	}
	if *err != nil {
		*err = errors.Wrapf(*err, "panic in %s: %v", operation, r)
		return
	}
	*err = NewPanicError(operation, r)
}

// SafeExecute はfnを実行し、panicをPanicErrorとして返す。
// fnが返したエラーはそのまま返す。
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
