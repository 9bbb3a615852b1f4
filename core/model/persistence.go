package model

import (
	"encoding/gob"
	"io"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// Register はRegressorインターフェースの背後に保存される具象型をgobに登録する。
// 学習済みの予測器を読み込む前に、全てのモデル型が登録されている必要がある。
func Register(values ...interface{}) {
	for _, v := range values {
		gob.Register(v)
	}
}

// SaveModelToWriter は推定器をgobでエンコードしてwに書き込む
func SaveModelToWriter(estimator interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(estimator); err != nil {
		return errors.Wrap(err, "encode model")
	}
	return nil
}

// LoadModelFromReader はrからgobをデコードしてestimator（ポインタ）に格納する
func LoadModelFromReader(estimator interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(estimator); err != nil {
		return errors.Wrap(err, "decode model")
	}
	return nil
}
