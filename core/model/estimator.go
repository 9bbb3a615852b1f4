package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	// y は n×1 の列ベクトル
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行い、n×1 の行列を返す
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Regressor は回帰モデルのインターフェース
// AutoMLエンジンの候補モデルは全てこれを実装する
type Regressor interface {
	Fitter
	Predictor
	IsFitted() bool
}

// Factory は未学習の Regressor を生成する関数
// バギングでは fold ごとに新しいインスタンスが必要になる
type Factory func() Regressor

