package linear

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bikedemand/core/model"
	"github.com/YuminosukeSato/bikedemand/core/parallel"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

// 並列処理の閾値（この値以下の行数では逐次処理を使用）
const parallelThreshold = 1000

// LinearRegression はL2正則化付きの線形回帰モデル（リッジ回帰）
//
// Alpha=0 で通常の最小二乗法になる。one-hot 列のように共線性のある
// 特徴量を扱うため、既定では Alpha=1 で標準化した特徴量に対して解く。
type LinearRegression struct {
	model.BaseEstimator

	Weights   *mat.VecDense // 重み（係数）、元のスケール
	Intercept float64       // 切片
	NFeatures int           // 特徴量の数

	Alpha        float64
	FitIntercept bool
	Normalize    bool

	// Scaler は Normalize=true のときに学習した標準化パラメータ
	Scaler *preprocessing.StandardScaler
}

// NewLinearRegression は新しい線形回帰モデルを作成する
func NewLinearRegression(opts ...Option) *LinearRegression {
	lr := &LinearRegression{
		Alpha:        1.0,
		FitIntercept: true,
		Normalize:    true,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// Fit はモデルを訓練データで学習させる
// 正規方程式 (X^T X + αI) w = X^T y をコレスキー分解で解く
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	ry, cy := y.Dims()

	if r == 0 || c == 0 {
		return errors.NewModelError("LinearRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return errors.NewDimensionError("LinearRegression.Fit", r, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("LinearRegression.Fit", "y must be a column vector")
	}
	if lr.Alpha < 0 {
		return errors.NewValidationError("alpha", "must be non-negative", lr.Alpha)
	}

	lr.NFeatures = c

	Xw := X
	if lr.Normalize {
		lr.Scaler = preprocessing.NewStandardScaler(lr.FitIntercept, true)
		scaled, err := lr.Scaler.FitTransform(X)
		if err != nil {
			return errors.Wrap(err, "LinearRegression.Fit")
		}
		Xw = scaled
	}

	// 切片を推定する場合は X と y を中心化する
	xMean := make([]float64, c)
	yVals := mat.Col(nil, 0, y)
	var yMean float64
	if lr.FitIntercept {
		yMean = floats.Sum(yVals) / float64(r)
		col := make([]float64, r)
		for j := 0; j < c; j++ {
			mat.Col(col, j, Xw)
			xMean[j] = floats.Sum(col) / float64(r)
		}
	}

	Xc := mat.NewDense(r, c, nil)
	yc := mat.NewVecDense(r, nil)
	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < c; j++ {
				Xc.Set(i, j, Xw.At(i, j)-xMean[j])
			}
			yc.SetVec(i, yVals[i]-yMean)
		}
	})

	var gram mat.SymDense
	gram.SymOuterK(1, Xc.T())
	for j := 0; j < c; j++ {
		gram.SetSym(j, j, gram.At(j, j)+lr.Alpha)
	}

	var xty mat.VecDense
	xty.MulVec(Xc.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return errors.NewModelError("LinearRegression.Fit", "singular matrix", errors.ErrSingularMatrix)
	}
	w := mat.NewVecDense(c, nil)
	if err := chol.SolveVecTo(w, &xty); err != nil {
		return errors.NewModelError("LinearRegression.Fit", "solve failed", err)
	}
	if err := errors.CheckNumericalStability("LinearRegression.Fit", w.RawVector().Data); err != nil {
		return err
	}

	// 標準化空間の係数を元のスケールに戻す
	intercept := yMean
	for j := 0; j < c; j++ {
		wj := w.AtVec(j)
		intercept -= wj * xMean[j]
		if lr.Normalize {
			wj /= lr.Scaler.Scale[j]
			intercept -= wj * lr.Scaler.Mean[j]
		}
		w.SetVec(j, wj)
	}
	if !lr.FitIntercept {
		intercept = 0
	}

	lr.Weights = w
	lr.Intercept = intercept
	lr.SetFitted()
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("LinearRegression", "Predict")
	}

	r, c := X.Dims()
	if c != lr.NFeatures {
		return nil, errors.NewDimensionError("LinearRegression.Predict", lr.NFeatures, c, 1)
	}

	// 予測: y = X * weights + intercept
	var pred mat.VecDense
	pred.MulVec(X, lr.Weights)
	predictions := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		predictions.Set(i, 0, pred.AtVec(i)+lr.Intercept)
	}
	return predictions, nil
}

// GetWeights は学習された重み（係数）を返す
func (lr *LinearRegression) GetWeights() []float64 {
	if lr.Weights == nil {
		return nil
	}
	weights := make([]float64, lr.Weights.Len())
	copy(weights, lr.Weights.RawVector().Data)
	return weights
}

// GetIntercept は学習された切片を返す
func (lr *LinearRegression) GetIntercept() float64 {
	if !lr.IsFitted() {
		return 0
	}
	return lr.Intercept
}

// Score はモデルの決定係数（R²）を計算する
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	if !lr.IsFitted() {
		return 0, errors.NewNotFittedError("LinearRegression", "Score")
	}

	yPred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}

	r, _ := y.Dims()
	var yMean float64
	for i := 0; i < r; i++ {
		yMean += y.At(i, 0)
	}
	yMean /= float64(r)

	var tss, rss float64
	for i := 0; i < r; i++ {
		yTrue := y.At(i, 0)
		d := yTrue - yPred.At(i, 0)
		tss += (yTrue - yMean) * (yTrue - yMean)
		rss += d * d
	}

	// R² = 1 - RSS/TSS
	if tss == 0 {
		return 0, errors.Newf("total sum of squares is zero")
	}
	return 1 - rss/tss, nil
}

// GetParams はハイパーパラメータを返す
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"alpha":         lr.Alpha,
		"fit_intercept": lr.FitIntercept,
		"normalize":     lr.Normalize,
	}
}

func (lr *LinearRegression) String() string {
	return fmt.Sprintf("LinearRegression(alpha=%g, fit_intercept=%t, normalize=%t)",
		lr.Alpha, lr.FitIntercept, lr.Normalize)
}
