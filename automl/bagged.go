package automl

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bikedemand/core/model"
	"github.com/YuminosukeSato/bikedemand/core/parallel"
	"github.com/YuminosukeSato/bikedemand/metrics"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
)

// BaggedModel は1つの候補を fold ごとに学習したモデル群
// 予測は fold モデルの平均
type BaggedModel struct {
	Name       string
	Family     string
	StackLevel int
	Models     []model.Regressor

	// ValIdx と ValPred は検証行とその out-of-fold 予測。
	// K-fold では全行、ホールドアウトでは検証行のみ
	ValIdx  []int
	ValPred []float64

	ScoreVal float64
	FitTime  time.Duration
}

// Predict は fold モデルの平均予測を返す
func (b *BaggedModel) Predict(X mat.Matrix) ([]float64, error) {
	rows, _ := X.Dims()
	out := make([]float64, rows)
	for _, m := range b.Models {
		pred, err := m.Predict(X)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", b.Name)
		}
		for i := 0; i < rows; i++ {
			out[i] += pred.At(i, 0)
		}
	}
	scale := 1 / float64(len(b.Models))
	for i := range out {
		out[i] *= scale
	}
	return out, nil
}

func subset(X *mat.Dense, y []float64, idx []int) (*mat.Dense, *mat.Dense) {
	_, cols := X.Dims()
	Xs := mat.NewDense(len(idx), cols, nil)
	ys := mat.NewDense(len(idx), 1, nil)
	for k, i := range idx {
		Xs.SetRow(k, X.RawRowView(i))
		if y != nil {
			ys.Set(k, 0, y[i])
		}
	}
	return Xs, ys
}

// fitBagged は候補を folds に従って学習する
// folds が1つ（ホールドアウト）の場合は検証後に全行で再学習する
func fitBagged(ctx context.Context, c Candidate, level int, X *mat.Dense, y []float64, folds []Fold, logger log.Logger) (*BaggedModel, error) {
	start := time.Now()
	bm := &BaggedModel{Name: c.Name, Family: c.Family, StackLevel: level}
	if len(folds) == 1 {
		return fitHoldout(ctx, bm, c, X, y, folds[0], start)
	}

	rows, _ := X.Dims()
	bm.Models = make([]model.Regressor, len(folds))
	oof := make([]float64, rows)
	errs := make([]error, len(folds))

	parallel.Parallelize(len(folds), func(lo, hi int) {
		for f := lo; f < hi; f++ {
			errs[f] = errors.SafeExecute(c.Name+".Fit", func() error {
				Xtr, ytr := subset(X, y, folds[f].Train)
				m := c.New()
				if err := fitRegressor(ctx, m, Xtr, ytr); err != nil {
					return err
				}
				Xva, _ := subset(X, nil, folds[f].Valid)
				pred, err := m.Predict(Xva)
				if err != nil {
					return err
				}
				for k, i := range folds[f].Valid {
					oof[i] = pred.At(k, 0)
				}
				bm.Models[f] = m
				return nil
			})
			if errs[f] == nil {
				logger.Debug("fold fitted", log.ModelNameKey, c.Name, log.FoldKey, f, log.StackLevelKey, level)
			}
		}
	})
	for f, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "%s fold %d", c.Name, f)
		}
	}

	bm.ValIdx = make([]int, rows)
	for i := range bm.ValIdx {
		bm.ValIdx[i] = i
	}
	bm.ValPred = oof
	if err := bm.score(y); err != nil {
		return nil, err
	}
	bm.FitTime = time.Since(start)
	return bm, nil
}

func fitHoldout(ctx context.Context, bm *BaggedModel, c Candidate, X *mat.Dense, y []float64, fold Fold, start time.Time) (*BaggedModel, error) {
	err := errors.SafeExecute(c.Name+".Fit", func() error {
		Xtr, ytr := subset(X, y, fold.Train)
		m := c.New()
		if err := fitRegressor(ctx, m, Xtr, ytr); err != nil {
			return err
		}
		Xva, _ := subset(X, nil, fold.Valid)
		pred, err := m.Predict(Xva)
		if err != nil {
			return err
		}
		bm.ValIdx = fold.Valid
		bm.ValPred = mat.Col(nil, 0, pred)

		rows, _ := X.Dims()
		full := c.New()
		if err := fitRegressor(ctx, full, X, mat.NewDense(rows, 1, y)); err != nil {
			return err
		}
		bm.Models = []model.Regressor{full}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s", c.Name)
	}
	if err := bm.score(y); err != nil {
		return nil, err
	}
	bm.FitTime = time.Since(start)
	return bm, nil
}

// score は検証予測の RMSE を符号反転して ScoreVal に設定する
func (b *BaggedModel) score(y []float64) error {
	truth := make([]float64, len(b.ValIdx))
	for k, i := range b.ValIdx {
		truth[k] = y[i]
	}
	if err := errors.CheckNumericalStability(b.Name, b.ValPred); err != nil {
		return err
	}
	rmse, err := metrics.RMSEFloats(truth, b.ValPred)
	if err != nil {
		return err
	}
	b.ScoreVal = -rmse
	return nil
}
