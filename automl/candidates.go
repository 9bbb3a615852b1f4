package automl

import (
	"context"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bikedemand/core/model"
	"github.com/YuminosukeSato/bikedemand/linear"
	"github.com/YuminosukeSato/bikedemand/sklearn/ensemble"
	"github.com/YuminosukeSato/bikedemand/sklearn/tree"
)

// モデルファミリー名
const (
	FamilyLinearRegression = "LinearRegression"
	FamilyDecisionTree     = "DecisionTree"
	FamilyGradientBoosting = "GradientBoosting"
	FamilyWeightedEnsemble = "WeightedEnsemble"
)

func init() {
	// BaggedModel.Models に格納される具象型
	model.Register(
		&linear.LinearRegression{},
		&tree.DecisionTreeRegressor{},
		&ensemble.GradientBoostingRegressor{},
	)
}

// ContextFitter は学習の途中でデッドラインを確認できるモデル
type ContextFitter interface {
	FitContext(ctx context.Context, X, y mat.Matrix) error
}

// Candidate は学習対象のモデル設定1つ
type Candidate struct {
	Name   string
	Family string
	New    model.Factory
}

func fitRegressor(ctx context.Context, r model.Regressor, X, y mat.Matrix) error {
	if cf, ok := r.(ContextFitter); ok {
		return cf.FitContext(ctx, X, y)
	}
	return r.Fit(X, y)
}

func suffixed(base string, i int) string {
	if i == 0 {
		return base
	}
	return base + "_" + strconv.Itoa(i+1)
}

// Candidates はハイパーパラメータから候補モデルを列挙する
// 順序は線形・決定木・勾配ブースティングで、時間予算が尽きた場合は後ろから省かれる
func Candidates(hp Hyperparameters, seed uint64) []Candidate {
	var out []Candidate
	for i, p := range hp.LinearRegression {
		p := p
		out = append(out, Candidate{
			Name:   suffixed(FamilyLinearRegression, i),
			Family: FamilyLinearRegression,
			New: func() model.Regressor {
				return linear.NewLinearRegression(linear.WithAlpha(p.Alpha))
			},
		})
	}
	for i, p := range hp.DecisionTree {
		p := p
		out = append(out, Candidate{
			Name:   suffixed(FamilyDecisionTree, i),
			Family: FamilyDecisionTree,
			New: func() model.Regressor {
				opts := []tree.Option{tree.WithMaxDepth(p.MaxDepth)}
				if p.MinSamplesLeaf > 0 {
					opts = append(opts, tree.WithMinSamplesLeaf(p.MinSamplesLeaf))
				}
				if p.MaxBin > 0 {
					opts = append(opts, tree.WithMaxBin(p.MaxBin))
				}
				return tree.NewDecisionTreeRegressor(opts...)
			},
		})
	}
	for i, p := range hp.GradientBoosting {
		p := p
		out = append(out, Candidate{
			Name:   suffixed(FamilyGradientBoosting, i),
			Family: FamilyGradientBoosting,
			New: func() model.Regressor {
				opts := []ensemble.Option{
					ensemble.WithNEstimators(p.NEstimators),
					ensemble.WithLearningRate(p.LearningRate),
					ensemble.WithMaxDepth(p.MaxDepth),
					ensemble.WithMinSamplesLeaf(p.MinSamplesLeaf),
					ensemble.WithLambda(p.Lambda),
					ensemble.WithSubsample(p.Subsample),
					ensemble.WithMaxBin(p.MaxBin),
					ensemble.WithSeed(seed),
				}
				if p.NIterNoChange > 0 {
					opts = append(opts, ensemble.WithEarlyStopping(p.NIterNoChange, 0.1))
				}
				return ensemble.NewGradientBoostingRegressor(opts...)
			},
		})
	}
	return out
}
