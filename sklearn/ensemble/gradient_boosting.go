// Package ensemble implements gradient boosted regression trees on top of the
// histogram trees in sklearn/tree.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bikedemand/core/model"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
	"github.com/YuminosukeSato/bikedemand/sklearn/tree"
)

// GradientBoostingRegressor fits an additive model of shallow trees to the
// squared-error gradient. Predictions are InitScore + LearningRate * Σ tree(x).
type GradientBoostingRegressor struct {
	model.BaseEstimator

	NEstimators  int
	LearningRate float64
	Subsample    float64 // row fraction sampled per stage, 1 disables sampling
	MaxBin       int
	TreeParams   tree.Params
	Seed         uint64

	// NIterNoChange > 0 holds out ValidationFraction of the rows and stops
	// once the holdout loss has not improved for that many stages.
	NIterNoChange      int
	ValidationFraction float64

	InitScore float64
	Trees     []*tree.Tree
	Binner    *tree.FeatureBinner
	NFeatures int
	// TrainLoss is the in-sample MSE after each stage.
	TrainLoss []float64
}

// Option configures a GradientBoostingRegressor.
type Option func(*GradientBoostingRegressor)

// WithNEstimators sets the number of boosting stages.
func WithNEstimators(n int) Option {
	return func(g *GradientBoostingRegressor) { g.NEstimators = n }
}

// WithLearningRate sets the shrinkage applied to each tree.
func WithLearningRate(lr float64) Option {
	return func(g *GradientBoostingRegressor) { g.LearningRate = lr }
}

// WithMaxDepth sets the depth of each tree.
func WithMaxDepth(depth int) Option {
	return func(g *GradientBoostingRegressor) { g.TreeParams.MaxDepth = depth }
}

// WithMinSamplesLeaf sets the minimum rows per leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(g *GradientBoostingRegressor) { g.TreeParams.MinSamplesLeaf = n }
}

// WithLambda sets L2 regularization on leaf values.
func WithLambda(lambda float64) Option {
	return func(g *GradientBoostingRegressor) { g.TreeParams.Lambda = lambda }
}

// WithSubsample sets the per-stage row sampling fraction.
func WithSubsample(frac float64) Option {
	return func(g *GradientBoostingRegressor) { g.Subsample = frac }
}

// WithMaxBin sets the histogram resolution.
func WithMaxBin(n int) Option {
	return func(g *GradientBoostingRegressor) { g.MaxBin = n }
}

// WithSeed seeds row subsampling and the early-stopping holdout.
func WithSeed(seed uint64) Option {
	return func(g *GradientBoostingRegressor) { g.Seed = seed }
}

// WithEarlyStopping enables holdout-based early stopping.
func WithEarlyStopping(nIterNoChange int, validationFraction float64) Option {
	return func(g *GradientBoostingRegressor) {
		g.NIterNoChange = nIterNoChange
		g.ValidationFraction = validationFraction
	}
}

// NewGradientBoostingRegressor creates an unfitted booster.
func NewGradientBoostingRegressor(opts ...Option) *GradientBoostingRegressor {
	g := &GradientBoostingRegressor{
		NEstimators:        100,
		LearningRate:       0.1,
		Subsample:          1.0,
		MaxBin:             tree.DefaultMaxBin,
		TreeParams:         tree.Params{MaxDepth: 6, MinSamplesLeaf: 10, Lambda: 1.0},
		ValidationFraction: 0.1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GradientBoostingRegressor) validate() error {
	switch {
	case g.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be at least 1", g.NEstimators)
	case g.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be positive", g.LearningRate)
	case g.Subsample <= 0 || g.Subsample > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", g.Subsample)
	case g.NIterNoChange > 0 && (g.ValidationFraction <= 0 || g.ValidationFraction >= 1):
		return errors.NewValidationError("validation_fraction", "must be in (0, 1)", g.ValidationFraction)
	}
	return nil
}

// Fit trains all stages.
func (g *GradientBoostingRegressor) Fit(X, y mat.Matrix) error {
	return g.FitContext(context.Background(), X, y)
}

// FitContext trains until NEstimators stages are built, early stopping
// triggers, or ctx is done. A cancelled context keeps the stages built so far
// as long as there is at least one.
func (g *GradientBoostingRegressor) FitContext(ctx context.Context, X, y mat.Matrix) error {
	if err := g.validate(); err != nil {
		return err
	}
	rows, cols := X.Dims()
	ry, cy := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("GradientBoostingRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != rows {
		return errors.NewDimensionError("GradientBoostingRegressor.Fit", rows, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("GradientBoostingRegressor.Fit", "y must be a column vector")
	}

	target := mat.Col(nil, 0, y)
	if err := errors.CheckNumericalStability("GradientBoostingRegressor.Fit", target); err != nil {
		return err
	}

	g.Binner = tree.NewFeatureBinner(g.MaxBin)
	if err := g.Binner.Fit(X); err != nil {
		return err
	}
	binned, err := g.Binner.Transform(X)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15))
	train, holdout := g.splitHoldout(rows, rng)

	var sum float64
	for _, i := range train {
		sum += target[i]
	}
	g.InitScore = sum / float64(len(train))
	g.Trees = g.Trees[:0]
	g.TrainLoss = g.TrainLoss[:0]
	g.NFeatures = cols

	pred := make([]float64, rows)
	for i := range pred {
		pred[i] = g.InitScore
	}
	grad := make([]float64, rows)
	hess := make([]float64, rows)
	for i := range hess {
		hess[i] = 1
	}

	logger := log.GetLogger().With(log.ModelNameKey, "GradientBoosting")
	bestLoss, bestIter := math.Inf(1), 0

	for stage := 0; stage < g.NEstimators; stage++ {
		if ctx.Err() != nil && len(g.Trees) > 0 {
			logger.Debug("boosting interrupted", "stage", stage, "reason", ctx.Err().Error())
			break
		}

		for _, i := range train {
			grad[i] = pred[i] - target[i]
		}
		sample := g.sampleRows(train, rng)
		t := tree.Grow(g.Binner, binned, grad, hess, sample, g.TreeParams)
		g.Trees = append(g.Trees, t)

		for i := 0; i < rows; i++ {
			pred[i] += g.LearningRate * t.PredictBinnedRow(binned, i)
		}

		loss := meanSquared(pred, target, train)
		if err := errors.CheckScalar("GradientBoostingRegressor.Fit", loss, stage); err != nil {
			return err
		}
		g.TrainLoss = append(g.TrainLoss, loss)

		if g.NIterNoChange > 0 {
			val := meanSquared(pred, target, holdout)
			if val < bestLoss {
				bestLoss, bestIter = val, stage
			} else if stage-bestIter >= g.NIterNoChange {
				logger.Debug("early stopping", "stage", stage, "best_stage", bestIter, "holdout_mse", bestLoss)
				g.Trees = g.Trees[:bestIter+1]
				g.TrainLoss = g.TrainLoss[:bestIter+1]
				break
			}
		}
	}

	g.SetFitted()
	return nil
}

// splitHoldout returns the boosting rows and, when early stopping is on, a
// disjoint holdout.
func (g *GradientBoostingRegressor) splitHoldout(rows int, rng *rand.Rand) (train, holdout []int) {
	perm := make([]int, rows)
	for i := range perm {
		perm[i] = i
	}
	if g.NIterNoChange <= 0 || rows < 10 {
		return perm, nil
	}
	rng.Shuffle(rows, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	nVal := int(math.Max(1, math.Round(g.ValidationFraction*float64(rows))))
	return perm[nVal:], perm[:nVal]
}

func (g *GradientBoostingRegressor) sampleRows(train []int, rng *rand.Rand) []int {
	if g.Subsample >= 1 {
		return train
	}
	out := make([]int, 0, int(float64(len(train))*g.Subsample)+1)
	for _, i := range train {
		if rng.Float64() < g.Subsample {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		out = append(out, train[rng.IntN(len(train))])
	}
	return out
}

func meanSquared(pred, target []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var s float64
	for _, i := range idx {
		d := pred[i] - target[i]
		s += d * d
	}
	return s / float64(len(idx))
}

// Predict returns an n×1 matrix of predictions.
func (g *GradientBoostingRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !g.IsFitted() {
		return nil, errors.NewNotFittedError("GradientBoostingRegressor", "Predict")
	}
	rows, cols := X.Dims()
	if cols != g.NFeatures {
		return nil, errors.NewDimensionError("GradientBoostingRegressor.Predict", g.NFeatures, cols, 1)
	}

	out := mat.NewDense(rows, 1, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		p := g.InitScore
		for _, t := range g.Trees {
			p += g.LearningRate * t.PredictRow(row)
		}
		out.Set(i, 0, p)
	}
	return out, nil
}

// GetParams returns the hyperparameters.
func (g *GradientBoostingRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     g.NEstimators,
		"learning_rate":    g.LearningRate,
		"max_depth":        g.TreeParams.MaxDepth,
		"min_samples_leaf": g.TreeParams.MinSamplesLeaf,
		"lambda":           g.TreeParams.Lambda,
		"subsample":        g.Subsample,
		"max_bin":          g.MaxBin,
		"n_iter_no_change": g.NIterNoChange,
	}
}

func (g *GradientBoostingRegressor) String() string {
	return fmt.Sprintf("GradientBoostingRegressor(n_estimators=%d, learning_rate=%g, max_depth=%d, trees=%d)",
		g.NEstimators, g.LearningRate, g.TreeParams.MaxDepth, len(g.Trees))
}
