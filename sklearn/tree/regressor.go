package tree

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bikedemand/core/model"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// DecisionTreeRegressor is a single histogram CART tree with squared loss.
type DecisionTreeRegressor struct {
	model.BaseEstimator

	Params    Params
	MaxBin    int
	Binner    *FeatureBinner
	Tree      *Tree
	NFeatures int
}

// Option configures a DecisionTreeRegressor.
type Option func(*DecisionTreeRegressor)

// WithMaxDepth limits tree depth; 0 means unlimited.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.Params.MaxDepth = depth
	}
}

// WithMinSamplesLeaf sets the minimum number of rows per leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.Params.MinSamplesLeaf = n
	}
}

// WithMinGainToSplit sets the minimum gain required to split a node.
func WithMinGainToSplit(gain float64) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.Params.MinGainToSplit = gain
	}
}

// WithMaxBin sets the number of histogram bins per feature.
func WithMaxBin(n int) Option {
	return func(dt *DecisionTreeRegressor) {
		dt.MaxBin = n
	}
}

// NewDecisionTreeRegressor creates an unfitted tree regressor.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	dt := &DecisionTreeRegressor{
		Params: Params{MaxDepth: 12, MinSamplesLeaf: 5},
		MaxBin: DefaultMaxBin,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// Fit grows the tree on X and the n×1 target y.
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	rows, cols := X.Dims()
	ry, cy := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != rows {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", rows, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("DecisionTreeRegressor.Fit", "y must be a column vector")
	}

	dt.Binner = NewFeatureBinner(dt.MaxBin)
	if err := dt.Binner.Fit(X); err != nil {
		return err
	}
	binned, err := dt.Binner.Transform(X)
	if err != nil {
		return err
	}

	grad := make([]float64, rows)
	hess := make([]float64, rows)
	indices := make([]int, rows)
	for i := 0; i < rows; i++ {
		grad[i] = -y.At(i, 0)
		hess[i] = 1
		indices[i] = i
	}
	if err := errors.CheckNumericalStability("DecisionTreeRegressor.Fit", grad); err != nil {
		return err
	}

	dt.Tree = Grow(dt.Binner, binned, grad, hess, indices, dt.Params)
	dt.NFeatures = cols
	dt.SetFitted()
	return nil
}

// Predict returns an n×1 matrix of predictions.
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !dt.IsFitted() {
		return nil, errors.NewNotFittedError("DecisionTreeRegressor", "Predict")
	}
	rows, cols := X.Dims()
	if cols != dt.NFeatures {
		return nil, errors.NewDimensionError("DecisionTreeRegressor.Predict", dt.NFeatures, cols, 1)
	}

	out := mat.NewDense(rows, 1, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		out.Set(i, 0, dt.Tree.PredictRow(row))
	}
	return out, nil
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"max_depth":         dt.Params.MaxDepth,
		"min_samples_leaf":  dt.Params.MinSamplesLeaf,
		"min_gain_to_split": dt.Params.MinGainToSplit,
		"max_bin":           dt.MaxBin,
	}
}

func (dt *DecisionTreeRegressor) String() string {
	if !dt.IsFitted() {
		return fmt.Sprintf("DecisionTreeRegressor(max_depth=%d, min_samples_leaf=%d)", dt.Params.MaxDepth, dt.Params.MinSamplesLeaf)
	}
	return fmt.Sprintf("DecisionTreeRegressor(max_depth=%d, min_samples_leaf=%d, leaves=%d)",
		dt.Params.MaxDepth, dt.Params.MinSamplesLeaf, dt.Tree.NumLeaves())
}
