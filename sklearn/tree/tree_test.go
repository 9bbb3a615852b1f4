package tree

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// TestDecisionTreeRegressor_StepFunction checks that a step target is fit exactly
func TestDecisionTreeRegressor_StepFunction(t *testing.T) {
	X := mat.NewDense(8, 2, []float64{
		0, 5,
		1, 5,
		2, 5,
		3, 5,
		10, 5,
		11, 5,
		12, 5,
		13, 5,
	})
	y := mat.NewDense(8, 1, []float64{1, 1, 1, 1, 9, 9, 9, 9})

	dt := NewDecisionTreeRegressor(WithMinSamplesLeaf(1))
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	pred, err := dt.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}
	for i := 0; i < 8; i++ {
		if math.Abs(pred.At(i, 0)-y.At(i, 0)) > 1e-12 {
			t.Errorf("Sample %d: expected %v, got %v", i, y.At(i, 0), pred.At(i, 0))
		}
	}

	root := dt.Tree.Nodes[0]
	if root.Leaf || root.Feature != 0 {
		t.Fatalf("root should split on feature 0, got %+v", root)
	}
	if root.Threshold <= 3 || root.Threshold >= 10 {
		t.Errorf("root threshold = %v, want in (3, 10)", root.Threshold)
	}

	test := mat.NewDense(2, 2, []float64{-100, 0, 100, 0})
	tp, _ := dt.Predict(test)
	if tp.At(0, 0) != 1 || tp.At(1, 0) != 9 {
		t.Errorf("extrapolation = %v, %v; want 1, 9", tp.At(0, 0), tp.At(1, 0))
	}
}

// TestDecisionTreeRegressor_MaxDepth tests depth limiting
func TestDecisionTreeRegressor_MaxDepth(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	n := 300
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			X.Set(i, j, rng.Float64())
		}
		y.Set(i, 0, math.Sin(6*X.At(i, 0))+X.At(i, 1))
	}

	for _, depth := range []int{1, 3, 5} {
		dt := NewDecisionTreeRegressor(WithMaxDepth(depth), WithMinSamplesLeaf(1))
		if err := dt.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		if got := dt.Tree.Depth(); got > depth {
			t.Errorf("depth = %d, want <= %d", got, depth)
		}
		if got := dt.Tree.NumLeaves(); got > 1<<depth {
			t.Errorf("leaves = %d, want <= %d", got, 1<<depth)
		}
	}
}

// TestDecisionTreeRegressor_MinSamplesLeaf tests leaf size constraint
func TestDecisionTreeRegressor_MinSamplesLeaf(t *testing.T) {
	n := 100
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, float64(i*i))
	}

	dt := NewDecisionTreeRegressor(WithMinSamplesLeaf(20), WithMaxDepth(0))
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	for _, node := range dt.Tree.Nodes {
		if node.Leaf && node.Count < 20 {
			t.Errorf("leaf with %d samples", node.Count)
		}
	}
}

func TestPredictBinnedRowMatchesRaw(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	n := 500
	X := mat.NewDense(n, 4, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 4; j++ {
			X.Set(i, j, rng.NormFloat64())
		}
		y.Set(i, 0, X.At(i, 0)*X.At(i, 1)+X.At(i, 2))
	}

	dt := NewDecisionTreeRegressor(WithMaxBin(32))
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	binned, err := dt.Binner.Transform(X)
	if err != nil {
		t.Fatal(err)
	}
	row := make([]float64, 4)
	for i := 0; i < n; i++ {
		mat.Row(row, i, X)
		if a, b := dt.Tree.PredictRow(row), dt.Tree.PredictBinnedRow(binned, i); a != b {
			t.Fatalf("row %d: raw %v != binned %v", i, a, b)
		}
	}
}

func TestFeatureBinner(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{
		1, 0,
		2, 0,
		2, 0,
		3, 0,
		4, 0,
		5, 0,
	})
	fb := NewFeatureBinner(3)
	if err := fb.Fit(X); err != nil {
		t.Fatal(err)
	}
	if got := fb.NumBins(1); got != 1 {
		t.Errorf("constant feature bins = %d, want 1", got)
	}
	if got := fb.NumBins(0); got > 3 {
		t.Errorf("bins = %d, want <= 3", got)
	}
	// bins must be monotone in the value
	prev := -1
	for _, v := range []float64{0, 1, 2, 3, 4, 5, 6} {
		b := fb.Bin(0, v)
		if b < prev {
			t.Errorf("Bin(%v) = %d < %d", v, b, prev)
		}
		prev = b
	}
	if fb.Bin(0, math.NaN()) != fb.NumBins(0)-1 {
		t.Error("NaN should land in the last bin")
	}
}

func TestDecisionTreeRegressorErrors(t *testing.T) {
	dt := NewDecisionTreeRegressor()
	if _, err := dt.Predict(mat.NewDense(1, 1, nil)); err == nil {
		t.Error("expected NotFittedError")
	}
	if err := dt.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(2, 1, nil)); err == nil {
		t.Error("expected dimension error")
	}
	if err := dt.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(3, 1, []float64{1, math.NaN(), 3})); err == nil {
		t.Error("expected numerical instability error")
	}
}
