package linear

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// createTestData は y = 1 + Σ 0.5(j+1) x_j + noise のデータを生成する
func createTestData(rows, cols int, noise float64) (*mat.Dense, *mat.Dense) {
	// シードを固定して再現性を確保
	rng := rand.New(rand.NewPCG(42, 42))

	X := mat.NewDense(rows, cols, nil)
	y := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		sum := 1.0
		for j := 0; j < cols; j++ {
			v := rng.Float64()*2.0 - 1.0
			X.Set(i, j, v)
			sum += v * float64(j+1) * 0.5
		}
		sum += (rng.Float64() - 0.5) * noise
		y.Set(i, 0, sum)
	}
	return X, y
}

func TestLinearRegressionOLS(t *testing.T) {
	X, y := createTestData(200, 3, 0)

	lr := NewLinearRegression(WithAlpha(0))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	want := []float64{0.5, 1.0, 1.5}
	for j, w := range lr.GetWeights() {
		if math.Abs(w-want[j]) > 1e-8 {
			t.Errorf("weight[%d] = %v, want %v", j, w, want[j])
		}
	}
	if math.Abs(lr.GetIntercept()-1.0) > 1e-8 {
		t.Errorf("intercept = %v, want 1", lr.GetIntercept())
	}

	score, err := lr.Score(X, y)
	if err != nil {
		t.Fatal(err)
	}
	if score < 0.999999 {
		t.Errorf("R² = %v, want ~1", score)
	}
}

func TestLinearRegressionRidgeShrinks(t *testing.T) {
	X, y := createTestData(100, 4, 0.1)

	ols := NewLinearRegression(WithAlpha(0))
	ridge := NewLinearRegression(WithAlpha(500))
	if err := ols.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := ridge.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	norm := func(w []float64) float64 {
		var s float64
		for _, v := range w {
			s += v * v
		}
		return s
	}
	if norm(ridge.GetWeights()) >= norm(ols.GetWeights()) {
		t.Errorf("ridge weights not shrunk: %v vs %v", ridge.GetWeights(), ols.GetWeights())
	}
}

func TestLinearRegressionCollinearColumns(t *testing.T) {
	// one-hot の全カテゴリ列は切片と完全に共線
	X := mat.NewDense(6, 3, []float64{
		1, 0, 2,
		0, 1, 3,
		1, 0, 4,
		0, 1, 5,
		1, 0, 6,
		0, 1, 7,
	})
	y := mat.NewDense(6, 1, []float64{3, 5, 5, 7, 7, 9})

	if err := NewLinearRegression(WithAlpha(0), WithNormalize(false)).Fit(X, y); err == nil {
		t.Error("expected singular matrix error without regularization")
	} else if !errors.Is(err, errors.ErrSingularMatrix) {
		t.Errorf("unexpected error: %v", err)
	}

	lr := NewLinearRegression(WithAlpha(0.01))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Fit() with alpha error = %v", err)
	}
	pred, err := lr.Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		if math.Abs(pred.At(i, 0)-y.At(i, 0)) > 0.1 {
			t.Errorf("pred[%d] = %v, want ~%v", i, pred.At(i, 0), y.At(i, 0))
		}
	}
}

func TestLinearRegressionErrors(t *testing.T) {
	lr := NewLinearRegression()
	if _, err := lr.Predict(mat.NewDense(1, 2, nil)); err == nil {
		t.Error("expected NotFittedError")
	} else {
		var nf *errors.NotFittedError
		if !errors.As(err, &nf) {
			t.Errorf("got %v, want NotFittedError", err)
		}
	}

	X, y := createTestData(10, 2, 0)
	if err := lr.Fit(X, mat.NewDense(9, 1, nil)); err == nil {
		t.Error("expected dimension error")
	}
	if err := NewLinearRegression(WithAlpha(-1)).Fit(X, y); err == nil {
		t.Error("expected validation error for negative alpha")
	}
	if err := lr.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if _, err := lr.Predict(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("expected dimension error for wrong feature count")
	}
}

func BenchmarkLinearRegressionFit(b *testing.B) {
	sizes := []struct {
		name       string
		rows, cols int
	}{
		{"Small_500x10", 500, 10},
		{"Medium_2000x10", 2000, 10}, // 並列処理の閾値超え
		{"Large_10000x40", 10000, 40},
	}
	for _, size := range sizes {
		b.Run(size.name, func(b *testing.B) {
			X, y := createTestData(size.rows, size.cols, 0.1)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := NewLinearRegression().Fit(X, y); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
