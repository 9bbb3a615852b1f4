package tree

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/bikedemand/core/parallel"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// DefaultMaxBin is the default number of histogram bins per feature.
const DefaultMaxBin = 255

// FeatureBinner maps continuous features to histogram bins.
//
// UpperBounds[j][k] is the inclusive upper edge of bin k for feature j; the
// last edge of every feature is +Inf. A value v falls in the first bin whose
// upper edge is >= v, so the edge doubles as the split threshold.
type FeatureBinner struct {
	MaxBin      int
	UpperBounds [][]float64
}

// NewFeatureBinner creates a binner with at most maxBin bins per feature.
func NewFeatureBinner(maxBin int) *FeatureBinner {
	if maxBin < 2 || maxBin > 256 {
		maxBin = DefaultMaxBin
	}
	return &FeatureBinner{MaxBin: maxBin}
}

// Fit computes equal-frequency bin edges for every column of X.
func (fb *FeatureBinner) Fit(X mat.Matrix) error {
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("FeatureBinner.Fit", "empty data", errors.ErrEmptyData)
	}

	fb.UpperBounds = make([][]float64, cols)
	parallel.ParallelizeWithThreshold(cols, 4, func(start, end int) {
		col := make([]float64, rows)
		for j := start; j < end; j++ {
			mat.Col(col, j, X)
			fb.UpperBounds[j] = fb.featureBounds(col)
		}
	})
	return nil
}

func (fb *FeatureBinner) featureBounds(values []float64) []float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return []float64{math.Inf(1)}
	}

	unique := sorted[:1:1]
	for _, v := range sorted[1:] {
		if v != unique[len(unique)-1] {
			unique = append(unique, v)
		}
	}

	var bounds []float64
	if len(unique) <= fb.MaxBin {
		// One bin per distinct value; edges sit halfway between neighbours.
		bounds = make([]float64, 0, len(unique))
		for i := 0; i+1 < len(unique); i++ {
			bounds = append(bounds, (unique[i]+unique[i+1])/2)
		}
	} else {
		for k := 1; k < fb.MaxBin; k++ {
			q := stat.Quantile(float64(k)/float64(fb.MaxBin), stat.Empirical, sorted, nil)
			if q >= sorted[len(sorted)-1] {
				break
			}
			if len(bounds) == 0 || q > bounds[len(bounds)-1] {
				bounds = append(bounds, q)
			}
		}
	}
	return append(bounds, math.Inf(1))
}

// Bin returns the bin index of v for feature j. NaN lands in the last bin.
func (fb *FeatureBinner) Bin(j int, v float64) int {
	b := fb.UpperBounds[j]
	if math.IsNaN(v) {
		return len(b) - 1
	}
	return sort.SearchFloat64s(b, v)
}

// NumBins returns the number of bins for feature j.
func (fb *FeatureBinner) NumBins(j int) int {
	return len(fb.UpperBounds[j])
}

// Threshold returns the split threshold that sends bins <= bin to the left.
func (fb *FeatureBinner) Threshold(j, bin int) float64 {
	return fb.UpperBounds[j][bin]
}

// Transform bins X with the fitted edges.
func (fb *FeatureBinner) Transform(X mat.Matrix) (*BinnedMatrix, error) {
	if fb.UpperBounds == nil {
		return nil, errors.NewNotFittedError("FeatureBinner", "Transform")
	}
	rows, cols := X.Dims()
	if cols != len(fb.UpperBounds) {
		return nil, errors.NewDimensionError("FeatureBinner.Transform", len(fb.UpperBounds), cols, 1)
	}

	bm := &BinnedMatrix{Rows: rows, Cols: cols, Bins: make([]uint8, rows*cols)}
	parallel.ParallelizeWithThreshold(rows, 1000, func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < cols; j++ {
				bm.Bins[i*cols+j] = uint8(fb.Bin(j, X.At(i, j)))
			}
		}
	})
	return bm, nil
}

// BinnedMatrix is a row-major matrix of bin indices.
type BinnedMatrix struct {
	Rows, Cols int
	Bins       []uint8
}

// At returns the bin of row i, feature j.
func (b *BinnedMatrix) At(i, j int) int {
	return int(b.Bins[i*b.Cols+j])
}
