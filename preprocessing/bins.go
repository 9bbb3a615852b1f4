package preprocessing

import (
	"math"
	"sort"
)

// Binner は連続値を境界値でカテゴリに分割する
//
// 区間は右開き [lo, hi) で、最後の区間のみ閉区間 [lo, hi]。
// 内側の境界値ちょうどの値は上側の区間に入る（temp=10.0 は mild）。
// pandas の pd.cut の既定（右閉区間、temp=10.0 は cold）とは意図的に異なる。
// 外側の境界の外にある値と NaN は空ラベルになる。
type Binner struct {
	Edges  []float64
	Labels []string
}

// 既定の区間定義
var (
	TempBins = Binner{
		Edges:  []float64{-20, 0, 10, 20, 30, 50},
		Labels: []string{"very_cold", "cold", "mild", "warm", "hot"},
	}
	HumidityBins = Binner{
		Edges:  []float64{0, 25, 50, 75, 100},
		Labels: []string{"low", "medium", "high", "very_high"},
	}
	WindspeedBins = Binner{
		Edges:  []float64{0, 10, 20, 30, 100},
		Labels: []string{"low", "medium", "high", "very_high"},
	}
)

// Label は v が属する区間のラベルを返す
func (b Binner) Label(v float64) string {
	n := len(b.Edges)
	if n < 2 || math.IsNaN(v) || v < b.Edges[0] || v > b.Edges[n-1] {
		return ""
	}
	if v == b.Edges[n-1] {
		return b.Labels[n-2]
	}
	// i は Edges[i] >= v となる最小の添字
	i := sort.SearchFloat64s(b.Edges, v)
	if b.Edges[i] == v {
		return b.Labels[i]
	}
	return b.Labels[i-1]
}
