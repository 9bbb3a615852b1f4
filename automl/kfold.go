package automl

import (
	"math"
	"math/rand/v2"
)

// Fold は1つの分割の学習行と検証行
type Fold struct {
	Train []int
	Valid []int
}

// KFold は行番号をシャッフルして K 個の検証集合に分ける
// 各行はちょうど1つの fold の検証集合に入る
func KFold(n, k int, seed uint64) []Fold {
	perm := shuffled(n, seed)
	foldOf := make([]int, n)
	size, rem := n/k, n%k

	folds := make([]Fold, k)
	pos := 0
	for f := 0; f < k; f++ {
		m := size
		if f < rem {
			m++
		}
		folds[f].Valid = append([]int(nil), perm[pos:pos+m]...)
		for _, i := range perm[pos : pos+m] {
			foldOf[i] = f
		}
		pos += m
	}
	for f := range folds {
		folds[f].Train = make([]int, 0, n-len(folds[f].Valid))
	}
	for i := 0; i < n; i++ {
		for f := range folds {
			if foldOf[i] != f {
				folds[f].Train = append(folds[f].Train, i)
			}
		}
	}
	return folds
}

// Holdout は fraction の割合の行を検証用に取り分ける
func Holdout(n int, fraction float64, seed uint64) Fold {
	perm := shuffled(n, seed)
	nVal := int(math.Round(fraction * float64(n)))
	if nVal < 1 {
		nVal = 1
	}
	if nVal >= n {
		nVal = n - 1
	}
	return Fold{Train: perm[nVal:], Valid: perm[:nVal]}
}

func shuffled(n int, seed uint64) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return perm
}
