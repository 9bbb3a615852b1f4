package automl

import (
	"math"

	"github.com/YuminosukeSato/bikedemand/metrics"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// DefaultEnsembleRounds は貪欲選択の反復回数
const DefaultEnsembleRounds = 25

// WeightedEnsemble は最終層のモデルの重み付き平均
// 重みは検証予測に対する貪欲な前進選択（重複選択あり）で決める
type WeightedEnsemble struct {
	Name       string
	StackLevel int
	Members    []string
	Weights    []float64
	ScoreVal   float64
}

// fitWeightedEnsemble は各モデルの検証予測 preds（同じ行順）と正解 truth から
// 重みを求める。重みの和は1
func fitWeightedEnsemble(name string, level int, members []string, preds [][]float64, truth []float64, rounds int) (*WeightedEnsemble, error) {
	if len(members) == 0 {
		return nil, errors.NewValueError("WeightedEnsemble", "no members")
	}
	if rounds < 1 {
		rounds = DefaultEnsembleRounds
	}

	n := len(truth)
	counts := make([]int, len(members))
	current := make([]float64, n)
	trial := make([]float64, n)

	for round := 1; round <= rounds; round++ {
		best, bestScore := -1, math.Inf(1)
		for m := range members {
			for i := 0; i < n; i++ {
				trial[i] = (current[i]*float64(round-1) + preds[m][i]) / float64(round)
			}
			s, err := metrics.RMSEFloats(truth, trial)
			if err != nil {
				return nil, err
			}
			// 同点の場合は先に並んでいるモデルを選ぶ
			if s < bestScore {
				best, bestScore = m, s
			}
		}
		counts[best]++
		for i := 0; i < n; i++ {
			current[i] = (current[i]*float64(round-1) + preds[best][i]) / float64(round)
		}
	}

	we := &WeightedEnsemble{Name: name, StackLevel: level}
	for m, c := range counts {
		if c == 0 {
			continue
		}
		we.Members = append(we.Members, members[m])
		we.Weights = append(we.Weights, float64(c)/float64(rounds))
	}
	rmse, err := metrics.RMSEFloats(truth, current)
	if err != nil {
		return nil, err
	}
	we.ScoreVal = -rmse
	return we, nil
}

// combine はメンバーの予測を重み付きで合成する
func (w *WeightedEnsemble) combine(preds map[string][]float64, rows int) ([]float64, error) {
	out := make([]float64, rows)
	for k, name := range w.Members {
		p, ok := preds[name]
		if !ok {
			return nil, errors.Newf("ensemble member %s has no predictions", name)
		}
		for i := range out {
			out[i] += w.Weights[k] * p[i]
		}
	}
	return out, nil
}
