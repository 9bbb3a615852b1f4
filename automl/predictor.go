package automl

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bikedemand/core/model"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

// HoldoutFraction は FoldCount < 2 のときに検証に回す行の割合
const HoldoutFraction = 0.2

// LeaderboardEntry はリーダーボードの1行
// ScoreVal は検証 RMSE の符号反転で、大きいほど良い
type LeaderboardEntry struct {
	Model      string
	ScoreVal   float64
	FitTime    time.Duration
	StackLevel int
}

// TabularPredictor は学習済みの予測器
type TabularPredictor struct {
	ID        string
	Label     string
	Config    Config
	Encoder   *Encoder
	Layers    [][]*BaggedModel
	Ensemble  *WeightedEnsemble
	BestModel string
	Board     []LeaderboardEntry
}

// Fit は records の label 列を目的変数として候補モデルを学習する
func Fit(ctx context.Context, records []preprocessing.EnrichedRecord, label string, cfg Config) (*TabularPredictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := len(records)
	if n < 2 {
		return nil, errors.NewModelError("automl.Fit", "need at least two rows", errors.ErrEmptyData)
	}
	if cfg.FoldCount >= 2 && n < cfg.FoldCount {
		return nil, errors.NewValidationError("fold_count", fmt.Sprintf("exceeds the number of rows (%d)", n), cfg.FoldCount)
	}

	y, err := LabelValues(records, label)
	if err != nil {
		return nil, err
	}
	enc := NewEncoder(cfg.FeatureSet)
	if err := enc.Fit(records); err != nil {
		return nil, err
	}
	X, err := enc.Transform(records)
	if err != nil {
		return nil, err
	}

	p := &TabularPredictor{
		ID:      uuid.NewString(),
		Label:   label,
		Config:  cfg,
		Encoder: enc,
	}
	logger := log.GetLogger().With(
		log.ComponentKey, "automl",
		log.EstimatorIDKey, p.ID,
		log.LabelKey, label,
	)
	logger.Info("fitting predictor",
		log.OperationKey, log.OperationFit,
		log.PresetKey, string(cfg.Preset),
		log.SamplesKey, n,
		log.FeaturesKey, len(enc.Columns),
		log.FoldCountKey, cfg.FoldCount,
		log.StackLevelKey, cfg.StackLevels,
		log.TimeBudgetKey, cfg.TimeBudget.String(),
	)

	fitCtx := ctx
	if cfg.TimeBudget > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, cfg.TimeBudget)
		defer cancel()
	}

	var folds []Fold
	if cfg.FoldCount >= 2 {
		folds = KFold(n, cfg.FoldCount, cfg.Seed)
	} else {
		folds = []Fold{Holdout(n, HoldoutFraction, cfg.Seed)}
	}

	candidates := Candidates(cfg.Hyperparameters, cfg.Seed)
	input := X
	for level := 1; level <= cfg.StackLevels+1; level++ {
		layer, err := p.fitLayer(fitCtx, candidates, level, input, y, folds, logger)
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "automl.Fit")
		}
		if len(layer) == 0 {
			if level == 1 {
				if err == nil {
					err = errors.ErrTimeBudgetExhausted
				}
				return nil, errors.Wrap(err, "automl.Fit: no model finished")
			}
			logger.Warn("stack layer produced no models", log.StackLevelKey, level)
			break
		}
		p.Layers = append(p.Layers, layer)
		if level <= cfg.StackLevels {
			input = appendColumns(X, layerOOF(layer))
		}
	}

	if err := p.fitEnsemble(y); err != nil {
		return nil, err
	}
	p.buildLeaderboard()

	for _, layer := range p.Layers {
		for _, bm := range layer {
			bm.ValIdx, bm.ValPred = nil, nil
		}
	}

	for _, e := range p.Board {
		logger.Info("leaderboard",
			log.ModelNameKey, e.Model,
			log.ScoreValKey, e.ScoreVal,
			log.StackLevelKey, e.StackLevel,
			log.DurationSecondsKey, e.FitTime.Seconds(),
		)
	}
	return p, nil
}

func (p *TabularPredictor) fitLayer(ctx context.Context, candidates []Candidate, level int, X *mat.Dense, y []float64, folds []Fold, logger log.Logger) ([]*BaggedModel, error) {
	var (
		layer   []*BaggedModel
		result  *multierror.Error
		skipped []string
	)
	for _, c := range candidates {
		if ctx.Err() != nil {
			skipped = append(skipped, c.Name)
			continue
		}
		c.Name = levelName(c.Name, level, len(folds) > 1)
		bm, err := fitBagged(ctx, c, level, X, y, folds, logger)
		if err != nil {
			logger.Warn("candidate failed", err, log.ModelNameKey, c.Name, log.StackLevelKey, level)
			result = multierror.Append(result, err)
			continue
		}
		logger.Info("candidate fitted",
			log.ModelNameKey, bm.Name,
			log.ScoreValKey, bm.ScoreVal,
			log.StackLevelKey, level,
			log.DurationSecondsKey, bm.FitTime.Seconds(),
		)
		layer = append(layer, bm)
	}
	if len(skipped) > 0 {
		errors.Warn(errors.NewTimeBudgetWarning(skipped[0], p.Config.TimeBudget.String(), len(skipped)))
	}
	return layer, result.ErrorOrNil()
}

func (p *TabularPredictor) fitEnsemble(y []float64) error {
	last := p.Layers[len(p.Layers)-1]
	idx := last[0].ValIdx
	truth := make([]float64, len(idx))
	for k, i := range idx {
		truth[k] = y[i]
	}

	names := make([]string, len(last))
	preds := make([][]float64, len(last))
	for m, bm := range last {
		names[m] = bm.Name
		preds[m] = bm.ValPred
	}

	level := last[0].StackLevel + 1
	we, err := fitWeightedEnsemble(fmt.Sprintf("%s_L%d", FamilyWeightedEnsemble, level), level, names, preds, truth, DefaultEnsembleRounds)
	if err != nil {
		return err
	}
	p.Ensemble = we
	return nil
}

func (p *TabularPredictor) buildLeaderboard() {
	p.Board = p.Board[:0]
	for _, layer := range p.Layers {
		for _, bm := range layer {
			p.Board = append(p.Board, LeaderboardEntry{
				Model:      bm.Name,
				ScoreVal:   bm.ScoreVal,
				FitTime:    bm.FitTime,
				StackLevel: bm.StackLevel,
			})
		}
	}
	p.Board = append(p.Board, LeaderboardEntry{
		Model:      p.Ensemble.Name,
		ScoreVal:   p.Ensemble.ScoreVal,
		StackLevel: p.Ensemble.StackLevel,
	})
	sort.SliceStable(p.Board, func(i, j int) bool {
		if p.Board[i].ScoreVal != p.Board[j].ScoreVal {
			return p.Board[i].ScoreVal > p.Board[j].ScoreVal
		}
		return p.Board[i].Model < p.Board[j].Model
	})
	p.BestModel = p.Board[0].Model
}

// Leaderboard はスコアの良い順に並んだモデル一覧のコピーを返す
func (p *TabularPredictor) Leaderboard() []LeaderboardEntry {
	return append([]LeaderboardEntry(nil), p.Board...)
}

// Predict は最良モデルで予測する。値はラベルの空間（count_log なら対数空間）
func (p *TabularPredictor) Predict(records []preprocessing.EnrichedRecord) ([]float64, error) {
	return p.PredictWith(records, p.BestModel)
}

// PredictWith はリーダーボード上の指定モデルで予測する
func (p *TabularPredictor) PredictWith(records []preprocessing.EnrichedRecord, modelName string) ([]float64, error) {
	if p.Encoder == nil || len(p.Layers) == 0 {
		return nil, errors.NewNotFittedError("TabularPredictor", "Predict")
	}
	if len(records) == 0 {
		return []float64{}, nil
	}

	X, err := p.Encoder.Transform(records)
	if err != nil {
		return nil, err
	}

	preds := make(map[string][]float64)
	input := X
	for _, layer := range p.Layers {
		cols := make([][]float64, len(layer))
		for m, bm := range layer {
			out, err := bm.Predict(input)
			if err != nil {
				return nil, err
			}
			preds[bm.Name] = out
			cols[m] = out
		}
		input = appendColumns(X, cols)
	}

	var out []float64
	if p.Ensemble != nil && modelName == p.Ensemble.Name {
		out, err = p.Ensemble.combine(preds, len(records))
		if err != nil {
			return nil, err
		}
	} else {
		var ok bool
		if out, ok = preds[modelName]; !ok {
			return nil, errors.NewValueError("TabularPredictor.Predict", "unknown model "+modelName)
		}
	}
	if err := errors.CheckNumericalStability("TabularPredictor.Predict", out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save は予測器を gob 形式で書き出す
func (p *TabularPredictor) Save(w io.Writer) error {
	return errors.WithStack(model.SaveModelToWriter(p, w))
}

// Load は Save で書き出した予測器を読み込む
func Load(r io.Reader) (*TabularPredictor, error) {
	p := &TabularPredictor{}
	if err := model.LoadModelFromReader(p, r); err != nil {
		return nil, errors.WithStack(err)
	}
	return p, nil
}

func levelName(base string, level int, bagged bool) string {
	if bagged {
		return fmt.Sprintf("%s_BAG_L%d", base, level)
	}
	return fmt.Sprintf("%s_L%d", base, level)
}

func layerOOF(layer []*BaggedModel) [][]float64 {
	cols := make([][]float64, len(layer))
	for m, bm := range layer {
		cols[m] = bm.ValPred
	}
	return cols
}

// appendColumns は X の右に cols を列として連結した新しい行列を返す
func appendColumns(X *mat.Dense, cols [][]float64) *mat.Dense {
	rows, c := X.Dims()
	out := mat.NewDense(rows, c+len(cols), nil)
	out.Slice(0, rows, 0, c).(*mat.Dense).Copy(X)
	for k, col := range cols {
		out.SetCol(c+k, col)
	}
	return out
}
