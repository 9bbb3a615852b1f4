// Package automl はBike Sharing Demand向けの表形式回帰エンジンを提供する
//
// 複数のモデルファミリーを K-fold バギングで学習し、任意の段数のスタッキングと
// 貪欲法による重み付きアンサンブルを経て、リーダーボードと予測器を返す。
// 学習は時間予算（context のデッドライン）の範囲内で行う。
package automl

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// Preset は品質プリセット
type Preset string

const (
	PresetMedium Preset = "medium_quality"
	PresetHigh   Preset = "high_quality"
	PresetBest   Preset = "best_quality"
)

// ラベル列
const (
	LabelCount    = "count"
	LabelCountLog = "count_log"
)

// Config は学習設定。設定ファイルの値をそのまま受け取る
type Config struct {
	// TimeBudget は学習全体の時間予算。0 は無制限
	TimeBudget time.Duration
	Preset     Preset
	// FoldCount が2未満の場合はホールドアウト検証になる
	FoldCount   int
	StackLevels int
	Seed        uint64
	FeatureSet  FeatureSet

	Hyperparameters Hyperparameters
}

// DefaultConfig はプリセットごとの既定値を返す
func DefaultConfig(preset Preset) Config {
	cfg := Config{
		TimeBudget:      10 * time.Minute,
		Preset:          preset,
		FeatureSet:      FeatureSetEnriched,
		Hyperparameters: DefaultHyperparameters(),
	}
	switch preset {
	case PresetHigh:
		cfg.FoldCount = 5
	case PresetBest:
		cfg.FoldCount = 8
		cfg.StackLevels = 1
	}
	return cfg
}

// Validate は設定の整合性を検査する
func (c Config) Validate() error {
	switch c.Preset {
	case PresetMedium, PresetHigh, PresetBest:
	default:
		return errors.NewValidationError("preset", "must be one of medium_quality, high_quality, best_quality", c.Preset)
	}
	if c.TimeBudget < 0 {
		return errors.NewValidationError("time_budget", "must be non-negative", c.TimeBudget)
	}
	if c.FoldCount < 0 {
		return errors.NewValidationError("fold_count", "must be non-negative", c.FoldCount)
	}
	if c.StackLevels < 0 {
		return errors.NewValidationError("stack_levels", "must be non-negative", c.StackLevels)
	}
	if c.StackLevels > 0 && c.FoldCount < 2 {
		return errors.NewValidationError("stack_levels", "stacking requires fold_count >= 2", c.StackLevels)
	}
	switch c.FeatureSet {
	case FeatureSetRaw, FeatureSetEnriched:
	default:
		return errors.NewValidationError("feature_set", "must be raw or enriched", c.FeatureSet)
	}
	return c.Hyperparameters.validate()
}

// LinearParams はリッジ回帰のハイパーパラメータ
type LinearParams struct {
	Alpha float64 `mapstructure:"alpha"`
}

// TreeParams は決定木のハイパーパラメータ
type TreeParams struct {
	MaxDepth       int `mapstructure:"max_depth"`
	MinSamplesLeaf int `mapstructure:"min_samples_leaf"`
	MaxBin         int `mapstructure:"max_bin"`
}

// GBMParams は勾配ブースティングのハイパーパラメータ
type GBMParams struct {
	NEstimators    int     `mapstructure:"n_estimators"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	MaxDepth       int     `mapstructure:"max_depth"`
	MinSamplesLeaf int     `mapstructure:"min_samples_leaf"`
	Lambda         float64 `mapstructure:"lambda"`
	Subsample      float64 `mapstructure:"subsample"`
	MaxBin         int     `mapstructure:"max_bin"`
	NIterNoChange  int     `mapstructure:"n_iter_no_change"`
}

// Hyperparameters はモデルファミリーごとの探索候補
// 空のファミリーは学習しない。GradientBoosting は複数の設定を並べられる
type Hyperparameters struct {
	LinearRegression []LinearParams `mapstructure:"linear_regression"`
	DecisionTree     []TreeParams   `mapstructure:"decision_tree"`
	GradientBoosting []GBMParams    `mapstructure:"gradient_boosting"`
}

// DefaultHyperparameters は各ファミリー1設定ずつの既定値
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LinearRegression: []LinearParams{{Alpha: 1.0}},
		DecisionTree:     []TreeParams{{MaxDepth: 12, MinSamplesLeaf: 5, MaxBin: 255}},
		GradientBoosting: []GBMParams{{
			NEstimators:    300,
			LearningRate:   0.1,
			MaxDepth:       6,
			MinSamplesLeaf: 10,
			Lambda:         1.0,
			Subsample:      1.0,
			MaxBin:         255,
		}},
	}
}

// DecodeHyperparameters は設定ファイル由来の map を Hyperparameters に変換する
// 未知のキーはエラーにする。指定のないファミリーは既定値のまま
func DecodeHyperparameters(raw map[string]interface{}) (Hyperparameters, error) {
	hp := DefaultHyperparameters()
	if len(raw) == 0 {
		return hp, nil
	}

	var decoded Hyperparameters
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &decoded,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return hp, errors.WithStack(err)
	}
	if err := dec.Decode(raw); err != nil {
		return hp, errors.Wrap(err, "decode hyperparameters")
	}

	if _, ok := raw["linear_regression"]; ok {
		hp.LinearRegression = decoded.LinearRegression
	}
	if _, ok := raw["decision_tree"]; ok {
		hp.DecisionTree = fillTreeDefaults(decoded.DecisionTree)
	}
	if _, ok := raw["gradient_boosting"]; ok {
		hp.GradientBoosting = fillGBMDefaults(decoded.GradientBoosting)
	}
	return hp, hp.validate()
}

func fillTreeDefaults(params []TreeParams) []TreeParams {
	def := DefaultHyperparameters().DecisionTree[0]
	out := make([]TreeParams, len(params))
	for i, p := range params {
		if p.MaxDepth == 0 {
			p.MaxDepth = def.MaxDepth
		}
		if p.MinSamplesLeaf == 0 {
			p.MinSamplesLeaf = def.MinSamplesLeaf
		}
		if p.MaxBin == 0 {
			p.MaxBin = def.MaxBin
		}
		out[i] = p
	}
	return out
}

func fillGBMDefaults(params []GBMParams) []GBMParams {
	def := DefaultHyperparameters().GradientBoosting[0]
	out := make([]GBMParams, len(params))
	for i, p := range params {
		if p.NEstimators == 0 {
			p.NEstimators = def.NEstimators
		}
		if p.LearningRate == 0 {
			p.LearningRate = def.LearningRate
		}
		if p.MaxDepth == 0 {
			p.MaxDepth = def.MaxDepth
		}
		if p.MinSamplesLeaf == 0 {
			p.MinSamplesLeaf = def.MinSamplesLeaf
		}
		if p.Subsample == 0 {
			p.Subsample = def.Subsample
		}
		if p.MaxBin == 0 {
			p.MaxBin = def.MaxBin
		}
		out[i] = p
	}
	return out
}

func (h Hyperparameters) validate() error {
	if len(h.LinearRegression)+len(h.DecisionTree)+len(h.GradientBoosting) == 0 {
		return errors.NewValidationError("hyperparameters", "at least one model family must be enabled", h)
	}
	for _, p := range h.LinearRegression {
		if p.Alpha < 0 {
			return errors.NewValidationError("linear_regression.alpha", "must be non-negative", p.Alpha)
		}
	}
	for _, p := range h.GradientBoosting {
		if p.LearningRate <= 0 {
			return errors.NewValidationError("gradient_boosting.learning_rate", "must be positive", p.LearningRate)
		}
		if p.Subsample <= 0 || p.Subsample > 1 {
			return errors.NewValidationError("gradient_boosting.subsample", "must be in (0, 1]", p.Subsample)
		}
	}
	return nil
}
