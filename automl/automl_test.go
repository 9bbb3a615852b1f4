package automl

import (
	"bytes"
	"context"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

// syntheticRecords は時刻と気温から需要が決まる学習データを作る
func syntheticRecords(t *testing.T, n int) []preprocessing.EnrichedRecord {
	t.Helper()
	start := time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)
	raws := make([]preprocessing.RawRecord, n)
	for i := range raws {
		ts := start.Add(time.Duration(i) * time.Hour)
		temp := 5 + float64(i%30)
		rush := 0
		if h := ts.Hour(); h == 8 || h == 17 || h == 18 {
			rush = 150
		}
		registered := 20 + rush + int(3*temp)
		casual := int(temp) + i%5
		raws[i] = preprocessing.RawRecord{
			Timestamp:     ts,
			Season:        int(ts.Month()-1)/3 + 1,
			WorkingDay:    ts.Weekday() != time.Saturday && ts.Weekday() != time.Sunday,
			Weather:       i%3 + 1,
			Temp:          temp,
			FeelsLikeTemp: temp + 2,
			Humidity:      float64(30 + i%60),
			Windspeed:     float64(i % 25),
			Target:        &preprocessing.Target{Casual: casual, Registered: registered, Count: casual + registered},
		}
	}
	recs, err := preprocessing.Enrich(raws)
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	return recs
}

func fastConfig(preset Preset) Config {
	cfg := DefaultConfig(preset)
	cfg.TimeBudget = time.Minute
	cfg.Seed = 7
	cfg.Hyperparameters.GradientBoosting[0].NEstimators = 40
	return cfg
}

func silenceLogs(t *testing.T) {
	t.Helper()
	prev := log.GetLogger()
	tl, _ := log.NewTestLogger(log.LevelError)
	log.SetLogger(tl)
	t.Cleanup(func() { log.SetLogger(prev) })
}

func TestKFoldPartitions(t *testing.T) {
	n, k := 103, 5
	folds := KFold(n, k, 42)
	if len(folds) != k {
		t.Fatalf("folds = %d, want %d", len(folds), k)
	}

	seen := make([]int, n)
	for f, fold := range folds {
		if len(fold.Train)+len(fold.Valid) != n {
			t.Errorf("fold %d: train %d + valid %d != %d", f, len(fold.Train), len(fold.Valid), n)
		}
		if len(fold.Valid) < n/k || len(fold.Valid) > n/k+1 {
			t.Errorf("fold %d: unbalanced valid size %d", f, len(fold.Valid))
		}
		inValid := make(map[int]bool)
		for _, i := range fold.Valid {
			seen[i]++
			inValid[i] = true
		}
		for _, i := range fold.Train {
			if inValid[i] {
				t.Fatalf("fold %d: row %d in both train and valid", f, i)
			}
		}
	}
	for i, c := range seen {
		if c != 1 {
			t.Errorf("row %d validated %d times", i, c)
		}
	}

	again := KFold(n, k, 42)
	for f := range folds {
		for j := range folds[f].Valid {
			if folds[f].Valid[j] != again[f].Valid[j] {
				t.Fatal("KFold is not deterministic for a fixed seed")
			}
		}
	}
}

func TestHoldout(t *testing.T) {
	fold := Holdout(100, 0.2, 1)
	if len(fold.Valid) != 20 || len(fold.Train) != 80 {
		t.Errorf("holdout sizes = %d/%d, want 80/20", len(fold.Train), len(fold.Valid))
	}
	small := Holdout(2, 0.2, 1)
	if len(small.Valid) != 1 || len(small.Train) != 1 {
		t.Errorf("tiny holdout sizes = %d/%d", len(small.Train), len(small.Valid))
	}
}

func TestEncoder(t *testing.T) {
	recs := syntheticRecords(t, 48)

	raw := NewEncoder(FeatureSetRaw)
	if err := raw.Fit(recs); err != nil {
		t.Fatal(err)
	}
	if len(raw.Columns) != len(rawColumns) {
		t.Errorf("raw columns = %d, want %d", len(raw.Columns), len(rawColumns))
	}

	enc := NewEncoder(FeatureSetEnriched)
	if err := enc.Fit(recs); err != nil {
		t.Fatal(err)
	}
	for _, leak := range []string{"casual", "registered", "count", "count_log"} {
		for _, c := range enc.Columns {
			if c == leak {
				t.Errorf("target column %q leaked into features", leak)
			}
		}
	}
	X, err := enc.Transform(recs)
	if err != nil {
		t.Fatal(err)
	}
	rows, cols := X.Dims()
	if rows != 48 || cols != len(enc.Columns) {
		t.Fatalf("dims = %dx%d", rows, cols)
	}

	// 各カテゴリ列の one-hot はちょうど1つが1
	var todCols []int
	for j, c := range enc.Columns {
		if strings.HasPrefix(c, "time_of_day=") {
			todCols = append(todCols, j)
		}
	}
	if len(todCols) != 4 {
		t.Fatalf("time_of_day levels = %d, want 4", len(todCols))
	}
	for i := 0; i < rows; i++ {
		var s float64
		for _, j := range todCols {
			s += X.At(i, j)
		}
		if s != 1 {
			t.Errorf("row %d: time_of_day one-hot sums to %v", i, s)
		}
	}

	// 未知の水準は全て0
	unseen := recs[:1:1]
	unseen[0].TempBin = "unheard_of"
	Xu, err := enc.Transform(unseen)
	if err != nil {
		t.Fatal(err)
	}
	for j, c := range enc.Columns {
		if strings.HasPrefix(c, "temp_bin=") && Xu.At(0, j) != 0 {
			t.Errorf("unseen level set column %s", c)
		}
	}
}

func TestLabelValues(t *testing.T) {
	recs := syntheticRecords(t, 3)
	y, err := LabelValues(recs, LabelCountLog)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(y[0]-math.Log1p(float64(recs[0].Target.Count))) > 1e-12 {
		t.Errorf("count_log label = %v", y[0])
	}

	if _, err := LabelValues(recs, "casual"); err == nil {
		t.Error("expected error for unsupported label")
	}

	recs[1].Target = nil
	_, err = LabelValues(recs, LabelCount)
	var se *errors.SchemaError
	if !errors.As(err, &se) || se.Row != 1 {
		t.Errorf("expected SchemaError at row 1, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"unknown preset", func(c *Config) { c.Preset = "ultra" }, true},
		{"negative folds", func(c *Config) { c.FoldCount = -1 }, true},
		{"stacking without folds", func(c *Config) { c.FoldCount = 0; c.StackLevels = 1 }, true},
		{"unknown feature set", func(c *Config) { c.FeatureSet = "everything" }, true},
		{"no families", func(c *Config) { c.Hyperparameters = Hyperparameters{} }, true},
		{"negative budget", func(c *Config) { c.TimeBudget = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(PresetBest)
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if c := DefaultConfig(PresetMedium); c.FoldCount != 0 || c.StackLevels != 0 {
		t.Errorf("medium preset = %d folds, %d levels", c.FoldCount, c.StackLevels)
	}
	if c := DefaultConfig(PresetBest); c.FoldCount < 2 || c.StackLevels != 1 {
		t.Errorf("best preset = %d folds, %d levels", c.FoldCount, c.StackLevels)
	}
}

func TestDecodeHyperparameters(t *testing.T) {
	hp, err := DecodeHyperparameters(map[string]interface{}{
		"gradient_boosting": []interface{}{
			map[string]interface{}{"n_estimators": 50, "learning_rate": "0.05"},
			map[string]interface{}{"max_depth": 3},
		},
	})
	if err != nil {
		t.Fatalf("DecodeHyperparameters() error = %v", err)
	}
	if len(hp.GradientBoosting) != 2 {
		t.Fatalf("gradient_boosting configs = %d, want 2", len(hp.GradientBoosting))
	}
	if hp.GradientBoosting[0].NEstimators != 50 || hp.GradientBoosting[0].LearningRate != 0.05 {
		t.Errorf("first config = %+v", hp.GradientBoosting[0])
	}
	if hp.GradientBoosting[1].MaxDepth != 3 || hp.GradientBoosting[1].NEstimators != 300 {
		t.Errorf("second config = %+v", hp.GradientBoosting[1])
	}
	if len(hp.LinearRegression) != 1 {
		t.Error("unspecified families should keep their defaults")
	}

	if _, err := DecodeHyperparameters(map[string]interface{}{"neural_net": []interface{}{}}); err == nil {
		t.Error("expected error for unknown family")
	}

	tree, err := DecodeHyperparameters(map[string]interface{}{
		"decision_tree": []interface{}{map[string]interface{}{"min_samples_leaf": 3}},
	})
	if err != nil {
		t.Fatalf("DecodeHyperparameters(decision_tree) error = %v", err)
	}
	if got := tree.DecisionTree[0]; got != (TreeParams{MaxDepth: 12, MinSamplesLeaf: 3, MaxBin: 255}) {
		t.Errorf("decision_tree config = %+v, want max_depth 12 and max_bin 255 filled in", got)
	}

	names := make([]string, 0)
	for _, c := range Candidates(hp, 1) {
		names = append(names, c.Name)
	}
	want := []string{"LinearRegression", "DecisionTree", "GradientBoosting", "GradientBoosting_2"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("candidates = %v, want %v", names, want)
	}
}

func TestFitHoldout(t *testing.T) {
	silenceLogs(t)
	recs := syntheticRecords(t, 400)

	p, err := Fit(context.Background(), recs, LabelCount, fastConfig(PresetMedium))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	board := p.Leaderboard()
	names := make(map[string]bool)
	for _, e := range board {
		names[e.Model] = true
	}
	for _, want := range []string{"LinearRegression_L1", "DecisionTree_L1", "GradientBoosting_L1", "WeightedEnsemble_L2"} {
		if !names[want] {
			t.Errorf("leaderboard missing %s: %+v", want, board)
		}
	}
	if !sort.SliceIsSorted(board, func(i, j int) bool { return board[i].ScoreVal > board[j].ScoreVal }) {
		t.Error("leaderboard is not sorted best first")
	}
	if p.BestModel != board[0].Model {
		t.Errorf("BestModel = %s, want %s", p.BestModel, board[0].Model)
	}

	pred, err := p.Predict(recs)
	if err != nil {
		t.Fatal(err)
	}
	if len(pred) != len(recs) {
		t.Fatalf("predictions = %d, want %d", len(pred), len(recs))
	}

	// 平均値予測よりは良いこと
	var mean, sse, sst float64
	for _, r := range recs {
		mean += float64(r.Target.Count)
	}
	mean /= float64(len(recs))
	for i, r := range recs {
		d := pred[i] - float64(r.Target.Count)
		m := mean - float64(r.Target.Count)
		sse += d * d
		sst += m * m
	}
	if sse >= sst {
		t.Errorf("model is no better than the mean: sse=%v sst=%v", sse, sst)
	}
}

func TestFitBaggedWithStacking(t *testing.T) {
	silenceLogs(t)
	recs := syntheticRecords(t, 240)

	cfg := fastConfig(PresetBest)
	cfg.FoldCount = 3
	cfg.StackLevels = 1
	cfg.Hyperparameters.DecisionTree = nil

	p, err := Fit(context.Background(), recs, LabelCountLog, cfg)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if len(p.Layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(p.Layers))
	}
	for _, bm := range p.Layers[0] {
		if len(bm.Models) != 3 {
			t.Errorf("%s: fold models = %d, want 3", bm.Name, len(bm.Models))
		}
	}
	if p.Ensemble.Name != "WeightedEnsemble_L3" {
		t.Errorf("ensemble name = %s", p.Ensemble.Name)
	}
	var sum float64
	for _, w := range p.Ensemble.Weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("ensemble weights sum to %v", sum)
	}
	want := map[string]int{"LinearRegression_BAG_L1": 1, "GradientBoosting_BAG_L1": 1, "LinearRegression_BAG_L2": 2, "GradientBoosting_BAG_L2": 2}
	for _, e := range p.Leaderboard() {
		if lvl, ok := want[e.Model]; ok && e.StackLevel != lvl {
			t.Errorf("%s at level %d, want %d", e.Model, e.StackLevel, lvl)
		}
		delete(want, e.Model)
	}
	if len(want) != 0 {
		t.Errorf("missing models: %v", want)
	}

	for _, e := range p.Leaderboard() {
		pred, err := p.PredictWith(recs[:10], e.Model)
		if err != nil {
			t.Fatalf("PredictWith(%s) error = %v", e.Model, err)
		}
		if len(pred) != 10 {
			t.Errorf("PredictWith(%s) = %d rows", e.Model, len(pred))
		}
	}
}

func TestSaveLoad(t *testing.T) {
	silenceLogs(t)
	recs := syntheticRecords(t, 200)
	cfg := fastConfig(PresetHigh)
	cfg.FoldCount = 2

	p, err := Fit(context.Background(), recs, LabelCount, cfg)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := p.Save(&buf); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	a, err := p.Predict(recs)
	if err != nil {
		t.Fatal(err)
	}
	b, err := loaded.Predict(recs)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("row %d: %v != %v after reload", i, a[i], b[i])
		}
	}
	if loaded.ID != p.ID || loaded.BestModel != p.BestModel {
		t.Error("metadata lost in round trip")
	}
}

func TestFitLayerSkipsAfterDeadline(t *testing.T) {
	silenceLogs(t)
	recs := syntheticRecords(t, 50)
	enc := NewEncoder(FeatureSetRaw)
	if err := enc.Fit(recs); err != nil {
		t.Fatal(err)
	}
	X, _ := enc.Transform(recs)
	y, _ := LabelValues(recs, LabelCount)

	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	errors.SetZerologWarnFunc(nil)
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	p := &TabularPredictor{Config: fastConfig(PresetMedium)}
	layer, err := p.fitLayer(ctx, Candidates(DefaultHyperparameters(), 1), 1, X, y,
		[]Fold{Holdout(50, 0.2, 1)}, log.GetLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(layer) != 0 {
		t.Errorf("fitted %d models after the deadline", len(layer))
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warnings))
	}
	var tb *errors.TimeBudgetWarning
	if !errors.As(warnings[0], &tb) || tb.Skipped != 3 {
		t.Errorf("unexpected warning: %v", warnings[0])
	}
}

func TestPredictNotFitted(t *testing.T) {
	if _, err := (&TabularPredictor{}).Predict(nil); err == nil {
		t.Error("expected NotFittedError")
	}
}
