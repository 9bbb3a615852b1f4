package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/bikedemand/automl"
)

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDataDir, EnvOutputDir, EnvLogLevel, EnvLogFormat, EnvTimeBudget} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Iterations, 3)

	names := []string{cfg.Iterations[0].Name, cfg.Iterations[1].Name, cfg.Iterations[2].Name}
	assert.Equal(t, []string{"initial", "new_features", "new_hpo"}, names)

	initial, err := cfg.Iterations[0].EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, automl.FeatureSetRaw, initial.FeatureSet)
	assert.Equal(t, automl.PresetBest, initial.Preset)
	assert.Equal(t, 10*time.Minute, initial.TimeBudget)

	hpo, err := cfg.Iterations[2].EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, automl.FeatureSetEnriched, hpo.FeatureSet)
	require.Len(t, hpo.Hyperparameters.GradientBoosting, 2)
	assert.Equal(t, 500, hpo.Hyperparameters.GradientBoosting[0].NEstimators)
	assert.InDelta(t, 0.8, hpo.Hyperparameters.GradientBoosting[1].Subsample, 1e-12)
	assert.NotEmpty(t, hpo.Hyperparameters.LinearRegression)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("testdata", "bikedemand.yaml"), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "./kaggle", cfg.DataDir)
	assert.Equal(t, "train.csv", cfg.TrainFile, "defaults survive a partial file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "gzip", cfg.Export.Codec)
	require.Len(t, cfg.Iterations, 2)

	initial, err := cfg.Iterations[0].EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, automl.PresetHigh, initial.Preset)
	assert.Equal(t, 3, initial.FoldCount)
	assert.Equal(t, 2*time.Minute, initial.TimeBudget)
	assert.Equal(t, uint64(1), initial.Seed)

	hpo, err := cfg.Iterations[1].EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, hpo.StackLevels, "explicit zero overrides the preset")
	assert.Equal(t, 8, hpo.FoldCount)
	assert.Empty(t, hpo.Hyperparameters.LinearRegression)
	require.Len(t, hpo.Hyperparameters.GradientBoosting, 2)
	assert.Equal(t, 20, hpo.Hyperparameters.GradientBoosting[1].NIterNoChange)
	assert.InDelta(t, 0.1, hpo.Hyperparameters.GradientBoosting[1].LearningRate, 1e-12)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		EnvDataDir+"=/srv/kaggle\n"+EnvTimeBudget+"=90s\n"), 0o644))
	t.Setenv(EnvLogFormat, "json")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "/srv/kaggle", cfg.DataDir)
	assert.Equal(t, "json", cfg.Log.Format)
	for _, it := range cfg.Iterations {
		assert.Equal(t, "90s", it.AutoML.TimeBudget)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)

	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: x\nunknown_key: 1\n"), 0o644))
	_, err = Load(path, "")
	assert.Error(t, err, "unknown keys are rejected")

	t.Setenv(EnvTimeBudget, "forever")
	_, err = Load("", "")
	assert.Error(t, err)
}

func TestValidateAggregates(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	cfg.Log.Level = "loud"
	cfg.Log.Format = "jsonl"
	cfg.Iterations[1].Name = "initial"
	cfg.Iterations[2].Label = "registered"
	cfg.Iterations[2].AutoML.TimeBudget = "soon"

	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 6)
}

func TestValidateRejectsBadEngineConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(it *Iteration)
	}{
		{"unknown preset", func(it *Iteration) { it.AutoML.Preset = "ultra" }},
		{"unknown feature set", func(it *Iteration) { it.FeatureSet = "all" }},
		{"stacking without folds", func(it *Iteration) {
			zero, one := 0, 1
			it.AutoML.FoldCount, it.AutoML.StackLevels = &zero, &one
		}},
		{"unknown hyperparameter", func(it *Iteration) {
			it.AutoML.Hyperparameters = map[string]interface{}{
				"gradient_boosting": []interface{}{map[string]interface{}{"depth": 3}},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg.Iterations[0])
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseEmpty(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse(nil, cfg))
	assert.Len(t, cfg.Iterations, 3)
}
