// Package config loads the run configuration: a YAML file describing the
// experiment iterations, overlaid with values from a .env file and the
// process environment.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/bikedemand/automl"
	"github.com/YuminosukeSato/bikedemand/dataset"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
)

// Environment variables that override the file.
const (
	EnvDataDir    = "BIKEDEMAND_DATA_DIR"
	EnvOutputDir  = "BIKEDEMAND_OUTPUT_DIR"
	EnvLogLevel   = "BIKEDEMAND_LOG_LEVEL"
	EnvLogFormat  = "BIKEDEMAND_LOG_FORMAT"
	EnvTimeBudget = "BIKEDEMAND_TIME_BUDGET"
)

// Config is the whole run configuration.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	OutputDir string `yaml:"output_dir"`
	TrainFile string `yaml:"train_file"`
	TestFile  string `yaml:"test_file"`

	Log LogConfig `yaml:"log"`

	// HistoryDB is the SQLite file recording runs. Empty disables history.
	HistoryDB string `yaml:"history_db"`
	// MetricsFile is a Prometheus textfile written after the run. Empty disables it.
	MetricsFile string `yaml:"metrics_file"`

	Export ExportConfig `yaml:"export"`

	Iterations []Iteration `yaml:"iterations"`
}

// LogConfig selects the logger backend.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExportConfig controls the Parquet dump of the enriched training frame.
type ExportConfig struct {
	Parquet string `yaml:"parquet"`
	Codec   string `yaml:"codec"`
}

// Iteration is one fit/predict/submit cycle.
type Iteration struct {
	Name       string       `yaml:"name"`
	FeatureSet string       `yaml:"feature_set"`
	Label      string       `yaml:"label"`
	Submission string       `yaml:"submission"`
	AutoML     AutoMLConfig `yaml:"automl"`
}

// AutoMLConfig is the engine configuration as written in the file.
// Unset fold_count and stack_levels fall back to the preset.
type AutoMLConfig struct {
	TimeBudget      string                 `yaml:"time_budget"`
	Preset          string                 `yaml:"preset"`
	FoldCount       *int                   `yaml:"fold_count,omitempty"`
	StackLevels     *int                   `yaml:"stack_levels,omitempty"`
	Seed            uint64                 `yaml:"seed"`
	Hyperparameters map[string]interface{} `yaml:"hyperparameters,omitempty"`
}

// Default returns the configuration of the three standard iterations:
// raw features, engineered features, and engineered features with tuned
// gradient boosting on the log target.
func Default() *Config {
	return &Config{
		DataDir:   "data",
		OutputDir: "output",
		TrainFile: "train.csv",
		TestFile:  "test.csv",
		Log:       LogConfig{Level: "info", Format: "console"},
		Export:    ExportConfig{Codec: "SNAPPY"},
		Iterations: []Iteration{
			{
				Name:       "initial",
				FeatureSet: string(automl.FeatureSetRaw),
				Label:      automl.LabelCount,
				Submission: "submission.csv",
				AutoML:     AutoMLConfig{TimeBudget: "10m", Preset: string(automl.PresetBest)},
			},
			{
				Name:       "new_features",
				FeatureSet: string(automl.FeatureSetEnriched),
				Label:      automl.LabelCount,
				Submission: "submission_new_features.csv",
				AutoML:     AutoMLConfig{TimeBudget: "10m", Preset: string(automl.PresetBest)},
			},
			{
				Name:       "new_hpo",
				FeatureSet: string(automl.FeatureSetEnriched),
				Label:      automl.LabelCountLog,
				Submission: "submission_new_hpo.csv",
				AutoML: AutoMLConfig{
					TimeBudget: "10m",
					Preset:     string(automl.PresetBest),
					Hyperparameters: map[string]interface{}{
						"gradient_boosting": []interface{}{
							map[string]interface{}{"n_estimators": 500, "learning_rate": 0.05, "max_depth": 8},
							map[string]interface{}{"n_estimators": 300, "learning_rate": 0.1, "subsample": 0.8},
						},
					},
				},
			},
		},
	}
}

// Load reads the .env file (if any), the YAML file at path (if any) on top of
// Default, and finally the environment overrides.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "load env file %s", envFile)
		}
	} else if err := godotenv.Load(); err != nil {
		log.GetLogger().Debug(".env file not loaded", log.ComponentKey, "config", "reason", err.Error())
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys absent from data keep their current
// values; an iterations list replaces the existing one.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.WithStack(err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(EnvTimeBudget); v != "" {
		if _, err := time.ParseDuration(v); err != nil {
			return errors.NewValidationError(EnvTimeBudget, "must be a duration such as 10m", v)
		}
		for i := range c.Iterations {
			c.Iterations[i].AutoML.TimeBudget = v
		}
	}
	return nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.DataDir == "" {
		result = multierror.Append(result, errors.NewValidationError("data_dir", "must not be empty", c.DataDir))
	}
	if c.OutputDir == "" {
		result = multierror.Append(result, errors.NewValidationError("output_dir", "must not be empty", c.OutputDir))
	}
	if _, err := log.ToLogLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := log.ToLogFormat(c.Log.Format); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Export.Parquet != "" {
		if _, err := dataset.ParseCodec(c.Export.Codec); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if len(c.Iterations) == 0 {
		result = multierror.Append(result, errors.NewValidationError("iterations", "at least one iteration is required", nil))
	}

	names := make(map[string]bool)
	submissions := make(map[string]bool)
	for i, it := range c.Iterations {
		prefix := fmt.Sprintf("iterations[%d]", i)
		if it.Name == "" {
			result = multierror.Append(result, errors.NewValidationError(prefix+".name", "must not be empty", it.Name))
		} else if names[it.Name] {
			result = multierror.Append(result, errors.NewValidationError(prefix+".name", "duplicate iteration name", it.Name))
		}
		names[it.Name] = true

		if it.Submission == "" {
			result = multierror.Append(result, errors.NewValidationError(prefix+".submission", "must not be empty", it.Submission))
		} else if submissions[it.Submission] {
			result = multierror.Append(result, errors.NewValidationError(prefix+".submission", "two iterations write the same file", it.Submission))
		}
		submissions[it.Submission] = true

		if it.Label != automl.LabelCount && it.Label != automl.LabelCountLog {
			result = multierror.Append(result, errors.NewValidationError(prefix+".label", "must be count or count_log", it.Label))
		}
		if _, err := it.EngineConfig(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, prefix+".automl"))
		}
	}
	return result.ErrorOrNil()
}

// EngineConfig builds the automl.Config for the iteration.
func (it Iteration) EngineConfig() (automl.Config, error) {
	a := it.AutoML
	preset := automl.Preset(a.Preset)
	if preset == "" {
		preset = automl.PresetMedium
	}
	cfg := automl.DefaultConfig(preset)
	if a.TimeBudget != "" {
		d, err := time.ParseDuration(a.TimeBudget)
		if err != nil {
			return cfg, errors.NewValidationError("time_budget", "must be a duration such as 10m", a.TimeBudget)
		}
		cfg.TimeBudget = d
	}
	if a.FoldCount != nil {
		cfg.FoldCount = *a.FoldCount
	}
	if a.StackLevels != nil {
		cfg.StackLevels = *a.StackLevels
	}
	cfg.Seed = a.Seed
	if it.FeatureSet != "" {
		cfg.FeatureSet = automl.FeatureSet(it.FeatureSet)
	}

	hp, err := automl.DecodeHyperparameters(a.Hyperparameters)
	if err != nil {
		return cfg, err
	}
	cfg.Hyperparameters = hp
	return cfg, cfg.Validate()
}
