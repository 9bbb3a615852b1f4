// Package workflow runs the experiment end to end: load the Kaggle files,
// enrich them, and for every configured iteration fit the engine, predict the
// test set and write a submission.
package workflow

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/YuminosukeSato/bikedemand/automl"
	"github.com/YuminosukeSato/bikedemand/config"
	"github.com/YuminosukeSato/bikedemand/dataset"
	"github.com/YuminosukeSato/bikedemand/history"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

// ModelDir is the directory under the output directory holding the saved
// predictors.
const ModelDir = "models"

// IterationResult is the outcome of one iteration.
type IterationResult struct {
	Name           string
	Label          string
	PredictorID    string
	Leaderboard    []automl.LeaderboardEntry
	SubmissionPath string
	ModelPath      string
	Duration       time.Duration
	Err            error
}

// Result summarizes a run.
type Result struct {
	RunID      string
	TrainRows  int
	TestRows   int
	Iterations []IterationResult
}

// Runner executes a configuration.
type Runner struct {
	cfg      *config.Config
	pipeline *preprocessing.Pipeline
	history  *history.Store
	metrics  *Metrics
	logger   log.Logger
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithHistory records runs in store.
func WithHistory(store *history.Store) Option {
	return func(r *Runner) { r.history = store }
}

// WithLogger overrides the global logger.
func WithLogger(l log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithPipeline replaces the default feature pipeline.
func WithPipeline(p *preprocessing.Pipeline) Option {
	return func(r *Runner) { r.pipeline = p }
}

// NewRunner creates a Runner for cfg.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		metrics: NewMetrics(),
		logger:  log.GetLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pipeline == nil {
		r.pipeline = preprocessing.NewPipeline(preprocessing.WithLogger(r.logger))
	}
	return r
}

// Metrics returns the run metrics.
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// Run executes every iteration. A failed iteration does not stop the others;
// the returned error aggregates all iteration failures. Loading or enriching
// the input files fails the run immediately.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	res := &Result{RunID: uuid.NewString()}
	logger := r.logger.With(log.RunIDKey, res.RunID, log.ComponentKey, "workflow")
	started := r.now()

	train, test, err := r.loadData(logger)
	if err != nil {
		return nil, err
	}
	res.TrainRows, res.TestRows = len(train), len(test)

	if r.history != nil {
		if err := r.history.StartRun(ctx, res.RunID, started); err != nil {
			return nil, err
		}
	}

	var result *multierror.Error
	for _, it := range r.cfg.Iterations {
		if ctx.Err() != nil {
			result = multierror.Append(result, errors.Wrapf(ctx.Err(), "iteration %s not started", it.Name))
			continue
		}
		ir := r.runIteration(ctx, it, train, test, logger.With(log.IterationNameKey, it.Name))
		res.Iterations = append(res.Iterations, ir)
		r.metrics.observeIteration(ir)
		if ir.Err != nil {
			logger.Error("iteration failed", ir.Err, log.IterationNameKey, it.Name)
			result = multierror.Append(result, errors.Wrapf(ir.Err, "iteration %s", it.Name))
		}
		if r.history != nil {
			if err := r.history.RecordIteration(ctx, res.RunID, historyIteration(it, ir)); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	finished := r.now()
	r.metrics.observeFinish(finished)
	if r.history != nil {
		status := history.StatusSucceeded
		if result.ErrorOrNil() != nil {
			status = history.StatusFailed
		}
		// written even after cancellation
		if err := r.history.FinishRun(context.WithoutCancel(ctx), res.RunID, status, finished); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if r.cfg.MetricsFile != "" {
		if err := r.metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
			result = multierror.Append(result, err)
		}
	}

	logger.Info("run finished",
		"iterations", len(res.Iterations),
		"failed", failedCount(res.Iterations),
		log.DurationSecondsKey, finished.Sub(started).Seconds(),
	)
	return res, result.ErrorOrNil()
}

func (r *Runner) loadData(logger log.Logger) (train, test []preprocessing.EnrichedRecord, err error) {
	trainPath := filepath.Join(r.cfg.DataDir, r.cfg.TrainFile)
	testPath := filepath.Join(r.cfg.DataDir, r.cfg.TestFile)

	rawTrain, err := dataset.LoadCSV(trainPath)
	if err != nil {
		return nil, nil, err
	}
	rawTest, err := dataset.LoadCSV(testPath)
	if err != nil {
		return nil, nil, err
	}
	for i := range rawTrain {
		if !rawTrain[i].HasTarget() {
			return nil, nil, errors.NewSchemaError("workflow.Run", i, dataset.ColCount, "training file has no target columns")
		}
	}
	r.metrics.observeRows("train", len(rawTrain))
	r.metrics.observeRows("test", len(rawTest))
	logger.Info("data loaded",
		log.PathKey, trainPath,
		"train_rows", len(rawTrain),
		"test_rows", len(rawTest),
	)

	if train, err = r.pipeline.Enrich(rawTrain); err != nil {
		return nil, nil, errors.Wrapf(err, "enrich %s", trainPath)
	}
	if test, err = r.pipeline.Enrich(rawTest); err != nil {
		return nil, nil, errors.Wrapf(err, "enrich %s", testPath)
	}

	if path := r.cfg.Export.Parquet; path != "" {
		if err := dataset.SaveParquet(path, train, r.cfg.Export.Codec); err != nil {
			return nil, nil, err
		}
		logger.Info("features exported", log.OperationKey, log.OperationExport, log.PathKey, path)
	}
	return train, test, nil
}

func (r *Runner) runIteration(ctx context.Context, it config.Iteration, train, test []preprocessing.EnrichedRecord, logger log.Logger) (ir IterationResult) {
	start := r.now()
	ir = IterationResult{Name: it.Name, Label: it.Label}
	defer func() { ir.Duration = r.now().Sub(start) }()

	engineCfg, err := it.EngineConfig()
	if err != nil {
		ir.Err = err
		return ir
	}

	predictor, err := automl.Fit(ctx, train, it.Label, engineCfg)
	if err != nil {
		ir.Err = err
		return ir
	}
	ir.PredictorID = predictor.ID
	ir.Leaderboard = predictor.Leaderboard()

	preds, err := predictor.Predict(test)
	if err != nil {
		ir.Err = err
		return ir
	}
	if it.Label == automl.LabelCountLog {
		preds = preprocessing.Expm1Predictions(preds)
	}
	subs, err := preprocessing.FormatSubmission(preprocessing.Timestamps(test), preds)
	if err != nil {
		ir.Err = err
		return ir
	}

	ir.SubmissionPath = filepath.Join(r.cfg.OutputDir, it.Submission)
	if err := dataset.SaveSubmission(ir.SubmissionPath, subs); err != nil {
		ir.Err = err
		return ir
	}

	ir.ModelPath = filepath.Join(r.cfg.OutputDir, ModelDir, it.Name+".gob")
	if err := savePredictor(ir.ModelPath, predictor); err != nil {
		ir.Err = err
		return ir
	}

	if best, ok := bestEntry(ir.Leaderboard); ok {
		logger.Info("iteration finished",
			log.ModelNameKey, best.Model,
			log.ScoreValKey, best.ScoreVal,
			log.LabelKey, it.Label,
			log.PathKey, ir.SubmissionPath,
		)
	}
	return ir
}

func historyIteration(it config.Iteration, ir IterationResult) *history.Iteration {
	h := &history.Iteration{
		Name:            it.Name,
		PredictorID:     ir.PredictorID,
		FeatureSet:      it.FeatureSet,
		Label:           it.Label,
		Preset:          it.AutoML.Preset,
		Submission:      ir.SubmissionPath,
		DurationSeconds: ir.Duration.Seconds(),
		Leaderboard:     history.FromLeaderboard(ir.Leaderboard),
	}
	if best, ok := bestEntry(ir.Leaderboard); ok {
		h.BestModel, h.BestScore = best.Model, best.ScoreVal
	}
	if ir.Err != nil {
		h.Error = ir.Err.Error()
	}
	return h
}

func failedCount(results []IterationResult) int {
	n := 0
	for _, ir := range results {
		if ir.Err != nil {
			n++
		}
	}
	return n
}
