// Standard attribute keys. Keys follow a hierarchical naming convention
// ("model.name", "data.samples") so log lines from the feature pipeline,
// the AutoML engine and the workflow can be filtered the same way.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the model family or ensemble.
	// Examples: "LinearRegression", "GradientBoosting", "WeightedEnsemble_L2"
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies a fitted predictor instance (a UUID per run).
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the run.
	PhaseKey = "ml.phase"
)

// Data Shape
const (
	// SamplesKey indicates the number of rows.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of encoded feature columns.
	FeaturesKey = "data.features"

	// LabelKey names the target column ("count" or "count_log").
	LabelKey = "data.label"

	// PathKey is a file read or written by the run.
	PathKey = "data.path"
)

// Feature pipeline
const (
	// StepKey names an enrichment step.
	StepKey = "pipeline.step"

	// RowKey is the 0-based row index a message refers to.
	RowKey = "pipeline.row"
)

// AutoML engine
const (
	// PresetKey is the quality preset tag.
	PresetKey = "automl.preset"

	// FoldKey is the bagging fold index.
	FoldKey = "automl.fold"

	// FoldCountKey is the configured number of bagging folds.
	FoldCountKey = "automl.fold_count"

	// StackLevelKey is the stack layer a model belongs to (1-based).
	StackLevelKey = "automl.stack_level"

	// TimeBudgetKey is the training time budget.
	TimeBudgetKey = "automl.time_budget"

	// ScoreValKey is the validation score (negative RMSE, higher is better).
	ScoreValKey = "automl.score_val"
)

// Performance
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// DurationSecondsKey records the execution time in seconds.
	DurationSecondsKey = "perf.duration_seconds"
)

// Run context
const (
	// IterationNameKey names the experiment iteration ("initial", "new_features", "new_hpo").
	IterationNameKey = "run.iteration"

	// RunIDKey identifies one workflow execution.
	RunIDKey = "run.id"
)

// Error and Warning Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// WarningKey carries a structured warning value.
	WarningKey = "warning"
)

// Standard attribute values.
const (
	OperationEnrich  = "enrich"
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationFormat  = "format_submission"
	OperationExport  = "export"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
