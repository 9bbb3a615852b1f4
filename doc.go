// Package bikedemand is a feature pipeline and AutoML runner for the Kaggle
// Bike Sharing Demand competition.
//
// The module reads the hourly rental records, derives calendar and weather
// features, fits a stack of regressors per experiment iteration and writes
// Kaggle submission files.
//
// # Quick Start
//
// Run the three standard iterations against data/train.csv and data/test.csv:
//
//	go run ./cmd/bikedemand -config bikedemand.example.yaml
//
// The same flow from Go:
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//	    "os"
//
//	    "github.com/YuminosukeSato/bikedemand/automl"
//	    "github.com/YuminosukeSato/bikedemand/dataset"
//	    "github.com/YuminosukeSato/bikedemand/preprocessing"
//	)
//
//	func main() {
//	    rawTrain, err := dataset.LoadCSV("data/train.csv")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    rawTest, err := dataset.LoadCSV("data/test.csv")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    train, _ := preprocessing.Enrich(rawTrain)
//	    test, _ := preprocessing.Enrich(rawTest)
//
//	    cfg := automl.DefaultConfig(automl.PresetMedium)
//	    predictor, err := automl.Fit(context.Background(), train, automl.LabelCount, cfg)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    preds, err := predictor.Predict(test)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    subs, err := preprocessing.FormatSubmission(preprocessing.Timestamps(test), preds)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := dataset.WriteSubmission(os.Stdout, subs); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Packages
//
//   - preprocessing: record types, feature enrichment steps, submission formatting
//   - dataset: CSV reader, submission writer, Parquet feature export
//   - automl: encoder, bagged and stacked model search, weighted ensemble
//   - sklearn/tree, sklearn/ensemble: regression tree and gradient boosting
//   - linear: ridge regression
//   - metrics: MSE, RMSE, RMSLE, MAE, R²
//   - config: YAML and environment configuration
//   - history: SQLite run history
//   - workflow: end-to-end runner with Prometheus metrics
//   - pkg/errors, pkg/log: error types and structured logging
package bikedemand
