package workflow

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YuminosukeSato/bikedemand/automl"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

// Metrics collects per-run gauges and writes them as a Prometheus textfile
// for the node exporter's textfile collector.
type Metrics struct {
	registry *prometheus.Registry

	rows              *prometheus.GaugeVec
	iterationDuration *prometheus.GaugeVec
	iterationStatus   *prometheus.CounterVec
	bestScore         *prometheus.GaugeVec
	modelsFitted      *prometheus.GaugeVec
	lastRun           prometheus.Gauge
}

// NewMetrics registers the workflow metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bikedemand_dataset_rows",
			Help: "Rows loaded per dataset.",
		}, []string{"dataset"}),
		iterationDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bikedemand_iteration_duration_seconds",
			Help: "Wall time of the last execution of each iteration.",
		}, []string{"iteration"}),
		iterationStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bikedemand_iterations_total",
			Help: "Iterations executed by final status.",
		}, []string{"iteration", "status"}),
		bestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bikedemand_best_score_val",
			Help: "Validation score (negative RMSE in label space) of the best model.",
		}, []string{"iteration", "label", "model"}),
		modelsFitted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bikedemand_models_fitted",
			Help: "Leaderboard size of each iteration.",
		}, []string{"iteration"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bikedemand_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	registry.MustRegister(m.rows, m.iterationDuration, m.iterationStatus, m.bestScore, m.modelsFitted, m.lastRun)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeRows(dataset string, n int) {
	m.rows.WithLabelValues(dataset).Set(float64(n))
}

func (m *Metrics) observeIteration(res IterationResult) {
	status := "succeeded"
	if res.Err != nil {
		status = "failed"
	}
	m.iterationStatus.WithLabelValues(res.Name, status).Inc()
	m.iterationDuration.WithLabelValues(res.Name).Set(res.Duration.Seconds())
	best, ok := bestEntry(res.Leaderboard)
	if !ok {
		return
	}
	m.modelsFitted.WithLabelValues(res.Name).Set(float64(len(res.Leaderboard)))
	m.bestScore.WithLabelValues(res.Name, res.Label, best.Model).Set(best.ScoreVal)
}

func (m *Metrics) observeFinish(t time.Time) {
	m.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile writes the current values to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.registry), "write metrics %s", path)
}

// bestEntry returns the top of a leaderboard.
func bestEntry(board []automl.LeaderboardEntry) (automl.LeaderboardEntry, bool) {
	if len(board) == 0 {
		return automl.LeaderboardEntry{}, false
	}
	return board[0], true
}
