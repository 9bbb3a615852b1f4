// Package history records workflow runs and their leaderboards in SQLite.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/YuminosukeSato/bikedemand/automl"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one workflow execution.
type Run struct {
	ID         string `gorm:"primaryKey;size:36"`
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string      `gorm:"size:16;index"`
	Iterations []Iteration `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// Iteration is the outcome of one fit/predict/submit cycle of a run.
type Iteration struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"size:36;index"`
	Name        string `gorm:"size:64"`
	PredictorID string `gorm:"size:36"`
	FeatureSet  string `gorm:"size:16"`
	Label       string `gorm:"size:16"`
	Preset      string `gorm:"size:32"`
	BestModel   string
	BestScore   float64
	Submission  string
	// Error is empty for successful iterations.
	Error           string
	DurationSeconds float64
	CreatedAt       time.Time

	Leaderboard []LeaderboardRow `gorm:"foreignKey:IterationID;constraint:OnDelete:CASCADE"`
}

// LeaderboardRow is one ranked model of an iteration. Rank 1 is the best.
type LeaderboardRow struct {
	ID             uint `gorm:"primaryKey"`
	IterationID    uint `gorm:"index"`
	Rank           int
	Model          string
	ScoreVal       float64
	FitTimeSeconds float64
	StackLevel     int
}

// FromLeaderboard converts the engine leaderboard, keeping its order.
func FromLeaderboard(board []automl.LeaderboardEntry) []LeaderboardRow {
	rows := make([]LeaderboardRow, len(board))
	for i, e := range board {
		rows[i] = LeaderboardRow{
			Rank:           i + 1,
			Model:          e.Model,
			ScoreVal:       e.ScoreVal,
			FitTimeSeconds: e.FitTime.Seconds(),
			StackLevel:     e.StackLevel,
		}
	}
	return rows
}

// Store persists runs through gorm.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newGormLogger(log.GetLogger().With(log.ComponentKey, "history")),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open history database %s", path)
	}
	if path == ":memory:" {
		// each connection to :memory: is a separate database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Run{}, &Iteration{}, &LeaderboardRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate history schema")
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(sqlDB.Close())
}

// StartRun inserts a run in the running state.
func (s *Store) StartRun(ctx context.Context, id string, startedAt time.Time) error {
	run := Run{ID: id, StartedAt: startedAt, Status: StatusRunning}
	return errors.Wrapf(s.db.WithContext(ctx).Create(&run).Error, "start run %s", id)
}

// RecordIteration stores an iteration and its leaderboard under runID.
func (s *Store) RecordIteration(ctx context.Context, runID string, it *Iteration) error {
	it.RunID = runID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(it).Error
	})
	return errors.Wrapf(err, "record iteration %s of run %s", it.Name, runID)
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "finished_at": finishedAt})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "finish run %s", id)
	}
	if res.RowsAffected == 0 {
		return errors.Newf("finish run %s: run not found", id)
	}
	return nil
}

// Runs returns the most recent runs first, with their iterations.
// limit <= 0 returns every run.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := s.db.WithContext(ctx).
		Preload("Iterations", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}

// Leaderboard returns the ranked models of one iteration of a run.
func (s *Store) Leaderboard(ctx context.Context, runID, iteration string) ([]LeaderboardRow, error) {
	var it Iteration
	err := s.db.WithContext(ctx).
		Preload("Leaderboard", func(db *gorm.DB) *gorm.DB { return db.Order("rank") }).
		Where("run_id = ? AND name = ?", runID, iteration).
		First(&it).Error
	if err != nil {
		return nil, errors.Wrapf(err, "leaderboard of %s/%s", runID, iteration)
	}
	return it.Leaderboard, nil
}

// BestIterations returns, across all runs, the best successful iteration
// for each iteration name.
func (s *Store) BestIterations(ctx context.Context) ([]Iteration, error) {
	var out []Iteration
	err := s.db.WithContext(ctx).
		Where("error = ''").
		Where("best_score = (SELECT MAX(i2.best_score) FROM iterations i2 WHERE i2.name = iterations.name AND i2.error = '')").
		Order("name").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "best iterations")
	}
	return out, nil
}

// gormWriter routes gorm's own log lines to the bikedemand logger.
type gormWriter struct {
	logger log.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	w.logger.Debug("gorm", "sql", msg)
}

func newGormLogger(l log.Logger) gormlogger.Interface {
	return gormlogger.New(gormWriter{logger: l}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
