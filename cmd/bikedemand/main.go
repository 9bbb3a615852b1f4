// Command bikedemand runs the Bike Sharing Demand experiment described by a
// YAML configuration and writes one Kaggle submission per iteration.
//
// Usage:
//
//	bikedemand -config bikedemand.yaml [-env .env]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/bikedemand/config"
	"github.com/YuminosukeSato/bikedemand/history"
	"github.com/YuminosukeSato/bikedemand/pkg/log"
	"github.com/YuminosukeSato/bikedemand/workflow"
)

func main() {
	if err := run(); err != nil {
		log.GetLogger().Error("bikedemand failed", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML run configuration (defaults are used when empty)")
	envFile := flag.String("env", "", "path to a .env file with BIKEDEMAND_* overrides")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return err
	}
	if err := log.SetupLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	opts := []workflow.Option{workflow.WithLogger(log.GetLogger())}
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, workflow.WithHistory(store))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := workflow.NewRunner(cfg, opts...).Run(ctx)
	if res != nil {
		for _, ir := range res.Iterations {
			if ir.Err == nil {
				fmt.Printf("%-14s %s\n", ir.Name, ir.SubmissionPath)
			}
		}
	}
	return err
}
