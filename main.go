package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"winequality/config"
	"winequality/db"
	qhttp "winequality/http"
	"winequality/logging"
	"winequality/monitoring"
	"winequality/pipeline"
	"winequality/service"
)

const defaultConfigPath = "config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML config")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath, *configPath == defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logger, level, err := logging.New(cfg.LogOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger, level); err != nil {
		logger.Error("exiting", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("exiting")
}

func run(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetricsCollector()
	go metrics.CollectSystemMetrics(ctx, 10*time.Second)

	// 3. Initialize database
	var store *db.Store
	var history qhttp.TrainingHistory
	var sink service.PredictionSink
	if cfg.Database.Path != "" {
		var err error
		store, err = db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		history, sink = store, store
		logger.Info("database initialized", zap.String("path", cfg.Database.Path))
	}

	// 4. Load and clean the dataset
	ds, stats, err := pipeline.LoadDataset(cfg.Dataset.Path, cfg.LoadOptions(), logger)
	if err != nil {
		return err
	}
	metrics.SetGauge("dataset_records", float64(ds.Len()), nil)
	metrics.SetGauge("dataset_rows_rejected", float64(stats.Rejected), nil)

	svc, err := service.New(ds, service.Options{
		ProjectionCacheSize: cfg.Service.ProjectionCacheSize,
		Sink:                sink,
		Logger:              logger,
	})
	if err != nil {
		return err
	}
	metrics.SetGauge("model_ready", 0, nil)

	// 5. Start HTTP server; it answers 503 for predictions until the model is published.
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, qhttp.Dependencies{
		Service: svc,
		History: history,
		Metrics: metrics,
		Logger:  logger,
	})
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("server forced to shutdown", zap.Error(err))
		}
	}()

	// 6. Fit, evaluate and publish
	result, err := pipeline.Train(ds, cfg.TrainingConfig(), logger)
	if err != nil {
		return err
	}
	if store != nil {
		if runID, err := store.SaveTrainingRun(ctx, result, ds.Len()); err != nil {
			logger.Warn("failed to record training run", zap.Error(err))
		} else {
			logger.Info("training run recorded", zap.Int64("run_id", runID))
		}
	}
	if err := svc.Publish(result.Model, result.Report); err != nil {
		return err
	}
	metrics.SetGauge("model_ready", 1, nil)
	metrics.SetGauge("model_accuracy", float64(result.Report.Accuracy), nil)
	metrics.SetGauge("model_auc", float64(result.Report.AUC), nil)
	server.NotifyReady(svc.State())
	logger.Info("service ready", zap.Duration("training_time", result.Duration))

	// 7. Watch the config file for log level changes
	if _, err := os.Stat(configPath); err == nil {
		if err := config.Watch(ctx, configPath, level, logger); err != nil {
			logger.Warn("config watcher not started", zap.Error(err))
		}
	}

	// 8. Handle graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-serverErr:
		if err == nil {
			return errors.New("http server stopped unexpectedly")
		}
		return err
	}
}
