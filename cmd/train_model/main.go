package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"winequality/config"
	"winequality/db"
	"winequality/evaluation"
	"winequality/logging"
	"winequality/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	dataPath := flag.String("data", "", "dataset path, overrides dataset.path")
	rocScores := flag.String("roc-scores", "", `ROC scores: "probability" or "label", overrides evaluation.roc_scores`)
	flag.Parse()

	cfg, err := config.Load(*configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dataPath != "" {
		cfg.Dataset.Path = *dataPath
	}
	if *rocScores != "" {
		cfg.Evaluation.ROCScores = *rocScores
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, _, err := logging.New(cfg.LogOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := train(cfg, logger); err != nil {
		logger.Error("training failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func train(cfg *config.Config, logger *zap.Logger) error {
	ds, stats, err := pipeline.LoadDataset(cfg.Dataset.Path, cfg.LoadOptions(), logger)
	if err != nil {
		return err
	}

	result, err := pipeline.Train(ds, cfg.TrainingConfig(), logger)
	if err != nil {
		return err
	}

	fmt.Printf("Dataset: %s (%d rows kept, %d rejected)\n", cfg.Dataset.Path, ds.Len(), stats.Rejected)
	for _, issue := range stats.Recent {
		fmt.Printf("  line %d: %s: %s\n", issue.Line, issue.Type, issue.Message)
	}
	fmt.Printf("Split: %d train / %d test (seed %d)\n", result.Split.Train.Len(), result.Split.Test.Len(), cfg.Training.Seed)
	fmt.Print(result.Report.Text())
	printCoefficients(result)

	if cfg.Database.Path == "" {
		return nil
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	runID, err := store.SaveTrainingRun(context.Background(), result, ds.Len())
	if err != nil {
		return fmt.Errorf("record training run: %w", err)
	}
	fmt.Printf("Training run %d recorded in %s\n", runID, cfg.Database.Path)
	return nil
}

func printCoefficients(result *pipeline.TrainingResult) {
	summary := result.Model.Summary()
	fmt.Printf("Converged: %v after %d iterations\n", summary.Converged, summary.Iterations)
	fmt.Printf("%-22s %10.4f\n", "bias", summary.Bias)
	for i, name := range result.Split.Train.FeatureNames() {
		fmt.Printf("%-22s %10.4f\n", name, result.Model.Coefficients()[i])
	}
	if result.Report.ScoreSource == evaluation.ScoreLabel {
		fmt.Println("ROC computed from hard labels; the curve has at most three points.")
	}
}
