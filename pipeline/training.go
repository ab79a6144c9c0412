package pipeline

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"winequality/evaluation"
	"winequality/ml"
)

// TrainingConfig 训练配置
type TrainingConfig struct {
	TestFraction float64
	Seed         int64
	Classifier   ml.LogisticConfig
	ROCScores    evaluation.ScoreSource
}

func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		TestFraction: ml.DefaultTestFraction,
		Seed:         ml.DefaultSeed,
		Classifier:   ml.DefaultLogisticConfig(),
		ROCScores:    evaluation.ScoreProbability,
	}
}

// TrainingResult is everything one pipeline run produces.
type TrainingResult struct {
	Split    ml.LabeledSplit
	Model    *ml.Model
	Report   *evaluation.Report
	Duration time.Duration
}

// Train splits the cleaned dataset, fits on train and evaluates on test.
// Split problems surface as a FitError since they leave nothing to fit.
func Train(ds *ml.Dataset, config TrainingConfig, logger *zap.Logger) (*TrainingResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ds.Len() == 0 {
		return nil, &ml.FitError{Reason: "dataset has no records after cleaning"}
	}
	start := time.Now()

	split, err := ml.SplitDataset(ds, config.TestFraction, config.Seed)
	if err != nil {
		return nil, &ml.FitError{Reason: err.Error()}
	}
	logger.Info("dataset split",
		zap.Int("train", split.Train.Len()),
		zap.Int("test", split.Test.Len()),
		zap.Float64("test_fraction", config.TestFraction),
		zap.Int64("seed", config.Seed),
	)

	model, err := ml.NewLogisticRegression(config.Classifier).Fit(split.Train)
	if err != nil {
		var fitErr *ml.FitError
		if errors.As(err, &fitErr) {
			return nil, err
		}
		return nil, fmt.Errorf("fit: %w", err)
	}
	if !model.Converged() {
		logger.Warn("classifier did not converge", zap.Int("iterations", model.Iterations()))
	}
	logger.Info("classifier fitted",
		zap.Int("iterations", model.Iterations()),
		zap.Bool("converged", model.Converged()),
		zap.Float64("bias", model.Bias()),
	)

	report, err := evaluation.Evaluate(model, split.Test, config.ROCScores)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	logger.Info("model evaluated",
		zap.Float64("accuracy", float64(report.Accuracy)),
		zap.Float64("precision", float64(report.Precision)),
		zap.Float64("recall", float64(report.Recall)),
		zap.Float64("f1", float64(report.F1)),
		zap.Float64("auc", float64(report.AUC)),
		zap.String("roc_scores", string(report.ScoreSource)),
	)

	return &TrainingResult{
		Split:    split,
		Model:    model,
		Report:   report,
		Duration: time.Since(start),
	}, nil
}
