package db

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winequality/evaluation"
	"winequality/ml"
	"winequality/pipeline"
	"winequality/service"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "wine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func trainingResult(t *testing.T) *pipeline.TrainingResult {
	t.Helper()
	records := make([]ml.Record, 40)
	for i := range records {
		records[i].Features[10] = 9 + float64(i%10)*0.5
		records[i].Features[0] = float64(i%7) * 0.3
		records[i].Quality = 5
		if records[i].Features[10] > 11 {
			records[i].Quality = 7
		}
	}
	result, err := pipeline.Train(ml.NewDataset(records), pipeline.DefaultTrainingConfig(), nil)
	require.NoError(t, err)
	return result
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestSaveAndListTrainingRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	result := trainingResult(t)

	first, err := store.SaveTrainingRun(ctx, result, 40)
	require.NoError(t, err)
	second, err := store.SaveTrainingRun(ctx, result, 40)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	runs, err := store.ListTrainingRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, ModelName, runs[0].ModelName)
	assert.Equal(t, 40, runs[0].DataPoints)
	assert.Equal(t, result.Split.Test.Len(), runs[0].TestSize)
	assert.InDelta(t, float64(result.Report.Accuracy), float64(runs[0].Accuracy), 1e-12)
	assert.Equal(t, string(evaluation.ScoreProbability), runs[0].ScoreSource)

	limited, err := store.ListTrainingRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	points, err := store.ROCPoints(ctx, first)
	require.NoError(t, err)
	require.Len(t, points, len(result.Report.ROC))
	assert.True(t, math.IsInf(float64(points[len(points)-1].Threshold), 1))
	assert.Equal(t, result.Report.ROC[0].FPR, points[0].FPR)
}

func TestUndefinedMetricsRoundTripAsNull(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	result := trainingResult(t)
	report := *result.Report
	report.Precision = evaluation.Undefined
	report.AUC = evaluation.Undefined
	result.Report = &report

	_, err := store.SaveTrainingRun(ctx, result, 40)
	require.NoError(t, err)

	runs, err := store.ListTrainingRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Precision.Defined())
	assert.False(t, runs[0].AUC.Defined())
	assert.True(t, runs[0].Recall.Defined() || !result.Report.Recall.Defined())
}

func TestSaveTrainingRunRejectsIncompleteResult(t *testing.T) {
	store := openStore(t)
	_, err := store.SaveTrainingRun(context.Background(), &pipeline.TrainingResult{}, 0)
	assert.Error(t, err)
}

func TestSavePrediction(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SavePrediction(ctx, service.PredictionRecord{
			RequestID:   "req",
			Features:    make([]float64, ml.FeatureCount),
			Label:       i % 2,
			Probability: 0.4,
			CreatedAt:   time.Now(),
		}))
	}
	n, err := store.CountPredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
