// Package db records training runs and served predictions in SQLite. Model
// weights are never stored; every process start fits afresh.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"winequality/evaluation"
	"winequality/pipeline"
	"winequality/service"
)

const schema = `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50) NOT NULL,
        accuracy REAL,
        precision REAL,
        recall REAL,
        f1 REAL,
        auc REAL,
        score_source VARCHAR(20) NOT NULL,
        data_points INTEGER NOT NULL,
        train_size INTEGER NOT NULL,
        test_size INTEGER NOT NULL,
        iterations INTEGER NOT NULL,
        converged INTEGER NOT NULL,
        duration_ms INTEGER NOT NULL,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS roc_points (
        run_id INTEGER NOT NULL REFERENCES training_log(id),
        seq INTEGER NOT NULL,
        threshold REAL,
        fpr REAL,
        tpr REAL,
        PRIMARY KEY (run_id, seq)
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT,
        features TEXT NOT NULL,
        predicted_label INTEGER NOT NULL,
        probability REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
`

// ModelName is written to every training_log row.
const ModelName = "logistic_regression"

// Store 数据库存储
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection also keeps ":memory:" to a single database.
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// TrainingLog is one row of the training history.
type TrainingLog struct {
	ID          int64             `json:"id"`
	ModelName   string            `json:"model_name"`
	Accuracy    evaluation.Metric `json:"accuracy"`
	Precision   evaluation.Metric `json:"precision"`
	Recall      evaluation.Metric `json:"recall"`
	F1          evaluation.Metric `json:"f1"`
	AUC         evaluation.Metric `json:"auc"`
	ScoreSource string            `json:"score_source"`
	DataPoints  int               `json:"data_points"`
	TrainSize   int               `json:"train_size"`
	TestSize    int               `json:"test_size"`
	Iterations  int               `json:"iterations"`
	Converged   bool              `json:"converged"`
	DurationMS  int64             `json:"duration_ms"`
	TrainedAt   time.Time         `json:"trained_at"`
}

// SaveTrainingRun writes the run and its ROC curve in one transaction and
// returns the run id.
func (s *Store) SaveTrainingRun(ctx context.Context, result *pipeline.TrainingResult, dataPoints int) (int64, error) {
	if result == nil || result.Model == nil || result.Report == nil {
		return 0, errors.New("incomplete training result")
	}
	report := result.Report

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
        INSERT INTO training_log (
            model_name, accuracy, precision, recall, f1, auc, score_source,
            data_points, train_size, test_size, iterations, converged, duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ModelName,
		nullable(report.Accuracy),
		nullable(report.Precision),
		nullable(report.Recall),
		nullable(report.F1),
		nullable(report.AUC),
		string(report.ScoreSource),
		dataPoints,
		result.Split.Train.Len(),
		result.Split.Test.Len(),
		result.Model.Iterations(),
		result.Model.Converged(),
		result.Duration.Milliseconds(),
		report.GeneratedAt.UTC(),
	)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO roc_points (run_id, seq, threshold, fpr, tpr) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for i, p := range report.ROC {
		if _, err := stmt.ExecContext(ctx, runID, i, threshold(p.Threshold), nullable(p.FPR), nullable(p.TPR)); err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	return runID, tx.Commit()
}

// ListTrainingRuns returns the newest runs first. limit <= 0 returns all.
func (s *Store) ListTrainingRuns(ctx context.Context, limit int) ([]TrainingLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, model_name, accuracy, precision, recall, f1, auc, score_source,
               data_points, train_size, test_size, iterations, converged, duration_ms, trained_at
        FROM training_log
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var accuracy, precision, recall, f1, auc sql.NullFloat64
		if err := rows.Scan(&log.ID, &log.ModelName, &accuracy, &precision, &recall, &f1, &auc,
			&log.ScoreSource, &log.DataPoints, &log.TrainSize, &log.TestSize, &log.Iterations,
			&log.Converged, &log.DurationMS, &log.TrainedAt); err != nil {
			return nil, err
		}
		log.Accuracy = metric(accuracy)
		log.Precision = metric(precision)
		log.Recall = metric(recall)
		log.F1 = metric(f1)
		log.AUC = metric(auc)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ROCPoints returns a stored curve in its original order.
func (s *Store) ROCPoints(ctx context.Context, runID int64) ([]evaluation.ROCPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT threshold, fpr, tpr FROM roc_points WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []evaluation.ROCPoint
	for rows.Next() {
		var th, fpr, tpr sql.NullFloat64
		if err := rows.Scan(&th, &fpr, &tpr); err != nil {
			return nil, err
		}
		p := evaluation.ROCPoint{FPR: metric(fpr), TPR: metric(tpr)}
		// A NULL threshold is the +Inf starting point.
		if th.Valid {
			p.Threshold = evaluation.Metric(th.Float64)
		} else {
			p.Threshold = evaluation.Metric(math.Inf(1))
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// SavePrediction appends one served prediction to the audit log.
func (s *Store) SavePrediction(ctx context.Context, record service.PredictionRecord) error {
	features, err := json.Marshal(record.Features)
	if err != nil {
		return err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO predictions (request_id, features, predicted_label, probability, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		record.RequestID, string(features), record.Label, record.Probability, createdAt.UTC())
	return err
}

func (s *Store) CountPredictions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}

func nullable(m evaluation.Metric) interface{} {
	if !m.Defined() {
		return nil
	}
	return float64(m)
}

func threshold(m evaluation.Metric) interface{} {
	if math.IsInf(float64(m), 1) {
		return nil
	}
	return nullable(m)
}

func metric(v sql.NullFloat64) evaluation.Metric {
	if !v.Valid {
		return evaluation.Undefined
	}
	return evaluation.Metric(v.Float64)
}
