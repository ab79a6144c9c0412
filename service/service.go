// Package service holds the cleaned dataset and the fitted model and answers
// correlation and prediction requests against them.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"winequality/evaluation"
	"winequality/ml"
)

// State is the service lifecycle. Unavailable moves to Ready once, when a
// model is published, and never back.
type State int32

const (
	Unavailable State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	default:
		return "unavailable"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrAlreadyReady is returned by a second Publish.
var ErrAlreadyReady = errors.New("service already has a model")

const (
	goodText = "This wine is predicted to be good quality."
	badText  = "This wine is predicted to be bad quality."
)

// PredictionText returns the fixed response string for a label.
func PredictionText(label int) string {
	if label == ml.LabelGood {
		return goodText
	}
	return badText
}

// PredictionRecord is one served prediction as written to the audit log.
type PredictionRecord struct {
	RequestID   string
	Features    []float64
	Label       int
	Probability float64
	CreatedAt   time.Time
}

// PredictionSink receives every served prediction.
type PredictionSink interface {
	SavePrediction(ctx context.Context, record PredictionRecord) error
}

// Options 服务配置
type Options struct {
	// ProjectionCacheSize bounds the projection cache; zero disables it.
	ProjectionCacheSize int
	Sink                PredictionSink
	Logger              *zap.Logger
}

// Prediction is the answer to one prediction request.
type Prediction struct {
	Label       int     `json:"label"`
	Quality     string  `json:"quality"`
	Text        string  `json:"text"`
	Probability float64 `json:"probability"`
}

// FeatureList names the columns a caller may use.
type FeatureList struct {
	// Columns can be projected, quality included.
	Columns []string `json:"columns"`
	// Inputs are the prediction fields in canonical order.
	Inputs []string `json:"inputs"`
}

// Service 交互服务. All methods are safe for concurrent use.
type Service struct {
	dataset *ml.Dataset
	ready   atomic.Pointer[published]

	cache *lru.Cache[projectionKey, *Projection]

	matrixOnce sync.Once
	matrix     *CorrelationMatrix

	sink   PredictionSink
	logger *zap.Logger
}

// published is swapped in once, so the model and its report are always
// observed together.
type published struct {
	model  *ml.Model
	report *evaluation.Report
}

// New wraps a cleaned dataset. The service starts Unavailable.
func New(ds *ml.Dataset, opts Options) (*Service, error) {
	if ds == nil {
		return nil, errors.New("service needs a dataset")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		dataset: ds,
		sink:    opts.Sink,
		logger:  logger.Named("service"),
	}
	if opts.ProjectionCacheSize > 0 {
		cache, err := lru.New[projectionKey, *Projection](opts.ProjectionCacheSize)
		if err != nil {
			return nil, fmt.Errorf("projection cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Publish installs the fitted model and its evaluation and moves the service
// to Ready. It succeeds at most once.
func (s *Service) Publish(model *ml.Model, report *evaluation.Report) error {
	if model == nil {
		return errors.New("publish: nil model")
	}
	if !s.ready.CompareAndSwap(nil, &published{model: model, report: report}) {
		return ErrAlreadyReady
	}
	s.logger.Info("model published", zap.Int("dataset_size", s.dataset.Len()))
	return nil
}

func (s *Service) State() State {
	if s.ready.Load() == nil {
		return Unavailable
	}
	return Ready
}

// Model returns the published model, or nil while Unavailable.
func (s *Service) Model() *ml.Model {
	if p := s.ready.Load(); p != nil {
		return p.model
	}
	return nil
}

// Report returns the evaluation published with the model, or nil.
func (s *Service) Report() *evaluation.Report {
	if p := s.ready.Load(); p != nil {
		return p.report
	}
	return nil
}

func (s *Service) Dataset() *ml.Dataset {
	return s.dataset
}

func (s *Service) Features() FeatureList {
	return FeatureList{Columns: ml.Columns(), Inputs: ml.FeatureNames()}
}

// Predict classifies one request with the published model.
func (s *Service) Predict(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	p := s.ready.Load()
	if p == nil {
		return nil, ErrUnavailable
	}
	model := p.model
	vector := req.Vector()
	label, err := model.Predict(vector)
	if err != nil {
		return nil, err
	}
	proba, err := model.PredictProba(vector)
	if err != nil {
		return nil, err
	}
	prediction := &Prediction{
		Label:       label,
		Quality:     ml.LabelName(label),
		Text:        PredictionText(label),
		Probability: proba,
	}

	if s.sink != nil {
		record := PredictionRecord{
			RequestID:   RequestIDFrom(ctx),
			Features:    vector,
			Label:       label,
			Probability: proba,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.sink.SavePrediction(ctx, record); err != nil {
			s.logger.Warn("prediction audit write failed",
				zap.String("request_id", record.RequestID),
				zap.Error(err),
			)
		}
	}
	return prediction, nil
}

// ProjectionPoint is one record placed on the two chosen axes.
type ProjectionPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label int     `json:"label"`
}

// Projection pairs two columns for every record. Cached projections are
// shared, so callers must not modify Points.
type Projection struct {
	X       string            `json:"x"`
	Y       string            `json:"y"`
	Points  []ProjectionPoint `json:"points"`
	Pearson evaluation.Metric `json:"pearson"`
}

type projectionKey struct {
	x, y int
}

// Correlation projects every record onto columns x and y. It only reads the
// dataset, so it is served in either state.
func (s *Service) Correlation(x, y string) (*Projection, error) {
	xi, ok := resolveColumn(x)
	if !ok {
		return nil, &UnknownFeatureError{Name: x}
	}
	yi, ok := resolveColumn(y)
	if !ok {
		return nil, &UnknownFeatureError{Name: y}
	}

	key := projectionKey{x: xi, y: yi}
	if s.cache != nil {
		if p, ok := s.cache.Get(key); ok {
			return p, nil
		}
	}

	columns := ml.Columns()
	n := s.dataset.Len()
	xs := make([]float64, n)
	ys := make([]float64, n)
	points := make([]ProjectionPoint, n)
	for i := 0; i < n; i++ {
		record := s.dataset.Record(i)
		xs[i] = record.Column(xi)
		ys[i] = record.Column(yi)
		points[i] = ProjectionPoint{X: xs[i], Y: ys[i], Label: record.Label}
	}

	p := &Projection{
		X:       columns[xi],
		Y:       columns[yi],
		Points:  points,
		Pearson: pearson(xs, ys),
	}
	if s.cache != nil {
		s.cache.Add(key, p)
	}
	return p, nil
}

func pearson(x, y []float64) evaluation.Metric {
	if len(x) < 2 {
		return evaluation.Undefined
	}
	return evaluation.Metric(stat.Correlation(x, y, nil))
}

// CorrelationMatrix is the Pearson matrix over every column.
type CorrelationMatrix struct {
	Columns []string              `json:"columns"`
	Values  [][]evaluation.Metric `json:"values"`
}

// CorrelationMatrix is computed on first use and then reused.
func (s *Service) CorrelationMatrix() *CorrelationMatrix {
	s.matrixOnce.Do(func() {
		s.matrix = computeMatrix(s.dataset)
	})
	return s.matrix
}

func computeMatrix(ds *ml.Dataset) *CorrelationMatrix {
	columns := ml.Columns()
	k := len(columns)
	values := make([][]evaluation.Metric, k)
	for i := range values {
		values[i] = make([]evaluation.Metric, k)
		for j := range values[i] {
			values[i][j] = evaluation.Undefined
		}
	}

	n := ds.Len()
	if n >= 2 {
		data := mat.NewDense(n, k, nil)
		for i := 0; i < n; i++ {
			record := ds.Record(i)
			for j := 0; j < k; j++ {
				data.Set(i, j, record.Column(j))
			}
		}
		corr := mat.NewSymDense(k, nil)
		stat.CorrelationMatrix(corr, data, nil)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				values[i][j] = evaluation.Metric(corr.At(i, j))
			}
		}
	}
	return &CorrelationMatrix{Columns: columns, Values: values}
}
