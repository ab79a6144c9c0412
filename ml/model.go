package ml

import (
	"fmt"
	"math"
)

// Classifier fits a Model from a training dataset.
type Classifier interface {
	Fit(train *Dataset) (*Model, error)
}

// Model is a fitted linear log-odds model. It is immutable once returned by Fit
// and safe for concurrent use.
type Model struct {
	weights    [FeatureCount]float64
	bias       float64
	iterations int
	converged  bool
	trainSize  int
}

// ModelSummary is the JSON view of a Model.
type ModelSummary struct {
	Weights    map[string]float64 `json:"weights"`
	Bias       float64            `json:"bias"`
	Iterations int                `json:"iterations"`
	Converged  bool               `json:"converged"`
	TrainSize  int                `json:"train_size"`
}

// DecisionScore returns the log-odds of class 1.
func (m *Model) DecisionScore(features []float64) (float64, error) {
	if len(features) != FeatureCount {
		return 0, fmt.Errorf("expected %d features, got %d", FeatureCount, len(features))
	}
	score := m.bias
	for i, value := range features {
		score += m.weights[i] * value
	}
	return score, nil
}

// PredictProba returns the estimated probability of class 1.
func (m *Model) PredictProba(features []float64) (float64, error) {
	score, err := m.DecisionScore(features)
	if err != nil {
		return 0, err
	}
	return sigmoid(score), nil
}

// Predict returns 1 when the probability of class 1 exceeds 0.5.
func (m *Model) Predict(features []float64) (int, error) {
	score, err := m.DecisionScore(features)
	if err != nil {
		return 0, err
	}
	if score > 0 {
		return LabelGood, nil
	}
	return LabelBad, nil
}

// Coefficients returns the weights in canonical feature order.
func (m *Model) Coefficients() []float64 {
	return append([]float64(nil), m.weights[:]...)
}

func (m *Model) Bias() float64 { return m.bias }

func (m *Model) Converged() bool { return m.converged }

func (m *Model) Iterations() int { return m.iterations }

func (m *Model) Summary() ModelSummary {
	weights := make(map[string]float64, FeatureCount)
	for i, name := range featureNames {
		weights[name] = m.weights[i]
	}
	return ModelSummary{
		Weights:    weights,
		Bias:       m.bias,
		Iterations: m.iterations,
		Converged:  m.converged,
		TrainSize:  m.trainSize,
	}
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// log1pExp computes log(1 + e^z) without overflow.
func log1pExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
