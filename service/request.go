package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"golang.org/x/text/cases"

	"winequality/ml"
)

// PredictionRequest holds the 11 inputs in canonical feature order.
type PredictionRequest struct {
	values [ml.FeatureCount]float64
}

// Vector returns the inputs in canonical order.
func (r PredictionRequest) Vector() []float64 {
	return append([]float64(nil), r.values[:]...)
}

// Named returns the inputs keyed by canonical feature name.
func (r PredictionRequest) Named() map[string]float64 {
	out := make(map[string]float64, ml.FeatureCount)
	for i, name := range ml.FeatureNames() {
		out[name] = r.values[i]
	}
	return out
}

var featureKeys = func() map[string]int {
	keys := make(map[string]int, ml.FeatureCount+1)
	for i, name := range ml.Columns() {
		keys[normalizeName(name)] = i
	}
	return keys
}()

// normalizeName folds case and reads '_' and '-' as spaces, so "Fixed_Acidity",
// "fixed-acidity" and "fixed acidity" name the same column.
func normalizeName(name string) string {
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return strings.Join(strings.Fields(cases.Fold().String(name)), " ")
}

// resolveColumn maps a caller-supplied name to its index in ml.Columns.
func resolveColumn(name string) (int, bool) {
	idx, ok := featureKeys[normalizeName(name)]
	return idx, ok
}

// PredictionRequestFromVector validates a vector already in canonical order.
func PredictionRequestFromVector(values []float64) (PredictionRequest, error) {
	var req PredictionRequest
	if len(values) != ml.FeatureCount {
		return req, &InvalidInputError{Reason: fmt.Sprintf("expected %d values, got %d", ml.FeatureCount, len(values))}
	}
	names := ml.FeatureNames()
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return req, &InvalidInputError{Field: names[i], Reason: "value must be a finite number"}
		}
		req.values[i] = v
	}
	return req, nil
}

// NewPredictionRequest builds a request from named values. Each of the 11
// features must appear exactly once as a finite number.
func NewPredictionRequest(fields map[string]interface{}) (PredictionRequest, error) {
	pairs := make([]field, 0, len(fields))
	for name, value := range fields {
		pairs = append(pairs, field{name: name, value: value})
	}
	return buildRequest(pairs)
}

// ParsePredictionRequest decodes a JSON object of named numbers. Repeated
// keys are rejected rather than resolved by position.
func ParsePredictionRequest(body []byte) (PredictionRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return PredictionRequest{}, &InvalidInputError{Reason: "body is not valid JSON"}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return PredictionRequest{}, &InvalidInputError{Reason: "body must be a JSON object"}
	}

	var pairs []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return PredictionRequest{}, &InvalidInputError{Reason: "body is not valid JSON"}
		}
		name, _ := tok.(string)
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return PredictionRequest{}, &InvalidInputError{Field: name, Reason: "value is not valid JSON"}
		}
		pairs = append(pairs, field{name: name, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return PredictionRequest{}, &InvalidInputError{Reason: "body is not valid JSON"}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return PredictionRequest{}, &InvalidInputError{Reason: "unexpected data after JSON object"}
	}
	return buildRequest(pairs)
}

type field struct {
	name  string
	value interface{}
}

func buildRequest(pairs []field) (PredictionRequest, error) {
	var req PredictionRequest
	var seen [ml.FeatureCount]bool
	names := ml.FeatureNames()

	for _, f := range pairs {
		idx, ok := resolveColumn(f.name)
		if !ok || idx >= ml.FeatureCount {
			return req, &InvalidInputError{Field: f.name, Reason: "not a model input"}
		}
		if seen[idx] {
			return req, &InvalidInputError{Field: names[idx], Reason: "given more than once"}
		}
		v, err := numericValue(f.value)
		if err != nil {
			return req, &InvalidInputError{Field: names[idx], Reason: err.Error()}
		}
		req.values[idx] = v
		seen[idx] = true
	}

	for i, ok := range seen {
		if !ok {
			return req, &InvalidInputError{Field: names[i], Reason: "missing"}
		}
	}
	return req, nil
}

func numericValue(value interface{}) (float64, error) {
	var v float64
	switch n := value.(type) {
	case nil:
		return 0, errors.New("value is null")
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("value %q is not a number", n.String())
		}
		v = f
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	default:
		return 0, fmt.Errorf("value of type %T is not a number", value)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value must be a finite number")
	}
	return v, nil
}
