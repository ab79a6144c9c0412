package service

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned by operations that need a model before one has
// been published.
var ErrUnavailable = errors.New("service unavailable: model is not ready")

// UnknownFeatureError names a column that is not in the dataset.
type UnknownFeatureError struct {
	Name string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q", e.Name)
}

// InvalidInputError rejects a prediction request field. Values are never
// coerced or guessed.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}
