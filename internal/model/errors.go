package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoStrategies is returned by Load when called without any strategy.
var ErrNoStrategies = errors.New("no model loading strategies configured")

// ModelLoadError records why one loading tier was skipped.
type ModelLoadError struct {
	Tier string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load %s model: %v", e.Tier, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// InferenceError is a backend failure that survived the dtype retry.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// DTypeMismatchError is what a Runner returns when the input element type
// does not match the graph.
type DTypeMismatchError struct {
	Got  DType
	Want DType
}

func (e *DTypeMismatchError) Error() string {
	return fmt.Sprintf("input dtype %s does not match model dtype %s", e.Got, e.Want)
}

// ONNX Runtime reports type mismatches as plain strings.
var dtypeMismatchMarkers = []string{
	"unexpected input data type",
	"should be the same",
	"type mismatch",
}

func isDTypeMismatch(err error) bool {
	if err == nil {
		return false
	}
	var mismatch *DTypeMismatchError
	if errors.As(err, &mismatch) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range dtypeMismatchMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
