package model

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// LinearHead is a dense layer applied on top of a backbone's features,
// out = W·x + b.
type LinearHead struct {
	Weights [][]float32 `json:"weights"`
	Bias    []float32   `json:"bias"`
}

// NewZeroHead returns an untrained head; every class scores the same.
func NewZeroHead(in, out int) *LinearHead {
	weights := make([][]float32, out)
	for i := range weights {
		weights[i] = make([]float32, in)
	}
	return &LinearHead{Weights: weights, Bias: make([]float32, out)}
}

// LoadHead reads a head saved as {"weights": [[...]], "bias": [...]}.
func LoadHead(path string) (*LinearHead, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read head")
	}
	var head LinearHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "parse head")
	}
	if len(head.Weights) == 0 {
		return nil, errors.New("head has no weights")
	}
	if err := head.Validate(len(head.Weights[0])); err != nil {
		return nil, err
	}
	return &head, nil
}

// InFeatures is the feature width the head consumes.
func (h *LinearHead) InFeatures() int {
	if len(h.Weights) == 0 {
		return 0
	}
	return len(h.Weights[0])
}

// OutFeatures is the number of classes the head scores.
func (h *LinearHead) OutFeatures() int {
	return len(h.Weights)
}

// Validate checks that every row consumes in features.
func (h *LinearHead) Validate(in int) error {
	if len(h.Bias) != len(h.Weights) {
		return errors.Errorf("head has %d rows but %d biases", len(h.Weights), len(h.Bias))
	}
	for i, row := range h.Weights {
		if len(row) != in {
			return errors.Errorf("head row %d has %d weights, want %d", i, len(row), in)
		}
	}
	return nil
}

// Apply scores features. Missing features count as zero.
func (h *LinearHead) Apply(features []float32) []float32 {
	out := make([]float32, len(h.Weights))
	for i, row := range h.Weights {
		sum := h.Bias[i]
		for j, w := range row {
			if j < len(features) {
				sum += w * features[j]
			}
		}
		out[i] = sum
	}
	return out
}
