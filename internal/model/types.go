package model

import "context"

// Variant is decided once when a model is loaded; downstream code switches
// on it instead of probing the backend.
type Variant int

const (
	VariantDetector Variant = iota
	VariantClassifier
	VariantEmergency
)

func (v Variant) String() string {
	switch v {
	case VariantDetector:
		return "detector"
	case VariantClassifier:
		return "classifier"
	case VariantEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// DType is the element type of a model input tensor.
type DType int

const (
	Float32 DType = iota
	Float16
	Float64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Tensor is a dense float tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Rank is the number of dimensions.
func (t Tensor) Rank() int {
	return len(t.Shape)
}

// Input is a single preprocessed image batch handed to a Runner.
type Input struct {
	Shape []int64
	Data  []float32
	DType DType
}

// Runner executes a model graph. Implementations must be safe for
// concurrent use.
type Runner interface {
	Run(ctx context.Context, in Input) ([]Tensor, error)
	// InputType is the element type the graph declares for its input.
	InputType() DType
	Close() error
}

// RawKind tells which shape of payload a backend produced.
type RawKind int

const (
	RawUnknown RawKind = iota
	RawBoxes
	RawScores
)

// Activation says whether classifier scores still need a softmax.
type Activation int

const (
	Logits Activation = iota
	Probabilities
)

// RawBox is one detector candidate in source image pixels.
type RawBox struct {
	X1, Y1, X2, Y2 float64
	Confidence     float64
	ClassIndex     int
}

// RawOutput is produced once per inference and consumed immediately by the
// normalizer.
type RawOutput struct {
	Kind  RawKind
	Boxes []RawBox
	// Outputs holds every tensor a classifier returned; only the first one
	// is meaningful.
	Outputs    []Tensor
	Activation Activation
	// InputDType is the element type actually fed to a classifier, after
	// any retry. Empty for detectors.
	InputDType string
}

// ModelInfo is the model description attached to every prediction.
type ModelInfo struct {
	Device     string `json:"device"`
	ModelType  string `json:"model_type"`
	ModelPath  string `json:"model_path"`
	Framework  string `json:"framework"`
	InputDType string `json:"input_dtype,omitempty"`
	ModelDType string `json:"model_dtype,omitempty"`
}
