package model

import (
	"context"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/fire-api/internal/logger"
)

type fakeRunner struct {
	dtype   DType
	outputs []Tensor
	err     error
	calls   []DType
}

func (f *fakeRunner) Run(_ context.Context, in Input) ([]Tensor, error) {
	f.calls = append(f.calls, in.DType)
	if in.DType != f.dtype {
		return nil, &DTypeMismatchError{Got: in.DType, Want: f.dtype}
	}
	return f.outputs, f.err
}

func (f *fakeRunner) InputType() DType { return f.dtype }
func (f *fakeRunner) Close() error     { return nil }

func testLog() *logrus.Entry {
	return logger.Discard().WithField("component", "test")
}

func TestClassifierBackend_Scores(t *testing.T) {
	runner := &fakeRunner{
		dtype:   Float32,
		outputs: []Tensor{{Shape: []int64{1, 2}, Data: []float32{0.3, 1.2}}},
	}
	b := &classifierBackend{runner: runner, inputSize: 8, dtype: Float32, log: testLog()}

	raw, err := b.Infer(context.Background(), solidImage(10, 10, color.White))
	require.NoError(t, err)
	assert.Equal(t, RawScores, raw.Kind)
	assert.Equal(t, Logits, raw.Activation)
	assert.Equal(t, "float32", raw.InputDType)
	require.Len(t, raw.Outputs, 1)
	assert.Equal(t, []float32{0.3, 1.2}, raw.Outputs[0].Data)
	assert.Equal(t, []DType{Float32}, runner.calls)
}

func TestClassifierBackend_RetriesOnDTypeMismatch(t *testing.T) {
	runner := &fakeRunner{
		dtype:   Float16,
		outputs: []Tensor{{Shape: []int64{1, 2}, Data: []float32{0, 1}}},
	}
	b := &classifierBackend{runner: runner, inputSize: 8, dtype: Float32, log: testLog()}

	raw, err := b.Infer(context.Background(), solidImage(10, 10, color.White))
	require.NoError(t, err)
	assert.Equal(t, []DType{Float32, Float16}, runner.calls)
	assert.Equal(t, "float16", raw.InputDType)
}

func TestClassifierBackend_UsesRunnerDType(t *testing.T) {
	runner := &fakeRunner{
		dtype:   Float16,
		outputs: []Tensor{{Shape: []int64{1, 2}, Data: []float32{0.4, 0.6}}},
	}
	b := newClassifierBackend(runner, 8, nil, Probabilities, testLog())

	for i := 0; i < 3; i++ {
		raw, err := b.Infer(context.Background(), solidImage(4, 4, color.White))
		require.NoError(t, err)
		assert.Equal(t, "float16", raw.InputDType)
	}
	assert.Equal(t, []DType{Float16, Float16, Float16}, runner.calls)
}

type stringMismatchRunner struct {
	fakeRunner
}

func (s *stringMismatchRunner) Run(ctx context.Context, in Input) ([]Tensor, error) {
	s.calls = append(s.calls, in.DType)
	if in.DType != s.dtype {
		return nil, errors.New("Unexpected input data type. Actual: (tensor(float)) , expected: (tensor(double))")
	}
	return s.outputs, nil
}

func TestClassifierBackend_RetriesOnRuntimeMessage(t *testing.T) {
	runner := &stringMismatchRunner{fakeRunner{
		dtype:   Float64,
		outputs: []Tensor{{Shape: []int64{1, 2}, Data: []float32{0, 1}}},
	}}
	b := &classifierBackend{runner: runner, inputSize: 8, dtype: Float32, log: testLog()}

	_, err := b.Infer(context.Background(), solidImage(4, 4, color.Black))
	require.NoError(t, err)
	assert.Equal(t, []DType{Float32, Float64}, runner.calls)
}

func TestClassifierBackend_OtherFailureIsInferenceError(t *testing.T) {
	runner := &fakeRunner{dtype: Float32, err: errors.New("out of memory")}
	b := &classifierBackend{runner: runner, inputSize: 8, dtype: Float32, log: testLog()}

	_, err := b.Infer(context.Background(), solidImage(4, 4, color.Black))
	var inferErr *InferenceError
	require.ErrorAs(t, err, &inferErr)
	assert.Len(t, runner.calls, 1)
}

func TestClassifierBackend_RetryOnlyOnce(t *testing.T) {
	b := &classifierBackend{runner: alwaysMismatch{}, inputSize: 8, dtype: Float32, log: testLog()}

	_, err := b.Infer(context.Background(), solidImage(4, 4, color.Black))
	var inferErr *InferenceError
	require.ErrorAs(t, err, &inferErr)
}

type alwaysMismatch struct{}

func (alwaysMismatch) Run(context.Context, Input) ([]Tensor, error) {
	return nil, errors.New("tensor types should be the same")
}
func (alwaysMismatch) InputType() DType { return Float16 }
func (alwaysMismatch) Close() error     { return nil }

func TestClassifierBackend_Head(t *testing.T) {
	runner := &fakeRunner{
		dtype:   Float32,
		outputs: []Tensor{{Shape: []int64{1, 3}, Data: []float32{1, 2, 3}}},
	}
	head := &LinearHead{Weights: [][]float32{{1, 0, 0}, {0, 0, 1}}, Bias: []float32{0, 0}}
	b := &classifierBackend{runner: runner, inputSize: 8, dtype: Float32, head: head, log: testLog()}

	raw, err := b.Infer(context.Background(), solidImage(4, 4, color.Black))
	require.NoError(t, err)
	require.Len(t, raw.Outputs, 1)
	assert.Equal(t, []int64{1, 2}, raw.Outputs[0].Shape)
	assert.Equal(t, []float32{1, 3}, raw.Outputs[0].Data)
}

func TestDetectorBackend(t *testing.T) {
	runner := &fakeRunner{
		dtype: Float32,
		outputs: []Tensor{yoloOutput([][]float32{
			{320, 320, 64, 64, 0.2, 0.8},
			{0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0},
			{0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0},
		})},
	}
	b := &detectorBackend{runner: runner, inputSize: 640, confThreshold: 0.25, iouThreshold: 0.45, log: testLog()}

	raw, err := b.Infer(context.Background(), solidImage(320, 320, color.White))
	require.NoError(t, err)
	assert.Equal(t, RawBoxes, raw.Kind)
	require.Len(t, raw.Boxes, 1)
	assert.Equal(t, 1, raw.Boxes[0].ClassIndex)
	assert.InDelta(t, 144, raw.Boxes[0].X1, 1e-3)
	assert.InDelta(t, 176, raw.Boxes[0].X2, 1e-3)
}

func TestDetectorBackend_UnrecognizedOutput(t *testing.T) {
	runner := &fakeRunner{dtype: Float32, outputs: []Tensor{{Shape: []int64{1, 2}, Data: []float32{1, 2}}}}
	b := &detectorBackend{runner: runner, inputSize: 640, confThreshold: 0.25, iouThreshold: 0.45, log: testLog()}

	raw, err := b.Infer(context.Background(), solidImage(4, 4, color.White))
	require.NoError(t, err)
	assert.Equal(t, RawUnknown, raw.Kind)
}

func TestEmergencyBackend(t *testing.T) {
	b := newEmergencyBackend()

	raw, err := b.Infer(context.Background(), solidImage(50, 30, color.RGBA{R: 200, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, RawScores, raw.Kind)
	require.Len(t, raw.Outputs, 1)
	assert.Equal(t, []int64{1, 2}, raw.Outputs[0].Shape)
	// untrained head scores both classes equally
	assert.Equal(t, raw.Outputs[0].Data[0], raw.Outputs[0].Data[1])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Infer(ctx, solidImage(4, 4, color.White))
	assert.Error(t, err)
}
