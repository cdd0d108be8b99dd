package model

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Backend turns a decoded RGB image into a RawOutput.
type Backend interface {
	Infer(ctx context.Context, img image.Image) (RawOutput, error)
	Close() error
}

// detectorBackend runs a YOLO-style graph and applies the confidence and
// overlap thresholds the upstream detector framework would apply.
type detectorBackend struct {
	runner        Runner
	inputSize     int
	confThreshold float64
	iouThreshold  float64
	log           *logrus.Entry
}

func (b *detectorBackend) Infer(ctx context.Context, img image.Image) (RawOutput, error) {
	in := toCHW(img, b.inputSize, unitMean, unitStd)
	in.DType = b.runner.InputType()

	outputs, err := b.runner.Run(ctx, in)
	if err != nil {
		return RawOutput{}, &InferenceError{Err: err}
	}
	if len(outputs) == 0 {
		return RawOutput{Kind: RawUnknown}, nil
	}

	bounds := img.Bounds()
	boxes, err := decodeDetections(outputs[0], b.inputSize, bounds.Dx(), bounds.Dy(), b.confThreshold, b.iouThreshold)
	if err != nil {
		b.log.WithError(err).Warn("Unrecognized detector output")
		return RawOutput{Kind: RawUnknown}, nil
	}

	return RawOutput{Kind: RawBoxes, Boxes: boxes}, nil
}

func (b *detectorBackend) Close() error {
	return b.runner.Close()
}

// classifierBackend runs a graph emitting one score vector per image,
// optionally through a linear head sitting on top of backbone features.
type classifierBackend struct {
	runner     Runner
	inputSize  int
	dtype      DType
	head       *LinearHead
	activation Activation
	log        *logrus.Entry
}

// newClassifierBackend feeds the runner its declared input dtype.
func newClassifierBackend(runner Runner, inputSize int, head *LinearHead, act Activation, log *logrus.Entry) *classifierBackend {
	return &classifierBackend{
		runner:     runner,
		inputSize:  inputSize,
		dtype:      runner.InputType(),
		head:       head,
		activation: act,
		log:        log,
	}
}

func (b *classifierBackend) Infer(ctx context.Context, img image.Image) (RawOutput, error) {
	in := toCHW(img, b.inputSize, imageNetMean, imageNetStd)
	in.DType = b.dtype

	outputs, err := b.runner.Run(ctx, in)
	if isDTypeMismatch(err) {
		want := b.runner.InputType()
		var mismatch *DTypeMismatchError
		if errors.As(err, &mismatch) {
			want = mismatch.Want
		}
		if want == in.DType {
			return RawOutput{}, &InferenceError{Err: err}
		}
		b.log.WithFields(logrus.Fields{"from": in.DType, "to": want}).Warn("Input dtype rejected, retrying with model dtype")
		in.DType = want
		outputs, err = b.runner.Run(ctx, in)
	}
	if err != nil {
		return RawOutput{}, &InferenceError{Err: err}
	}

	if b.head != nil {
		if len(outputs) == 0 {
			return RawOutput{Kind: RawUnknown}, nil
		}
		scores := b.head.Apply(firstItem(outputs[0]))
		outputs = []Tensor{{Shape: []int64{1, int64(len(scores))}, Data: scores}}
	}

	return RawOutput{
		Kind:       RawScores,
		Outputs:    outputs,
		Activation: b.activation,
		InputDType: in.DType.String(),
	}, nil
}

func (b *classifierBackend) Close() error {
	return b.runner.Close()
}

// emergencyBackend keeps the service answering when no model artifact can
// be loaded: channel-wise average pooling followed by an untrained head.
type emergencyBackend struct {
	head *LinearHead
}

func newEmergencyBackend() *emergencyBackend {
	return &emergencyBackend{head: NewZeroHead(3, 2)}
}

func (b *emergencyBackend) Infer(ctx context.Context, img image.Image) (RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return RawOutput{}, &InferenceError{Err: err}
	}

	in := toCHW(img, ClassifierInputSize, imageNetMean, imageNetStd)
	plane := len(in.Data) / 3
	features := make([]float32, 3)
	for c := 0; c < 3; c++ {
		var sum float32
		for _, v := range in.Data[c*plane : (c+1)*plane] {
			sum += v
		}
		features[c] = sum / float32(plane)
	}

	scores := b.head.Apply(features)
	return RawOutput{
		Kind:       RawScores,
		Outputs:    []Tensor{{Shape: []int64{1, int64(len(scores))}, Data: scores}},
		Activation: Logits,
		InputDType: Float32.String(),
	}, nil
}

func (b *emergencyBackend) Close() error {
	return nil
}

// firstItem flattens the first batch entry of t.
func firstItem(t Tensor) []float32 {
	if len(t.Shape) == 0 || t.Shape[0] <= 1 {
		return t.Data
	}
	per := len(t.Data) / int(t.Shape[0])
	return t.Data[:per]
}
