package model

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Model types reported in ModelInfo.
const (
	TypeDetector   = "YOLO_Fire_Detection"
	TypeClassifier = "Checkpoint_Classifier"
	TypeBackbone   = "Backbone_Classifier"
	TypeEmergency  = "Emergency_Head"

	frameworkONNX = "onnxruntime"
	frameworkGo   = "go"
)

// Strategy is one loading tier. Load either returns a ready handle or an
// error that demotes to the next tier.
type Strategy struct {
	Name string
	Load func(ctx context.Context) (*Handle, error)
}

// Load tries strategies in order and returns the first handle that loads.
// The error lists every tier failure when none does.
func Load(ctx context.Context, log *logrus.Entry, strategies ...Strategy) (*Handle, error) {
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}

	var errs error
	for _, s := range strategies {
		handle, err := tryStrategy(ctx, s)
		if err == nil {
			handle.tier = s.Name
			log.WithFields(logrus.Fields{
				"tier":    s.Name,
				"variant": handle.variant,
				"path":    handle.path,
				"device":  handle.device,
				"classes": handle.labels.Names(),
			}).Info("Model loaded")
			return handle, nil
		}

		errs = multierr.Append(errs, &ModelLoadError{Tier: s.Name, Err: err})
		log.WithError(err).WithField("tier", s.Name).Warn("Model tier failed, trying next")

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, multierr.Append(errs, ctxErr)
		}
	}
	return nil, errs
}

func tryStrategy(ctx context.Context, s Strategy) (handle *Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			handle, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	handle, err = s.Load(ctx)
	if err == nil && handle == nil {
		err = errors.New("strategy returned no model")
	}
	return handle, err
}

// Sources lists the artifacts DefaultStrategies looks at.
type Sources struct {
	ModelPath     string
	Checkpoint    string
	Backbone      string
	Head          string
	ConfThreshold float64
	IOUThreshold  float64
}

// DefaultStrategies is the production chain: detector, checkpoint,
// backbone, emergency. Whichever tier loads reports src.ModelPath as its
// model path.
func DefaultStrategies(rt *Runtime, src Sources, log *logrus.Entry) []Strategy {
	strategies := []Strategy{
		DetectorStrategy(rt, src.ModelPath, src.ConfThreshold, src.IOUThreshold, log),
		CheckpointStrategy(rt, src.Checkpoint, src.ConfThreshold, src.IOUThreshold, log),
		BackboneStrategy(rt, src.Backbone, src.Head, log),
		EmergencyStrategy(),
	}
	for i := range strategies {
		strategies[i] = withConfiguredPath(strategies[i], src.ModelPath)
	}
	return strategies
}

func withConfiguredPath(s Strategy, path string) Strategy {
	load := s.Load
	s.Load = func(ctx context.Context) (*Handle, error) {
		handle, err := load(ctx)
		if handle != nil {
			handle.configuredPath = path
		}
		return handle, err
	}
	return s
}

// DetectorStrategy loads a detector exported with its class names and task
// in the ONNX metadata.
func DetectorStrategy(rt *Runtime, path string, conf, iou float64, log *logrus.Entry) Strategy {
	return Strategy{Name: "detector", Load: func(ctx context.Context) (*Handle, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "detector model")
		}
		meta, err := rt.Metadata(path, "names", "task")
		if err != nil {
			return nil, err
		}
		if task := meta["task"]; task != "" && task != "detect" {
			return nil, errors.Errorf("model task is %q, not detect", task)
		}

		labels := DefaultLabels()
		if names, ok := meta["names"]; ok {
			if labels, err = ParseLabels(names); err != nil {
				return nil, errors.Wrap(err, "model class names")
			}
		} else {
			log.WithField("path", path).Warn("No class names in model, using fallback")
		}

		runner, err := rt.Open(path)
		if err != nil {
			return nil, err
		}
		if rank := len(runner.OutputShape()); rank != 3 {
			runner.Close()
			return nil, errors.Errorf("detector output rank is %d, want 3", rank)
		}

		return &Handle{
			variant: VariantDetector,
			labels:  labels,
			backend: &detectorBackend{
				runner:        runner,
				inputSize:     DetectorInputSize,
				confThreshold: conf,
				iouThreshold:  iou,
				log:           log,
			},
			device:     rt.Device(),
			path:       path,
			modelType:  TypeDetector,
			framework:  frameworkONNX,
			modelDType: runner.InputType(),
			inputSize:  DetectorInputSize,
		}, nil
	}}
}

// CheckpointStrategy loads the model named by a manifest and takes class
// names from the manifest's recognized keys.
func CheckpointStrategy(rt *Runtime, path string, conf, iou float64, log *logrus.Entry) Strategy {
	return Strategy{Name: "checkpoint", Load: func(ctx context.Context) (*Handle, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "checkpoint manifest")
		}
		cp, err := readCheckpoint(path)
		if err != nil {
			return nil, err
		}
		labels := cp.Labels
		if !cp.HasLabels {
			labels = DefaultLabels()
			log.WithField("path", path).Warn("No class names in checkpoint, using fallback")
		}

		runner, err := rt.Open(cp.ModelPath)
		if err != nil {
			return nil, err
		}

		variant, err := checkpointVariant(cp.Task, len(runner.OutputShape()))
		if err != nil {
			runner.Close()
			return nil, err
		}

		handle := &Handle{
			variant:    variant,
			labels:     labels,
			device:     rt.Device(),
			path:       cp.ModelPath,
			framework:  frameworkONNX,
			modelDType: runner.InputType(),
		}
		if variant == VariantDetector {
			size := orDefault(cp.ImageSize, DetectorInputSize)
			handle.modelType = TypeDetector
			handle.inputSize = size
			handle.backend = &detectorBackend{
				runner:        runner,
				inputSize:     size,
				confThreshold: conf,
				iouThreshold:  iou,
				log:           log,
			}
			return handle, nil
		}

		size := orDefault(cp.ImageSize, ClassifierInputSize)
		handle.modelType = TypeClassifier
		handle.inputSize = size
		handle.backend = newClassifierBackend(runner, size, nil, cp.Activation, log)
		return handle, nil
	}}
}

func checkpointVariant(task string, outputRank int) (Variant, error) {
	switch task {
	case "detect":
		return VariantDetector, nil
	case "classify":
		return VariantClassifier, nil
	}
	switch outputRank {
	case 3:
		return VariantDetector, nil
	case 2:
		return VariantClassifier, nil
	default:
		return 0, errors.Errorf("cannot tell model style from output rank %d", outputRank)
	}
}

// BackboneStrategy puts a two-class linear head on a general-purpose
// classification backbone. The head weights come from headPath when it
// exists; otherwise the head is untrained.
func BackboneStrategy(rt *Runtime, backbonePath, headPath string, log *logrus.Entry) Strategy {
	return Strategy{Name: "backbone", Load: func(ctx context.Context) (*Handle, error) {
		if _, err := os.Stat(backbonePath); err != nil {
			return nil, errors.Wrap(err, "backbone model")
		}
		runner, err := rt.Open(backbonePath)
		if err != nil {
			return nil, err
		}

		features := featureWidth(runner.OutputShape())
		if features <= 0 {
			runner.Close()
			return nil, errors.Errorf("backbone output %v has no static feature width", runner.OutputShape())
		}

		labels := DefaultLabels()
		head, err := backboneHead(headPath, features, labels.Len(), log)
		if err != nil {
			runner.Close()
			return nil, err
		}

		return &Handle{
			variant: VariantClassifier,
			labels:  labels,
			backend: newClassifierBackend(runner, ClassifierInputSize, head, Logits, log),
			device:     rt.Device(),
			path:       backbonePath,
			modelType:  TypeBackbone,
			framework:  frameworkONNX,
			modelDType: runner.InputType(),
			inputSize:  ClassifierInputSize,
		}, nil
	}}
}

func backboneHead(path string, in, out int, log *logrus.Entry) (*LinearHead, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			head, err := LoadHead(path)
			if err != nil {
				return nil, err
			}
			if err := head.Validate(in); err != nil {
				return nil, err
			}
			if head.OutFeatures() != out {
				return nil, errors.Errorf("head scores %d classes, want %d", head.OutFeatures(), out)
			}
			return head, nil
		}
	}
	log.WithField("features", in).Warn("No trained head found, using an untrained one")
	return NewZeroHead(in, out), nil
}

// featureWidth is the per-item element count of a [batch, ...] shape.
func featureWidth(shape []int64) int {
	if len(shape) < 2 {
		return 0
	}
	width := 1
	for _, d := range shape[1:] {
		if d <= 0 {
			return 0
		}
		width *= int(d)
	}
	return width
}

// EmergencyStrategy always succeeds; it keeps the service up when no model
// artifact is usable.
func EmergencyStrategy() Strategy {
	return Strategy{Name: "emergency", Load: func(ctx context.Context) (*Handle, error) {
		return &Handle{
			variant:    VariantEmergency,
			labels:     DefaultLabels(),
			backend:    newEmergencyBackend(),
			device:     "cpu",
			modelType:  TypeEmergency,
			framework:  frameworkGo,
			modelDType: Float32,
			inputSize:  ClassifierInputSize,
		}, nil
	}}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
