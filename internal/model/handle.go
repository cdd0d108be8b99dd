package model

import (
	"context"
	"image"
)

// Handle is the loaded model. It is built once at startup, never mutated
// afterwards and shared by all requests.
type Handle struct {
	variant    Variant
	tier       string
	labels     Labels
	backend    Backend
	device     string
	path       string
	modelType  string
	framework  string
	modelDType DType
	inputSize  int

	configuredPath string
}

// IsDetectorStyle reports whether Infer yields boxes rather than scores.
func (h *Handle) IsDetectorStyle() bool {
	return h.variant == VariantDetector
}

// Variant is the backend family chosen at load time.
func (h *Handle) Variant() Variant {
	return h.variant
}

// Tier names the loading strategy that produced the handle.
func (h *Handle) Tier() string {
	return h.tier
}

// Labels is the class label table of the model.
func (h *Handle) Labels() Labels {
	return h.labels
}

// Device is the execution device.
func (h *Handle) Device() string {
	return h.device
}

// Path is the model artifact the handle was loaded from.
func (h *Handle) Path() string {
	return h.path
}

// InputSize is the square input resolution of the model.
func (h *Handle) InputSize() int {
	return h.inputSize
}

// Info describes the model for prediction payloads. ModelPath is the
// configured model path when one was given, whichever tier loaded.
func (h *Handle) Info() ModelInfo {
	info := ModelInfo{
		Device:    h.device,
		ModelType: h.modelType,
		ModelPath: h.path,
		Framework: h.framework,
	}
	if h.configuredPath != "" {
		info.ModelPath = h.configuredPath
	}
	if !h.IsDetectorStyle() {
		info.ModelDType = h.modelDType.String()
	}
	return info
}

// Infer runs the backend on an RGB image.
func (h *Handle) Infer(ctx context.Context, img image.Image) (RawOutput, error) {
	return h.backend.Infer(ctx, img)
}

// Close releases backend resources.
func (h *Handle) Close() error {
	return h.backend.Close()
}
