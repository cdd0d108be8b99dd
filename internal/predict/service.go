package predict

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/fire-api/internal/detection"
	"github.com/Brownie44l1/fire-api/internal/model"
	"github.com/Brownie44l1/fire-api/internal/render"
)

// DefaultMaxBatch is the largest batch PredictBatch accepts by default.
const DefaultMaxBatch = 10

// Model is the part of a loaded model the service uses. *model.Handle
// implements it.
type Model interface {
	Infer(ctx context.Context, img image.Image) (model.RawOutput, error)
	Labels() model.Labels
	Info() model.ModelInfo
}

// Renderer draws detections onto a copy of an image.
type Renderer interface {
	Render(img image.Image, dets []detection.Detection) *image.NRGBA
}

// Result is the data-mode response.
type Result struct {
	Status      string                `json:"status"`
	Predictions []detection.Detection `json:"predictions"`
	ModelInfo   model.ModelInfo       `json:"model_info"`
}

// VisualResult is a Result with the annotated image embedded as a data
// URI. AnnotatedImage is nil when nothing was drawn.
type VisualResult struct {
	Result
	AnnotatedImage    *string                 `json:"annotated_image"`
	HasVisualization  bool                    `json:"has_visualization"`
	VisualizationType detection.Visualization `json:"visualization_type"`
}

// Upload is one file of a batch. Err is set when the file could not be
// read from the request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	Err         error
}

// BatchItem is one entry of a batch response; exactly one of Prediction
// and Error is set.
type BatchItem struct {
	FileIndex  int     `json:"file_index"`
	Filename   string  `json:"filename"`
	Prediction *Result `json:"prediction,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Service runs the decode, infer, normalize and render pipeline. The model
// and renderer are shared read-only by all requests.
type Service struct {
	model    Model
	renderer Renderer
	maxBatch int
	log      *logrus.Entry
}

// NewService wires a model and renderer. maxBatch <= 0 means
// DefaultMaxBatch.
func NewService(m Model, r Renderer, maxBatch int, log *logrus.Entry) *Service {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Service{model: m, renderer: r, maxBatch: maxBatch, log: log}
}

// MaxBatch is the batch size limit.
func (s *Service) MaxBatch() int {
	return s.maxBatch
}

// Predict returns the normalized detections for img.
func (s *Service) Predict(ctx context.Context, img image.Image) (*Result, error) {
	raw, err := s.model.Infer(ctx, img)
	if err != nil {
		return nil, err
	}

	info := s.model.Info()
	info.InputDType = raw.InputDType

	return &Result{
		Status:      "success",
		Predictions: detection.Normalize(raw, s.model.Labels()),
		ModelInfo:   info,
	}, nil
}

// PredictVisual is Predict plus an annotated PNG when a box or a confident
// classification qualifies.
func (s *Service) PredictVisual(ctx context.Context, img image.Image) (*VisualResult, error) {
	res, err := s.Predict(ctx, img)
	if err != nil {
		return nil, err
	}

	out := &VisualResult{
		Result:            *res,
		VisualizationType: detection.VisualizationFor(res.Predictions),
	}
	if out.VisualizationType == detection.VisualizationNone {
		return out, nil
	}

	uri, err := render.DataURI(s.renderer.Render(img, res.Predictions))
	if err != nil {
		return nil, err
	}
	out.AnnotatedImage = &uri
	out.HasVisualization = true
	return out, nil
}

// PredictImage returns the annotated image as PNG, or the source image
// when nothing qualifies.
func (s *Service) PredictImage(ctx context.Context, img image.Image) ([]byte, *Result, error) {
	res, err := s.Predict(ctx, img)
	if err != nil {
		return nil, nil, err
	}

	var out image.Image = img
	if detection.VisualizationFor(res.Predictions) != detection.VisualizationNone {
		out = s.renderer.Render(img, res.Predictions)
	}
	data, err := render.EncodePNG(out)
	if err != nil {
		return nil, nil, err
	}
	return data, res, nil
}

// PredictBatch predicts every upload independently. Entries keep the
// upload order; a failed upload becomes an error entry.
func (s *Service) PredictBatch(ctx context.Context, uploads []Upload) ([]BatchItem, error) {
	if len(uploads) > s.maxBatch {
		return nil, errors.WithMessagef(ErrBatchTooLarge, "at most %d images per batch, got %d", s.maxBatch, len(uploads))
	}

	items := make([]BatchItem, len(uploads))
	for i, u := range uploads {
		items[i] = BatchItem{FileIndex: i, Filename: u.Filename}

		res, err := s.predictUpload(ctx, u)
		if err != nil {
			itemErr := &BatchItemError{Index: i, Filename: u.Filename, Err: err}
			s.log.WithError(itemErr).Warn("Batch item failed")
			items[i].Error = batchMessage(err)
			continue
		}
		items[i].Prediction = res
	}
	return items, nil
}

func (s *Service) predictUpload(ctx context.Context, u Upload) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	if u.Err != nil {
		return nil, u.Err
	}
	if err := CheckContentType(u.ContentType, u.Data); err != nil {
		return nil, err
	}
	img, _, err := Decode(u.Data)
	if err != nil {
		return nil, err
	}
	return s.Predict(ctx, img)
}

func batchMessage(err error) string {
	var invalid *InvalidInputError
	if errors.As(err, &invalid) && invalid.Err == nil {
		return "not a valid image: " + invalid.Reason
	}
	return err.Error()
}
