package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/fire-api/internal/model"
	"github.com/Brownie44l1/fire-api/internal/predict"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Predictor runs predictions. *predict.Service implements it.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) (*predict.Result, error)
	PredictVisual(ctx context.Context, img image.Image) (*predict.VisualResult, error)
	PredictImage(ctx context.Context, img image.Image) ([]byte, *predict.Result, error)
	PredictBatch(ctx context.Context, uploads []predict.Upload) ([]predict.BatchItem, error)
}

// ModelView describes the loaded model. *model.Handle implements it.
type ModelView interface {
	Labels() model.Labels
	Device() string
	InputSize() int
	Info() model.ModelInfo
	Tier() string
	Variant() model.Variant
}

// Options sets request limits and allowed CORS origins.
type Options struct {
	MaxUploadMB    int64
	MaxBatch       int
	AllowedOrigins []string
}

// Handler serves the HTTP API.
type Handler struct {
	predictor Predictor
	model     ModelView
	opts      Options
	log       *logrus.Entry
}

// NewHandler builds the API handler. mdl may be nil when no model is
// loaded.
func NewHandler(predictor Predictor, mdl ModelView, opts Options, log *logrus.Entry) *Handler {
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 10
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = predict.DefaultMaxBatch
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{
		predictor: predictor,
		model:     mdl,
		opts:      opts,
		log:       log,
	}
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Fire and smoke detection API",
		"status":  "running",
		"version": Version,
		"endpoints": map[string]string{
			"/":               "API information",
			"/health":         "Server health",
			"/model-info":     "Loaded model information",
			"/predict":        "Prediction (JSON)",
			"/predict-visual": "Prediction with a base64 annotated image",
			"/predict-image":  "Annotated PNG image",
			"/predict-batch":  "Batch prediction",
			"/debug-model":    "Detailed model information for debugging",
		},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": h.model != nil,
		"device":       h.device(),
	})
}

func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.modelInfo())
}

func (h *Handler) DebugModel(w http.ResponseWriter, r *http.Request) {
	info := h.modelInfo()
	if h.model == nil {
		info["model_path_exists"] = false
		writeJSON(w, http.StatusOK, info)
		return
	}

	mi := h.model.Info()
	_, statErr := os.Stat(mi.ModelPath)
	info["model_path_exists"] = mi.ModelPath != "" && statErr == nil
	info["tier"] = h.model.Tier()
	info["variant"] = h.model.Variant().String()
	info["model_dtype"] = mi.ModelDType
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) modelInfo() map[string]any {
	if h.model == nil {
		return map[string]any{
			"device":       h.device(),
			"model_loaded": false,
			"num_classes":  0,
			"class_names":  []string{},
			"model_type":   "not_loaded",
		}
	}
	mi := h.model.Info()
	labels := h.model.Labels()
	size := h.model.InputSize()
	return map[string]any{
		"device":       h.device(),
		"model_loaded": true,
		"num_classes":  labels.Len(),
		"class_names":  labels.Names(),
		"input_size":   []int{size, size},
		"framework":    mi.Framework,
		"model_type":   mi.ModelType,
		"model_path":   mi.ModelPath,
	}
}

func (h *Handler) device() string {
	if h.model == nil {
		return "not_initialized"
	}
	return h.model.Device()
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	img, ok := h.readImage(w, r)
	if !ok {
		return
	}
	res, err := h.predictor.Predict(r.Context(), img)
	if err != nil {
		h.predictionFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) PredictVisual(w http.ResponseWriter, r *http.Request) {
	img, ok := h.readImage(w, r)
	if !ok {
		return
	}
	res, err := h.predictor.PredictVisual(r.Context(), img)
	if err != nil {
		h.predictionFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) PredictImage(w http.ResponseWriter, r *http.Request) {
	img, ok := h.readImage(w, r)
	if !ok {
		return
	}
	data, _, err := h.predictor.PredictImage(r.Context(), img)
	if err != nil {
		h.predictionFailed(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", "inline; filename=detections.png")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided. Use 'files' as the form field name")
		return
	}

	uploads := make([]predict.Upload, len(headers))
	for i, fh := range headers {
		uploads[i] = readUpload(fh)
	}

	items, err := h.predictor.PredictBatch(r.Context(), uploads)
	if errors.Is(err, predict.ErrBatchTooLarge) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.predictionFailed(w, r, err)
		return
	}
	logFor(r, h.log).WithField("files", len(items)).Info("Batch processed")
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

func readUpload(fh *multipart.FileHeader) predict.Upload {
	u := predict.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
	}
	f, err := fh.Open()
	if err != nil {
		u.Err = err
		return u
	}
	defer f.Close()
	u.Data, u.Err = io.ReadAll(f)
	return u
}

// Form fields accepted for a single upload, in lookup order.
var fileFields = []string{"file", "image"}

// readImage pulls the single upload out of a multipart request, checks
// its content type and decodes it. It writes the error response itself.
func (h *Handler) readImage(w http.ResponseWriter, r *http.Request) (image.Image, bool) {
	if !h.parseForm(w, r) {
		return nil, false
	}

	var fh *multipart.FileHeader
	for _, field := range fileFields {
		if files := r.MultipartForm.File[field]; len(files) > 0 {
			fh = files[0]
			break
		}
	}
	if fh == nil {
		writeError(w, http.StatusBadRequest, "No file provided. Use 'file' as the form field name")
		return nil, false
	}

	u := readUpload(fh)
	if u.Err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return nil, false
	}
	if err := predict.CheckContentType(u.ContentType, u.Data); err != nil {
		writeError(w, http.StatusBadRequest, "The file must be an image")
		return nil, false
	}
	img, format, err := predict.Decode(u.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	logFor(r, h.log).WithFields(logrus.Fields{
		"file":   u.Filename,
		"bytes":  len(u.Data),
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("Received image")
	return img, true
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	perFile := h.opts.MaxUploadMB << 20
	// Room for one file past the batch limit so oversized batches get a
	// proper error instead of a truncated body.
	r.Body = http.MaxBytesReader(w, r.Body, perFile*int64(h.opts.MaxBatch+1))
	if err := r.ParseMultipartForm(perFile); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse multipart form")
		return false
	}
	return true
}

func (h *Handler) predictionFailed(w http.ResponseWriter, r *http.Request, err error) {
	logFor(r, h.log).WithError(err).Error("Prediction failed")
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error processing image: %v", err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
