package client

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/Brownie44l1/fire-api/internal/handlers"
	"github.com/Brownie44l1/fire-api/internal/logger"
	"github.com/Brownie44l1/fire-api/internal/model"
	"github.com/Brownie44l1/fire-api/internal/predict"
	"github.com/Brownie44l1/fire-api/internal/render"
)

func newTestAPI(t *testing.T) *Client {
	t.Helper()
	log := logger.Discard().WithField("component", "test")
	handle, err := model.Load(context.Background(), log, model.EmergencyStrategy())
	require.NoError(t, err)

	svc := predict.NewService(handle, render.New(render.TagMetrics, render.BannerMetrics), 0, log)
	srv := httptest.NewServer(handlers.NewHandler(svc, handle, handlers.Options{}, log).Routes())
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 9))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestClient_Info(t *testing.T) {
	c := newTestAPI(t)

	info, err := c.Info(context.Background())
	require.NoError(t, err)

	assert.Equal(t, true, info["model_loaded"])
	assert.Equal(t, model.TypeEmergency, info["model_type"])
}

func TestClient_Predict(t *testing.T) {
	c := newTestAPI(t)
	path := writeImage(t, t.TempDir(), "a.png")

	res, err := c.Predict(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.NotEmpty(t, res.Predictions)
}

func TestClient_PredictVisualAndImage(t *testing.T) {
	c := newTestAPI(t)
	path := writeImage(t, t.TempDir(), "a.png")

	visual, err := c.PredictVisual(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, visual.HasVisualization)

	data, err := c.PredictImage(context.Background(), path)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 9), img.Bounds())
}

func TestClient_PredictBatch(t *testing.T) {
	c := newTestAPI(t)
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("plain words"), 0o644))

	items, err := c.PredictBatch(context.Background(), []string{
		writeImage(t, dir, "a.png"),
		text,
		writeImage(t, dir, "b.png"),
	})
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.NotNil(t, items[0].Prediction)
	assert.NotEmpty(t, items[1].Error)
	assert.Equal(t, "notes.txt", items[1].Filename)
	assert.NotNil(t, items[2].Prediction)
}

func TestClient_APIError(t *testing.T) {
	c := newTestAPI(t)
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("plain words"), 0o644))

	_, err := c.Predict(context.Background(), text)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "The file must be an image", apiErr.Detail)
}

func TestClient_UploadContentType(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, field := range []string{"file", "files"} {
			for _, fh := range r.MultipartForm.File[field] {
				got = append(got, fh.Header.Get("Content-Type"))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","results":[]}`))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 4)), nil))
	tif := filepath.Join(dir, "frame.tif")
	require.NoError(t, os.WriteFile(tif, buf.Bytes(), 0o644))

	c := New(srv.URL)
	_, err := c.Predict(context.Background(), tif)
	require.NoError(t, err)
	_, err = c.PredictImage(context.Background(), tif)
	require.NoError(t, err)
	_, err = c.PredictBatch(context.Background(), []string{tif, writeImage(t, dir, "a.png")})
	require.NoError(t, err)

	assert.Equal(t, []string{"image/tiff", "image/tiff", "image/tiff", "image/png"}, got)
}

func TestDecodeDataURI(t *testing.T) {
	data, err := DecodeDataURI("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = DecodeDataURI("hello")
	assert.Error(t, err)
}
