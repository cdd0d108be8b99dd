package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/Brownie44l1/fire-api/internal/predict"
)

const reqTimeout = time.Minute

// Client talks to the detection API.
type Client struct {
	*resty.Client
}

// New returns a client for the API at baseURL. Requests are not retried;
// upload readers are consumed by the first attempt.
func New(baseURL string) *Client {
	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(reqTimeout)
	return &Client{Client: r}
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Info fetches /model-info.
func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	resp, err := c.R().SetContext(ctx).SetResult(&out).SetError(&errorBody{}).Get("/model-info")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// Predict uploads one image to /predict.
func (c *Client) Predict(ctx context.Context, path string) (*predict.Result, error) {
	var out predict.Result
	if err := c.upload(ctx, "/predict", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PredictVisual uploads one image to /predict-visual.
func (c *Client) PredictVisual(ctx context.Context, path string) (*predict.VisualResult, error) {
	var out predict.VisualResult
	if err := c.upload(ctx, "/predict-visual", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PredictImage uploads one image to /predict-image and returns the PNG.
func (c *Client) PredictImage(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	resp, err := c.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		SetMultipartField("file", filepath.Base(path), mimetype.Detect(data).String(), bytes.NewReader(data)).
		Post("/predict-image")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

type batchResponse struct {
	Results []predict.BatchItem `json:"results"`
}

// PredictBatch uploads several images to /predict-batch.
func (c *Client) PredictBatch(ctx context.Context, paths []string) ([]predict.BatchItem, error) {
	fields := make([]*resty.MultipartField, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		fields = append(fields, &resty.MultipartField{
			Param:       "files",
			FileName:    filepath.Base(p),
			ContentType: mimetype.Detect(data).String(),
			Reader:      bytes.NewReader(data),
		})
	}

	var out batchResponse
	resp, err := c.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorBody{}).
		SetMultipartFields(fields...).
		Post("/predict-batch")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) upload(ctx context.Context, endpoint, path string, result any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	resp, err := c.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&errorBody{}).
		SetMultipartField("file", filepath.Base(path), mimetype.Detect(data).String(), bytes.NewReader(data)).
		Post(endpoint)
	return check(resp, err)
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode(), Detail: resp.String()}
	if body, ok := resp.Error().(*errorBody); ok && body.Detail != "" {
		apiErr.Detail = body.Detail
	}
	return apiErr
}

// DecodeDataURI extracts the bytes of a base64 data URI.
func DecodeDataURI(uri string) ([]byte, error) {
	_, payload, ok := strings.Cut(uri, ";base64,")
	if !ok {
		return nil, errors.New("not a base64 data URI")
	}
	return base64.StdEncoding.DecodeString(payload)
}
