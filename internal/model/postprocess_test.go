package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// yoloOutput builds a [1, 4+nc, N] tensor from per-candidate rows of
// (xc, yc, w, h, scores...).
func yoloOutput(rows [][]float32) Tensor {
	attrs, n := len(rows[0]), len(rows)
	data := make([]float32, attrs*n)
	for i, row := range rows {
		for a, v := range row {
			data[a*n+i] = v
		}
	}
	return Tensor{Shape: []int64{1, int64(attrs), int64(n)}, Data: data}
}

func TestDecodeDetections(t *testing.T) {
	out := yoloOutput([][]float32{
		{320, 320, 100, 100, 0.9, 0.1},  // strong fuego
		{322, 322, 100, 100, 0.8, 0.05}, // overlaps the first, same class
		{100, 100, 40, 40, 0.1, 0.6},    // humo elsewhere
		{500, 500, 50, 50, 0.2, 0.1},    // below threshold
		{321, 321, 100, 100, 0.1, 0.7},  // overlaps the first, other class
	})

	boxes, err := decodeDetections(out, 640, 1280, 640, 0.25, 0.45)
	require.NoError(t, err)
	require.Len(t, boxes, 3)

	assert.Equal(t, 0, boxes[0].ClassIndex)
	assert.InDelta(t, 0.9, boxes[0].Confidence, 1e-6)
	// x is scaled by 1280/640, y kept
	assert.InDelta(t, 540, boxes[0].X1, 1e-3)
	assert.InDelta(t, 270, boxes[0].Y1, 1e-3)
	assert.InDelta(t, 740, boxes[0].X2, 1e-3)
	assert.InDelta(t, 370, boxes[0].Y2, 1e-3)

	assert.Equal(t, 1, boxes[1].ClassIndex)
	assert.InDelta(t, 0.7, boxes[1].Confidence, 1e-6)
	assert.Equal(t, 1, boxes[2].ClassIndex)
	assert.InDelta(t, 0.6, boxes[2].Confidence, 1e-6)

	for i := 1; i < len(boxes); i++ {
		assert.GreaterOrEqual(t, boxes[i-1].Confidence, boxes[i].Confidence)
	}
}

func TestDecodeDetections_Transposed(t *testing.T) {
	rows := [][]float32{
		{50, 50, 20, 20, 0.95},
	}
	// pad with empty candidates so there are more candidates than attributes
	for i := 0; i < 9; i++ {
		rows = append(rows, []float32{0, 0, 0, 0, 0})
	}
	data := make([]float32, 0, 50)
	for _, row := range rows {
		data = append(data, row...)
	}
	out := Tensor{Shape: []int64{1, 10, 5}, Data: data}

	boxes, err := decodeDetections(out, 640, 640, 640, 0.25, 0.45)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.InDelta(t, 40, boxes[0].X1, 1e-3)
	assert.InDelta(t, 60, boxes[0].Y2, 1e-3)
}

func TestDecodeDetections_ClipsToImage(t *testing.T) {
	out := yoloOutput([][]float32{
		{5, 5, 40, 40, 0.9},
		{0, 0, 0, 0, 0}, {0, 0, 0, 0, 0}, {0, 0, 0, 0, 0}, {0, 0, 0, 0, 0}, {0, 0, 0, 0, 0},
	})
	boxes, err := decodeDetections(out, 640, 640, 640, 0.25, 0.45)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, 0.0, boxes[0].X1)
	assert.Equal(t, 0.0, boxes[0].Y1)
}

func TestDecodeDetections_ThresholdIsExclusive(t *testing.T) {
	out := yoloOutput([][]float32{
		{100, 100, 40, 40, 0.25, 0.1}, // exactly at the threshold
		{400, 400, 40, 40, 0.1, 0.26},
		{0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0},
	})

	boxes, err := decodeDetections(out, 640, 640, 640, 0.25, 0.45)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, 1, boxes[0].ClassIndex)
}

func TestDecodeDetections_BadShape(t *testing.T) {
	_, err := decodeDetections(Tensor{Shape: []int64{1, 2}, Data: []float32{0, 1}}, 640, 10, 10, 0.25, 0.45)
	assert.Error(t, err)

	_, err = decodeDetections(Tensor{Shape: []int64{1, 6, 10}, Data: []float32{1}}, 640, 10, 10, 0.25, 0.45)
	assert.Error(t, err)
}

func TestIOU(t *testing.T) {
	a := RawBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := RawBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.InDelta(t, 50.0/150.0, iou(a, b), 1e-9)
	assert.Equal(t, 0.0, iou(a, RawBox{X1: 20, Y1: 20, X2: 30, Y2: 30}))
	assert.InDelta(t, 1.0, iou(a, a), 1e-9)
}
