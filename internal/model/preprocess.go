package model

import (
	"encoding/binary"
	"image"

	"github.com/nfnt/resize"
	"github.com/x448/float16"
)

// Input resolutions of the two backend styles.
const (
	DetectorInputSize   = 640
	ClassifierInputSize = 224
)

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}

	// identity normalization, pixels only scaled to [0,1]
	unitMean = [3]float32{0, 0, 0}
	unitStd  = [3]float32{1, 1, 1}
)

// toCHW resizes img to size×size and lays it out as a 1×3×size×size batch,
// each channel scaled to [0,1] then normalized with mean and std.
func toCHW(img image.Image, size int, mean, std [3]float32) Input {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)

	bounds := resized.Bounds()
	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			idx := y*size + x
			data[idx] = (float32(r)/65535.0 - mean[0]) / std[0]
			data[plane+idx] = (float32(g)/65535.0 - mean[1]) / std[1]
			data[2*plane+idx] = (float32(b)/65535.0 - mean[2]) / std[2]
		}
	}

	return Input{
		Shape: []int64{1, 3, int64(size), int64(size)},
		Data:  data,
		DType: Float32,
	}
}

// float16Bytes packs data as little-endian IEEE half floats, the layout
// ONNX Runtime expects for float16 tensors.
func float16Bytes(data []float32) []byte {
	out := make([]byte, 2*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(v).Bits())
	}
	return out
}

// float16Values is the inverse of float16Bytes.
func float16Values(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
	}
	return out
}
