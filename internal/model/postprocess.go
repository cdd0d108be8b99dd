package model

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// yoloHead describes a [1, 4+nc, N] (or transposed [1, N, 4+nc]) output.
type yoloHead struct {
	data       []float32
	attrs      int
	candidates int
	transposed bool
}

func newYoloHead(out Tensor) (yoloHead, error) {
	if out.Rank() != 3 || out.Shape[0] != 1 {
		return yoloHead{}, errors.Errorf("detector output must be [1, 4+nc, N], got %v", out.Shape)
	}
	attrs, candidates := int(out.Shape[1]), int(out.Shape[2])
	transposed := false
	// exporters disagree on the layout; there are always more candidates
	// than attributes
	if attrs > candidates {
		attrs, candidates = candidates, attrs
		transposed = true
	}
	if attrs < 5 {
		return yoloHead{}, errors.Errorf("detector output has %d attributes, need at least 5", attrs)
	}
	if len(out.Data) < attrs*candidates {
		return yoloHead{}, errors.Errorf("detector output holds %d values, shape %v needs %d", len(out.Data), out.Shape, attrs*candidates)
	}
	return yoloHead{data: out.Data, attrs: attrs, candidates: candidates, transposed: transposed}, nil
}

func (h yoloHead) at(attr, i int) float64 {
	if h.transposed {
		return float64(h.data[i*h.attrs+attr])
	}
	return float64(h.data[attr*h.candidates+i])
}

// decodeDetections keeps candidates whose best class score exceeds
// confThreshold, maps them back to a srcW×srcH image and suppresses
// overlaps per class.
func decodeDetections(out Tensor, inputSize, srcW, srcH int, confThreshold, iouThreshold float64) ([]RawBox, error) {
	head, err := newYoloHead(out)
	if err != nil {
		return nil, err
	}

	sx := float64(srcW) / float64(inputSize)
	sy := float64(srcH) / float64(inputSize)
	numClasses := head.attrs - 4

	var boxes []RawBox
	for i := 0; i < head.candidates; i++ {
		classID, score := 0, math.Inf(-1)
		for c := 0; c < numClasses; c++ {
			if s := head.at(4+c, i); s > score {
				score, classID = s, c
			}
		}
		if score <= confThreshold {
			continue
		}

		xc, yc := head.at(0, i), head.at(1, i)
		w, h := head.at(2, i), head.at(3, i)

		box := RawBox{
			X1:         clamp((xc-w/2)*sx, 0, float64(srcW)),
			Y1:         clamp((yc-h/2)*sy, 0, float64(srcH)),
			X2:         clamp((xc+w/2)*sx, 0, float64(srcW)),
			Y2:         clamp((yc+h/2)*sy, 0, float64(srcH)),
			Confidence: clamp(score, 0, 1),
			ClassIndex: classID,
		}
		if box.X2 <= box.X1 || box.Y2 <= box.Y1 {
			continue
		}
		boxes = append(boxes, box)
	}

	return nonMaxSuppression(boxes, iouThreshold), nil
}

// nonMaxSuppression drops any box overlapping a stronger box of the same
// class by more than iouThreshold. The result is sorted by confidence.
func nonMaxSuppression(boxes []RawBox, iouThreshold float64) []RawBox {
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Confidence > boxes[j].Confidence
	})

	kept := make([]RawBox, 0, len(boxes))
	suppressed := make([]bool, len(boxes))
	for i := range boxes {
		if suppressed[i] {
			continue
		}
		kept = append(kept, boxes[i])
		for j := i + 1; j < len(boxes); j++ {
			if suppressed[j] || boxes[j].ClassIndex != boxes[i].ClassIndex {
				continue
			}
			if iou(boxes[i], boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b RawBox) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := (a.X2-a.X1)*(a.Y2-a.Y1) + (b.X2-b.X1)*(b.Y2-b.Y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
