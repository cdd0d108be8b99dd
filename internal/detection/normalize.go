package detection

import (
	"math"
	"sort"

	"github.com/Brownie44l1/fire-api/internal/model"
)

const (
	// MinClassConfidence is the score a classification must exceed to be
	// reported.
	MinClassConfidence = 0.1
	// MaxClassifications caps the classifier result list.
	MaxClassifications = 5
)

// Normalize turns a backend output into the ordered Detection list returned
// to callers. The result is never empty.
func Normalize(raw model.RawOutput, labels model.Labels) []Detection {
	switch raw.Kind {
	case model.RawBoxes:
		return normalizeBoxes(raw.Boxes, labels)
	case model.RawScores:
		return normalizeScores(raw, labels)
	default:
		return []Detection{Unsupported()}
	}
}

func normalizeBoxes(boxes []model.RawBox, labels model.Labels) []Detection {
	dets := make([]Detection, 0, len(boxes))
	for _, b := range boxes {
		bbox := BBox{b.X1, b.Y1, b.X2, b.Y2}
		dets = append(dets, Detection{
			Class:      SwapLabel(labels.Name(b.ClassIndex)),
			Confidence: clamp01(b.Confidence),
			ClassIndex: b.ClassIndex,
			BBox:       &bbox,
			Type:       TypeObjectDetection,
		})
	}
	return finish(dets, len(dets))
}

func normalizeScores(raw model.RawOutput, labels model.Labels) []Detection {
	if len(raw.Outputs) == 0 {
		return []Detection{Unsupported()}
	}
	out := raw.Outputs[0]
	if out.Rank() != 2 || len(out.Data) == 0 {
		return []Detection{Unsupported()}
	}

	// Only the first row of a batch is scored.
	width := int(out.Shape[1])
	if width <= 0 || width > len(out.Data) {
		return []Detection{Unsupported()}
	}
	scores := make([]float64, width)
	for i, v := range out.Data[:width] {
		scores[i] = float64(v)
	}
	if raw.Activation == model.Logits {
		scores = softmax(scores)
	}

	k := labels.Len()
	if len(scores) < k {
		k = len(scores)
	}

	dets := make([]Detection, 0, k)
	for _, idx := range topK(scores, k) {
		conf := clamp01(scores[idx])
		// Scores come from float32 tensors; compare at that precision.
		if float32(conf) <= float32(MinClassConfidence) {
			continue
		}
		dets = append(dets, Detection{
			Class:      SwapLabel(labels.Name(idx)),
			Confidence: conf,
			ClassIndex: idx,
			Type:       TypeClassification,
		})
	}
	return finish(dets, MaxClassifications)
}

// finish sorts by confidence, truncates to limit and substitutes the
// sentinel for an empty list.
func finish(dets []Detection, limit int) []Detection {
	if len(dets) == 0 {
		return []Detection{Sentinel()}
	}
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	if len(dets) > limit {
		dets = dets[:limit]
	}
	return dets
}

// topK returns the indices of the k largest scores, largest first. Ties
// keep index order.
func topK(scores []float64, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if k < 0 {
		k = 0
	}
	return idx[:k]
}

func softmax(logits []float64) []float64 {
	hi := math.Inf(-1)
	for _, v := range logits {
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
