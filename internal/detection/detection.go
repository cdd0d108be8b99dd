package detection

import (
	"encoding/json"
	"fmt"
)

// Type classifies how a Detection was produced.
type Type int

const (
	TypeObjectDetection Type = iota
	TypeClassification
	TypeNoDetection
	TypeUnsupportedOutput
)

var typeNames = map[Type]string{
	TypeObjectDetection:   "object_detection",
	TypeClassification:    "classification",
	TypeNoDetection:       "no_detection",
	TypeUnsupportedOutput: "unsupported_output",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type_%d", int(t))
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, v := range typeNames {
		if v == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown detection type %q", s)
}

// BBox is (x1, y1, x2, y2) in source image pixels; it serializes as a
// four element array.
type BBox [4]float64

func (b BBox) X1() float64 { return b[0] }
func (b BBox) Y1() float64 { return b[1] }
func (b BBox) X2() float64 { return b[2] }
func (b BBox) Y2() float64 { return b[3] }

// Detection is one normalized prediction. BBox is set exactly when Type is
// TypeObjectDetection.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	ClassIndex int     `json:"class_index"`
	BBox       *BBox   `json:"bbox"`
	Type       Type    `json:"detection_type"`
}

// Sentinel is reported when nothing qualified.
func Sentinel() Detection {
	return Detection{
		Class:      "normal",
		Confidence: 0.9,
		ClassIndex: -1,
		Type:       TypeNoDetection,
	}
}

// Unsupported is reported when the model output has a shape the
// normalizer does not understand.
func Unsupported() Detection {
	return Detection{
		Class:      "error",
		Confidence: 0,
		ClassIndex: -1,
		Type:       TypeUnsupportedOutput,
	}
}

// SwapLabel exchanges "fuego" and "humo". The upstream model has the two
// labels inverted.
func SwapLabel(name string) string {
	switch name {
	case "fuego":
		return "humo"
	case "humo":
		return "fuego"
	default:
		return name
	}
}

// HasBoxes reports whether any detection carries a bounding box.
func HasBoxes(dets []Detection) bool {
	for _, d := range dets {
		if d.BBox != nil {
			return true
		}
	}
	return false
}

// TopClassification returns the most confident classification, if any.
func TopClassification(dets []Detection) (Detection, bool) {
	var (
		top   Detection
		found bool
	)
	for _, d := range dets {
		if d.BBox != nil || d.Type != TypeClassification {
			continue
		}
		if !found || d.Confidence > top.Confidence {
			top, found = d, true
		}
	}
	return top, found
}

// Visualization is the kind of overlay a prediction gets.
type Visualization string

const (
	VisualizationBBox           Visualization = "bbox"
	VisualizationClassification Visualization = "classification"
	VisualizationNone           Visualization = "none"
)

// BannerThreshold is the confidence a classification must exceed to be
// drawn.
const BannerThreshold = 0.5

// VisualizationFor decides which overlay, if any, dets deserve.
func VisualizationFor(dets []Detection) Visualization {
	if HasBoxes(dets) {
		return VisualizationBBox
	}
	if top, ok := TopClassification(dets); ok && top.Confidence > BannerThreshold {
		return VisualizationClassification
	}
	return VisualizationNone
}
