package render

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TextMeasurer measures and draws single-line labels.
type TextMeasurer interface {
	// Measure returns the width and height of text's ink box.
	Measure(text string) image.Point
	// Draw renders text so that its ink box starts at topLeft.
	Draw(dst draw.Image, topLeft image.Point, text string, c color.Color)
}

// FaceMeasurer measures with a scalable font face. font.Face is not safe
// for concurrent use, so calls are serialized.
type FaceMeasurer struct {
	mu   sync.Mutex
	face font.Face
}

// NewFaceMeasurer parses an OpenType/TrueType font and sizes it in pixels.
func NewFaceMeasurer(fontData []byte, size float64) (*FaceMeasurer, error) {
	f, err := opentype.Parse(fontData)
	if err != nil {
		return nil, errors.Wrap(err, "parse font")
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create font face")
	}
	return &FaceMeasurer{face: face}, nil
}

// LoadFaceMeasurer reads a font file from disk.
func LoadFaceMeasurer(path string, size float64) (*FaceMeasurer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read font")
	}
	return NewFaceMeasurer(data, size)
}

// GoRegular is the Go Regular font bundled with x/image.
func GoRegular(size float64) (*FaceMeasurer, error) {
	return NewFaceMeasurer(goregular.TTF, size)
}

func (m *FaceMeasurer) Measure(text string) image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := font.BoundString(m.face, text)
	return image.Pt((b.Max.X - b.Min.X).Ceil(), (b.Max.Y - b.Min.Y).Ceil())
}

func (m *FaceMeasurer) Draw(dst draw.Image, topLeft image.Point, text string, c color.Color) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := font.BoundString(m.face, text)
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: m.face,
		Dot:  fixed.P(topLeft.X, topLeft.Y).Sub(b.Min),
	}
	d.DrawString(text)
}

// FixedMeasurer approximates text with a fixed cell per character and
// draws with the built-in bitmap face.
type FixedMeasurer struct {
	CharWidth  int
	CharHeight int
}

// Default fixed metrics for box tags and the classification banner.
var (
	TagMetrics    = FixedMeasurer{CharWidth: 8, CharHeight: 16}
	BannerMetrics = FixedMeasurer{CharWidth: 10, CharHeight: 20}
)

func (m FixedMeasurer) Measure(text string) image.Point {
	return image.Pt(utf8.RuneCountInString(text)*m.CharWidth, m.CharHeight)
}

func (m FixedMeasurer) Draw(dst draw.Image, topLeft image.Point, text string, c color.Color) {
	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(topLeft.X, topLeft.Y+face.Ascent),
	}
	d.DrawString(text)
}
