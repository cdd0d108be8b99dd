package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/fire-api/internal/detection"
)

const (
	boxWidth     = 3
	bannerMargin = 10
	bannerBorder = 2
)

var (
	white        = color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF}
	defaultColor = color.NRGBA{0xFF, 0xFF, 0x00, 0xFF}
	classColors  = map[string]color.NRGBA{
		"fuego":  {0xFF, 0x00, 0x00, 0xFF},
		"humo":   {0x88, 0x88, 0x88, 0xFF},
		"normal": {0x00, 0xFF, 0x00, 0xFF},
	}
)

// ColorFor is the overlay color of a class.
func ColorFor(class string) color.NRGBA {
	if c, ok := classColors[class]; ok {
		return c
	}
	return defaultColor
}

// Options configures font loading.
type Options struct {
	FontPath       string
	FontSize       float64
	BannerFontSize float64
}

// Visualizer draws detections onto copies of images. It holds no per-call
// state and is safe for concurrent use.
type Visualizer struct {
	tag    TextMeasurer
	banner TextMeasurer
}

// New builds a Visualizer from explicit measurers.
func New(tag, banner TextMeasurer) *Visualizer {
	return &Visualizer{tag: tag, banner: banner}
}

// NewVisualizer loads opts.FontPath, falls back to Go Regular and finally
// to fixed metrics.
func NewVisualizer(opts Options, log *logrus.Entry) *Visualizer {
	if opts.FontSize <= 0 {
		opts.FontSize = 20
	}
	if opts.BannerFontSize <= 0 {
		opts.BannerFontSize = 24
	}

	if opts.FontPath != "" {
		tag, err := LoadFaceMeasurer(opts.FontPath, opts.FontSize)
		if err == nil {
			var banner *FaceMeasurer
			banner, err = LoadFaceMeasurer(opts.FontPath, opts.BannerFontSize)
			if err == nil {
				log.WithField("font", opts.FontPath).Info("Using configured font")
				return New(tag, banner)
			}
		}
		log.WithError(err).WithField("font", opts.FontPath).Warn("Cannot load font, using Go Regular")
	}

	tag, err := GoRegular(opts.FontSize)
	if err == nil {
		var banner *FaceMeasurer
		if banner, err = GoRegular(opts.BannerFontSize); err == nil {
			return New(tag, banner)
		}
	}
	log.WithError(err).Warn("No scalable font available, using fixed metrics")
	return New(TagMetrics, BannerMetrics)
}

// Render returns an annotated copy of img. Boxes win over the
// classification banner; when neither qualifies the copy is untouched.
func (v *Visualizer) Render(img image.Image, dets []detection.Detection) *image.NRGBA {
	dst := imaging.Clone(img)

	switch detection.VisualizationFor(dets) {
	case detection.VisualizationBBox:
		for _, d := range dets {
			if d.BBox != nil {
				v.drawBox(dst, d)
			}
		}
	case detection.VisualizationClassification:
		top, _ := detection.TopClassification(dets)
		v.drawBanner(dst, top)
	}
	return dst
}

func (v *Visualizer) drawBox(dst *image.NRGBA, d detection.Detection) {
	c := ColorFor(d.Class)
	x1, y1 := int(d.BBox.X1()), int(d.BBox.Y1())
	x2, y2 := int(d.BBox.X2()), int(d.BBox.Y2())
	outline(dst, image.Rect(x1, y1, x2+1, y2+1), boxWidth, c)

	text := fmt.Sprintf("%s: %.2f", d.Class, d.Confidence)
	size := v.tag.Measure(text)
	fill(dst, image.Rect(x1, y1-size.Y-4, x1+size.X+4+1, y1+1), c)
	v.tag.Draw(dst, image.Pt(x1+2, y1-size.Y-2), text, white)
}

func (v *Visualizer) drawBanner(dst *image.NRGBA, d detection.Detection) {
	c := ColorFor(d.Class)
	text := fmt.Sprintf("Clasificación: %s (%.1f%%)", d.Class, d.Confidence*100)
	size := v.banner.Measure(text)

	x1, y1 := bannerMargin, bannerMargin
	r := image.Rect(x1, y1, x1+size.X+20+1, y1+size.Y+10+1)
	fill(dst, r, c)
	outline(dst, r, bannerBorder, white)
	v.banner.Draw(dst, image.Pt(x1+10, y1+5), text, white)
}

// fill paints r, clipped to dst.
func fill(dst *image.NRGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

// outline paints a border of the given width inside r.
func outline(dst *image.NRGBA, r image.Rectangle, width int, c color.Color) {
	if r.Dx() <= 2*width || r.Dy() <= 2*width {
		fill(dst, r, c)
		return
	}
	fill(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), c)
	fill(dst, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), c)
	fill(dst, image.Rect(r.Min.X, r.Min.Y+width, r.Min.X+width, r.Max.Y-width), c)
	fill(dst, image.Rect(r.Max.X-width, r.Min.Y+width, r.Max.X, r.Max.Y-width), c)
}
