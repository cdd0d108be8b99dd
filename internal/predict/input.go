package predict

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Content types that say nothing about the payload; the bytes are sniffed
// instead.
var genericContentTypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
}

// CheckContentType accepts uploads declared as image/*. Uploads without a
// useful declaration are sniffed.
func CheckContentType(declared string, data []byte) error {
	mediaType := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(declared); err == nil {
		mediaType = parsed
	}

	if genericContentTypes[mediaType] {
		detected := mimetype.Detect(data)
		if strings.HasPrefix(detected.String(), "image/") {
			return nil
		}
		return &InvalidInputError{Reason: "file must be an image, detected " + detected.String()}
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return &InvalidInputError{Reason: "file must be an image, got " + mediaType}
	}
	return nil
}

// Decode reads any supported raster format and returns an opaque RGB
// image together with the format name.
func Decode(data []byte) (*image.NRGBA, string, error) {
	if len(data) == 0 {
		return nil, "", &InvalidInputError{Reason: "empty file"}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &InvalidInputError{Reason: "cannot decode image", Err: err}
	}
	return toRGB(img), format, nil
}

// toRGB drops the alpha channel, keeping the straight color values.
func toRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xFF
	}
	return dst
}
