// Package thumbnail renders downscaled JPEG previews of uploaded images.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/galleryd/galleryd/internal/exif"
)

// Quality is the JPEG quality used for thumbnails.
const Quality = 85

// ErrInvalidSize is returned for non-positive bounds.
var ErrInvalidSize = errors.New("thumbnail: width and height must be positive")

// Generate decodes an image from data and returns a JPEG that fits within
// width x height, keeping the aspect ratio. Images already inside the bounds
// are re-encoded without scaling. EXIF orientation is applied for JPEG input.
func Generate(data []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidSize
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if format == "jpeg" {
		if m, err := exif.Parse(data); err == nil && m.Orientation > 1 {
			src = orient(src, m.Orientation)
		}
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), width, height)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return out.Bytes(), nil
}

// GenerateFrom reads all of r and calls Generate.
func GenerateFrom(r io.Reader, width, height int) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return Generate(data, width, height)
}

// Fit scales (w, h) down to fit inside (maxW, maxH). Dimensions never drop
// below 1 and are never scaled up.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return max(w, 1), max(h, 1)
	}
	// Compare w/maxW with h/maxH without floats.
	if w*maxH >= h*maxW {
		return maxW, max(h*maxW/w, 1)
	}
	return max(w*maxH/h, 1), maxH
}

// Name returns the thumbnail file name for an original image name: the base
// name with a .jpg extension under the thumbnails/ prefix.
func Name(original string) string {
	base := path.Base(strings.ReplaceAll(original, "\\", "/"))
	ext := path.Ext(base)
	return "thumbnails/" + strings.TrimSuffix(base, ext) + ".jpg"
}

// orient returns src transformed so that it displays upright for the given
// EXIF orientation value.
func orient(src image.Image, o int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	swap := o >= 5
	dw, dh := w, h
	if swap {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch o {
			case 2:
				dx, dy = w-1-x, y
			case 3:
				dx, dy = w-1-x, h-1-y
			case 4:
				dx, dy = x, h-1-y
			case 5:
				dx, dy = y, x
			case 6:
				dx, dy = h-1-y, x
			case 7:
				dx, dy = h-1-y, w-1-x
			case 8:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			dst.Set(dx, dy, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
