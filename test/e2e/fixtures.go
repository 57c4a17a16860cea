// Package e2e provides end-to-end tests over a generated image corpus; this file encodes
// small images in every format the decoders support.
package e2e

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// SupportedImageExtensions are the extensions generated for E2E tests. WebP is decoded but
// x/image has no WebP encoder, so no fixture is generated for it.
var SupportedImageExtensions = []string{".png", ".jpg", ".gif", ".bmp", ".tiff"}

// ExpectedFormat maps a fixture extension to the format name reported by the decoders.
var ExpectedFormat = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".gif":  "gif",
	".bmp":  "bmp",
	".tiff": "tiff",
}

// WriteMinimalImage returns the bytes of a w×h image filled with c, encoded for ext.
func WriteMinimalImage(ext string, c color.Color, w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	var err error
	switch ext {
	case ".png":
		err = png.Encode(&buf, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case ".gif":
		err = gif.Encode(&buf, img, nil)
	case ".bmp":
		err = bmp.Encode(&buf, img)
	case ".tif", ".tiff":
		err = tiff.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("unsupported fixture extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
