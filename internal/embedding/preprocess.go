package embedding

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// PreprocessMode selects how an image is brought to the square encoder resolution.
type PreprocessMode string

const (
	// PreprocessResize stretches the whole image to a square.
	PreprocessResize PreprocessMode = "resize"
	// PreprocessCenterCrop takes the centred square of the shortest side before resizing.
	PreprocessCenterCrop PreprocessMode = "center_crop"
)

// ParsePreprocessMode validates a configured mode. Empty selects PreprocessResize.
func ParsePreprocessMode(s string) (PreprocessMode, error) {
	switch PreprocessMode(s) {
	case "", PreprocessResize:
		return PreprocessResize, nil
	case PreprocessCenterCrop:
		return PreprocessCenterCrop, nil
	}
	return "", fmt.Errorf("unknown preprocess mode %q (use resize or center_crop)", s)
}

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// LoadImage decodes the image at path. Failures wrap ErrImageRead.
func LoadImage(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrImageRead, err)
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode %s: %v", ErrImageRead, path, err)
	}
	return img, format, nil
}

// PixelValues converts img to the encoder input: RGB, size x size with Catmull-Rom
// resampling, scaled to [0,1], standardised per channel and laid out as CHW
// (the leading batch dimension of 1 adds no data).
func PixelValues(img image.Image, size int, mode PreprocessMode) []float32 {
	src := img.Bounds()
	if mode == PreprocessCenterCrop {
		side := src.Dx()
		if src.Dy() < side {
			side = src.Dy()
		}
		x0 := src.Min.X + (src.Dx()-side)/2
		y0 := src.Min.Y + (src.Dy()-side)/2
		src = image.Rect(x0, y0, x0+side, y0+side)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), flattenAlpha(img), src, draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := dst.PixOffset(x, y)
			p := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(dst.Pix[i+c]) / 255
				out[c*plane+p] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}

// flattenAlpha drops the alpha channel and keeps each pixel's stored colour, so transparent
// regions keep their RGB instead of turning black when premultiplied.
func flattenAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	if src, ok := img.(*image.NRGBA); ok {
		n := 4 * b.Dx()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i, j := src.PixOffset(b.Min.X, y), out.PixOffset(b.Min.X, y)
			copy(out.Pix[j:j+n], src.Pix[i:i+n])
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				out.SetNRGBA(x, y, color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA))
			}
		}
	}
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// DecodeImageConfig reads the dimensions and format of the image at path without decoding
// its pixels. Failures wrap ErrImageRead.
func DecodeImageConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrImageRead, err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: decode %s: %v", ErrImageRead, path, err)
	}
	return cfg, format, nil
}
