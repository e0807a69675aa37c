package qrscan

import (
	"fmt"
	"image"
	"math"
)

// InvalidBufferSizeError reports an RGBA buffer whose length does not match
// the stated width*height*4.
type InvalidBufferSizeError struct {
	Expected int
	Actual   int
}

func (e *InvalidBufferSizeError) Error() string {
	return fmt.Sprintf("invalid image data length: expected %d, got %d", e.Expected, e.Actual)
}

// GrayFromRGBA projects a packed RGBA8 buffer (row-major, no padding) onto an
// 8-bit luminance image using the ITU-R BT.601 weights.
func GrayFromRGBA(buf []byte, width, height int) (*image.Gray, error) {
	expected := width * height * 4
	if width <= 0 || height <= 0 || len(buf) != expected {
		return nil, &InvalidBufferSizeError{Expected: expected, Actual: len(buf)}
	}
	gray := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			r := float64(buf[i])
			g := float64(buf[i+1])
			b := float64(buf[i+2])
			gray.Pix[y*gray.Stride+x] = uint8(math.Round(0.299*r + 0.587*g + 0.114*b))
		}
	}
	return gray, nil
}
