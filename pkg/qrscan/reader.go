package qrscan

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi/qrcode"
)

// symbol is one decoded QR code in the coordinate space of the image it was
// read from (full frame or upscaled tile).
type symbol struct {
	payload string
	version int
	bounds  [4]Point
}

// toResult remaps the symbol into original-frame coordinates.
func (sym symbol) toResult(scale, offX, offY float64) Result {
	r := Result{Payload: sym.payload, Version: sym.version}
	for i, p := range sym.bounds {
		r.Bounds[i] = Point{X: p.X/scale + offX, Y: p.Y/scale + offY}
	}
	return r
}

// symbolReader decodes every readable QR symbol in an image. Implementations
// absorb per-symbol decode failures (damaged or noisy symbols); only clean
// decodes come back, and an empty slice is a normal outcome.
type symbolReader interface {
	ReadAll(img image.Image) []symbol
}

// gozxingReader reads symbols with the gozxing multi-QR reader, trying the
// hybrid binarizer first and falling back to the global histogram binarizer
// for frames with uneven lighting.
type gozxingReader struct{}

func (gozxingReader) ReadAll(img image.Image) []symbol {
	src := gozxing.NewLuminanceSourceFromImage(img)
	reader := qrcode.NewQRCodeMultiReader()
	for _, bin := range []gozxing.Binarizer{
		gozxing.NewHybridBinarizer(src),
		gozxing.NewGlobalHistgramBinarizer(src),
	} {
		bmp, err := gozxing.NewBinaryBitmap(bin)
		if err != nil {
			continue
		}
		results, err := reader.DecodeMultiple(bmp, nil)
		if err != nil || len(results) == 0 {
			continue
		}
		out := make([]symbol, 0, len(results))
		for _, r := range results {
			out = append(out, symbol{
				payload: r.GetText(),
				// gozxing does not expose the decoded symbol version.
				version: 0,
				bounds:  quadFromPoints(r.GetResultPoints()),
			})
		}
		return out
	}
	return nil
}

// quadFromPoints converts gozxing result points to a 4-corner quad. A QR
// result carries three finder-pattern centers (bottom-left, top-left,
// top-right) plus an alignment point on larger symbols; with exactly three
// points the missing corner is completed by parallelogram extrapolation.
func quadFromPoints(pts []gozxing.ResultPoint) [4]Point {
	var q [4]Point
	n := len(pts)
	if n > 4 {
		n = 4
	}
	for i := 0; i < n; i++ {
		q[i] = Point{X: pts[i].GetX(), Y: pts[i].GetY()}
	}
	if n == 3 {
		q[3] = Point{X: q[0].X + q[2].X - q[1].X, Y: q[0].Y + q[2].Y - q[1].Y}
	}
	return q
}
