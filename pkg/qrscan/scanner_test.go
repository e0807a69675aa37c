package qrscan

import (
	"image"
	"image/color"
	"reflect"
	"testing"
)

type fakeReader struct {
	calls int
	fn    func(img image.Image) []symbol
}

func (f *fakeReader) ReadAll(img image.Image) []symbol {
	f.calls++
	if f.fn == nil {
		return nil
	}
	return f.fn(img)
}

func newTestScanner(f *fakeReader, policy ScanPolicy) *Scanner {
	s := NewScanner(WithPolicy(policy))
	s.reader = f
	return s
}

func lumaAt(img image.Image, x, y int) uint8 {
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
}

func fillRect(gray *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			gray.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

// twoCodeFrame builds a 600x600 frame with one probe block visible only to
// region (row 0, col 1) and another visible only to region (row 1, col 1).
func twoCodeFrame() *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, 600, 600))
	fillRect(gray, image.Rect(440, 40, 480, 80), 120)   // region (0,1) exclusive area
	fillRect(gray, image.Rect(440, 440, 480, 480), 250) // region (1,1) exclusive area
	return gray
}

// twoCodeReader decodes "first" only on the region (0,1) tile at scale 2.0
// and "second" only on the region (1,1) tile at scale 1.5, by probing where
// the blocks land after crop and upscale.
func twoCodeReader() *fakeReader {
	return &fakeReader{fn: func(img image.Image) []symbol {
		b := img.Bounds()
		if b.Dx() == 800 {
			// block at frame (440..480, 40..80) minus offset (200,0), times 2
			if v := lumaAt(img, 520, 120); v > 90 && v < 150 {
				return []symbol{{
					payload: "first",
					version: 2,
					bounds:  [4]Point{{0, 0}, {40, 0}, {40, 40}, {0, 40}},
				}}
			}
		}
		if b.Dx() == 600 && b.Dy() == 600 {
			// block at frame (440..480, 440..480) minus offset (200,200), times 1.5
			if lumaAt(img, 390, 390) > 200 {
				return []symbol{{payload: "second"}}
			}
		}
		return nil
	}}
}

func TestFallbackEarlyExit(t *testing.T) {
	s := newTestScanner(twoCodeReader(), StopAtFirstMatch)
	got := s.Detect(twoCodeFrame())
	if len(got) != 1 {
		t.Fatalf("expected exactly the first code, got %d results", len(got))
	}
	if got[0].Payload != "first" {
		t.Fatalf("expected payload %q, got %q", "first", got[0].Payload)
	}
}

func TestFallbackExhaustivePolicy(t *testing.T) {
	s := newTestScanner(twoCodeReader(), Exhaustive)
	got := s.Detect(twoCodeFrame())
	if len(got) != 2 {
		t.Fatalf("expected both codes under exhaustive policy, got %d", len(got))
	}
	if got[0].Payload != "first" || got[1].Payload != "second" {
		t.Fatalf("wrong order: %q, %q", got[0].Payload, got[1].Payload)
	}
}

func TestFallbackRemapsBounds(t *testing.T) {
	s := newTestScanner(twoCodeReader(), StopAtFirstMatch)
	got := s.Detect(twoCodeFrame())
	if len(got) != 1 {
		t.Fatalf("expected one result, got %d", len(got))
	}
	// tile coords / 2.0 + region offset (200, 0)
	want := [4]Point{{200, 0}, {220, 0}, {220, 20}, {200, 20}}
	if got[0].Bounds != want {
		t.Fatalf("bounds not remapped: got %v want %v", got[0].Bounds, want)
	}
	if got[0].Version != 2 {
		t.Fatalf("version not carried through: %d", got[0].Version)
	}
}

func TestFallbackDeduplicatesPayloads(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 600, 600))
	fillRect(gray, gray.Bounds(), 250)
	f := &fakeReader{fn: func(img image.Image) []symbol {
		// only upscaled tiles decode, so the full-frame pass stays empty
		if img.Bounds().Dx() > 600 && lumaAt(img, 10, 10) > 200 {
			return []symbol{{payload: "dup"}}
		}
		return nil
	}}
	s := newTestScanner(f, Exhaustive)
	got := s.Detect(gray)
	if len(got) != 1 {
		t.Fatalf("expected one deduplicated result, got %d", len(got))
	}
	if got[0].Payload != "dup" {
		t.Fatalf("unexpected payload %q", got[0].Payload)
	}
}

func TestSmallFrameSkipsFallback(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 300, 300))
	fillRect(gray, gray.Bounds(), 250)
	f := &fakeReader{fn: func(img image.Image) []symbol {
		if img.Bounds().Dx() >= 600 {
			return []symbol{{payload: "never"}}
		}
		return nil
	}}
	s := newTestScanner(f, StopAtFirstMatch)
	got := s.Detect(gray)
	if len(got) != 0 {
		t.Fatalf("expected empty result for small frame, got %d", len(got))
	}
	if f.calls != 1 {
		t.Fatalf("fallback ran on a small frame: %d reader calls", f.calls)
	}
}

func TestExhaustiveVisitsAllRegionsAndScales(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 600, 600))
	f := &fakeReader{}
	s := newTestScanner(f, Exhaustive)
	got := s.Detect(gray)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", got)
	}
	// 1 full-frame pass + 4 regions x 3 scales
	if f.calls != 13 {
		t.Fatalf("expected 13 reader calls, got %d", f.calls)
	}
}

func TestDecodeRGBADeterministic(t *testing.T) {
	gray := twoCodeFrame()
	buf := make([]byte, 600*600*4)
	for i, v := range gray.Pix {
		buf[i*4] = v
		buf[i*4+1] = v
		buf[i*4+2] = v
		buf[i*4+3] = 255
	}
	s := newTestScanner(twoCodeReader(), StopAtFirstMatch)
	first, err := s.DecodeRGBA(buf, 600, 600)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.DecodeRGBA(buf, 600, 600)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("non-deterministic output: %v vs %v", first, second)
	}
}
