// Package qrscan decodes QR codes from captured camera frames. A fast
// full-frame pass runs first; when it finds nothing, the frame is rescanned
// as overlapping upscaled regions, which recovers small low-contrast symbols
// inside large frames.
package qrscan

import (
	"image"

	"github.com/disintegration/imaging"
)

// ScanPolicy controls how the region fallback terminates.
type ScanPolicy int

const (
	// StopAtFirstMatch ends the fallback scan as soon as any region/scale
	// combination decodes at least one symbol. Codes elsewhere in the frame
	// are not looked for; this bounds latency at the cost of recall.
	StopAtFirstMatch ScanPolicy = iota
	// Exhaustive visits every region and scale and returns everything found.
	Exhaustive
)

// Logger receives scan progress lines. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// Point is one corner of a detected symbol, in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Result is a single decoded QR symbol in original-frame coordinates.
type Result struct {
	Payload string   `json:"payload"`
	Version int      `json:"version"`
	Bounds  [4]Point `json:"bounds"`
}

// Frames smaller than this on either side skip the region fallback; at that
// size a symbol the full-frame pass missed is not worth the extra passes.
const minRegionScanSize = 400

var upscaleFactors = []float64{1.5, 2.0, 2.5}

// Scanner runs the two-pass QR detection pipeline. Scanners hold no mutable
// state across calls and are safe for concurrent use.
type Scanner struct {
	reader symbolReader
	policy ScanPolicy
	log    Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPolicy selects the fallback termination policy.
func WithPolicy(p ScanPolicy) Option {
	return func(s *Scanner) { s.policy = p }
}

// WithLogger installs a progress logger. Scanning is silent by default.
func WithLogger(l Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.log = l
		}
	}
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{reader: gozxingReader{}, policy: StopAtFirstMatch, log: nopLogger{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DecodeRGBA validates a packed RGBA8 frame buffer, converts it to luminance
// and runs Detect. The buffer-size precondition is the only error; finding
// no codes yields an empty, non-nil slice.
func (s *Scanner) DecodeRGBA(buf []byte, width, height int) ([]Result, error) {
	gray, err := GrayFromRGBA(buf, width, height)
	if err != nil {
		return nil, err
	}
	return s.Detect(gray), nil
}

// Detect decodes all QR symbols it can find in a grayscale frame.
func (s *Scanner) Detect(gray *image.Gray) []Result {
	if out := s.fullFrame(gray); len(out) > 0 {
		s.log.Printf("qrscan: full-frame pass decoded %d symbol(s)", len(out))
		return out
	}
	s.log.Printf("qrscan: full-frame pass empty, scanning regions")
	return s.scanRegions(gray)
}

func (s *Scanner) fullFrame(gray *image.Gray) []Result {
	syms := s.reader.ReadAll(gray)
	out := make([]Result, 0, len(syms))
	for _, sym := range syms {
		out = append(out, sym.toResult(1, 0, 0))
	}
	return out
}

// scanRegions crops the frame into a 2x2 grid of regions that overlap their
// neighbors by a third of their extent, upscales each region at increasing
// factors and reruns the reader on every tile. Tile coordinates are remapped
// back into frame space and payloads already seen in this scan are dropped.
func (s *Scanner) scanRegions(gray *image.Gray) []Result {
	out := []Result{}
	b := gray.Bounds()
	width, height := b.Dx(), b.Dy()
	if width < minRegionScanSize || height < minRegionScanSize {
		return out
	}

	regionW := width * 2 / 3
	regionH := height * 2 / 3
	stepX := width / 3
	stepY := height / 3

	seen := map[string]struct{}{}
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			x := col * stepX
			y := row * stepY
			x2 := min(x+regionW, width)
			y2 := min(y+regionH, height)
			region := gray.SubImage(image.Rect(b.Min.X+x, b.Min.Y+y, b.Min.X+x2, b.Min.Y+y2))

			for _, scale := range upscaleFactors {
				tile := imaging.Resize(region,
					int(float64(x2-x)*scale), int(float64(y2-y)*scale), imaging.Lanczos)
				for _, sym := range s.reader.ReadAll(tile) {
					if _, dup := seen[sym.payload]; dup {
						continue
					}
					seen[sym.payload] = struct{}{}
					out = append(out, sym.toResult(scale, float64(x), float64(y)))
				}
				if len(out) > 0 && s.policy == StopAtFirstMatch {
					s.log.Printf("qrscan: region (%d,%d) scale %.1f decoded %d symbol(s), stopping",
						row, col, scale, len(out))
					return out
				}
			}
		}
	}
	return out
}
