package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"log"
	"os"

	"github.com/disintegration/imaging"

	"docscan/pkg/qrscan"
)

func main() {
	f := flag.String("file", "", "image file to scan for QR codes")
	exhaustive := flag.Bool("exhaustive", false, "scan every region even after the first match")
	flag.Parse()
	if *f == "" {
		log.Fatalf("-file required")
	}
	img, err := imaging.Open(*f)
	if err != nil {
		log.Fatalf("open error: %v", err)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	opts := []qrscan.Option{qrscan.WithLogger(log.Default())}
	if *exhaustive {
		opts = append(opts, qrscan.WithPolicy(qrscan.Exhaustive))
	}
	s := qrscan.NewScanner(opts...)
	results, err := s.DecodeRGBA(rgba.Pix, b.Dx(), b.Dy())
	if err != nil {
		log.Fatalf("scan error: %v", err)
	}
	fmt.Printf("decoded %d symbol(s)\n", len(results))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)
}
