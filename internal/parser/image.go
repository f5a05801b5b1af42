package parser

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
)

func (d *Decoder) decodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	maxEdge := d.MaxImageEdge
	if maxEdge <= 0 {
		maxEdge = 1500
	}
	if img.Bounds().Dx() <= maxEdge {
		return img, nil
	}
	return Thumbnail(img, maxEdge, maxEdge), nil
}

// Thumbnail shrinks img to fit inside a maxW x maxH box while keeping its
// aspect ratio. Images already inside the box are returned unchanged.
func Thumbnail(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	nw = min(nw, maxW)
	nh = min(nh, maxH)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
