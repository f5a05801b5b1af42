// Package annotate renders the pages of a target PDF that contain flagged
// values, with every occurrence boxed in red.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"
)

// DefaultZoom renders pages at twice their nominal size.
const DefaultZoom = 2.0

// MinTokenRunes is the shortest cleaned token worth searching for.
const MinTokenRunes = 2

var (
	fillColor   = color.NRGBA{R: 255, A: 51}
	borderColor = color.NRGBA{R: 255, A: 255}
)

const borderWidth = 2.0 // PDF points

// quoteStripper removes straight and curly quotes anywhere in a token.
var quoteStripper = strings.NewReplacer("\"", "", "'", "", "“", "", "”", "", "‘", "", "’", "")

// Highlight is one rendered page with its matches drawn on it.
type Highlight struct {
	Page  int // 1-based
	Image image.Image
}

// AnnotationError wraps any failure to open, parse or render the PDF.
type AnnotationError struct {
	Err error
}

func (e *AnnotationError) Error() string { return "annotate pdf: " + e.Err.Error() }
func (e *AnnotationError) Unwrap() error { return e.Err }

// Rasterizer opens a PDF for page rendering.
type Rasterizer interface {
	Open(pdf []byte) (PageRenderer, error)
}

// PageRenderer renders single pages of an opened PDF.
type PageRenderer interface {
	// Render draws a 1-based page scaled by zoom (1.0 = 72 DPI).
	Render(page int, zoom float64) (image.Image, error)
	Close() error
}

// Annotator finds error tokens in a PDF and renders the pages they sit on.
type Annotator struct {
	raster Rasterizer
	zoom   float64
	log    *slog.Logger
}

// New returns an Annotator. A nil rasterizer uses MuPDF; zoom <= 0 uses
// DefaultZoom.
func New(raster Rasterizer, zoom float64, log *slog.Logger) *Annotator {
	if raster == nil {
		raster = FitzRasterizer{}
	}
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	if log == nil {
		log = slog.Default()
	}
	return &Annotator{raster: raster, zoom: zoom, log: log}
}

// CleanTokens removes every quote character from each token, trims
// whitespace and drops anything shorter than MinTokenRunes. Order is kept.
func CleanTokens(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		c := strings.TrimSpace(quoteStripper.Replace(t))
		if utf8.RuneCountInString(c) < MinTokenRunes {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Annotate returns one Highlight per page holding at least one occurrence
// of a cleaned token, in ascending page order. Pages without a match are
// never rendered. Any failure yields an *AnnotationError and no partial
// result.
func (a *Annotator) Annotate(pdf []byte, tokens []string) (highlights []Highlight, err error) {
	terms := CleanTokens(tokens)
	if len(pdf) == 0 || len(terms) == 0 {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			highlights = nil
			err = &AnnotationError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := api.Validate(bytes.NewReader(pdf), model.NewDefaultConfiguration()); err != nil {
		return nil, &AnnotationError{Err: fmt.Errorf("validate: %w", err)}
	}

	reader, err := pdflib.NewReader(bytes.NewReader(pdf), int64(len(pdf)))
	if err != nil {
		return nil, &AnnotationError{Err: fmt.Errorf("open: %w", err)}
	}

	var renderer PageRenderer
	defer func() {
		if renderer != nil {
			renderer.Close()
		}
	}()

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rects := locate(page, terms)
		if len(rects) == 0 {
			continue
		}

		if renderer == nil {
			renderer, err = a.raster.Open(pdf)
			if err != nil {
				return nil, &AnnotationError{Err: fmt.Errorf("open renderer: %w", err)}
			}
		}
		img, err := renderer.Render(i, a.zoom)
		if err != nil {
			return nil, &AnnotationError{Err: fmt.Errorf("render page %d: %w", i, err)}
		}

		canvas := toRGBA(img)
		drawHighlights(canvas, mediaBox(page), rects)
		highlights = append(highlights, Highlight{Page: i, Image: canvas})
		a.log.Debug("page highlighted", "page", i, "matches", len(rects))
	}
	return highlights, nil
}

func locate(page pdflib.Page, terms []string) []Rect {
	pt := newPageText(page.Content().Text)
	if pt.text == "" {
		return nil
	}
	var rects []Rect
	for _, term := range terms {
		rects = append(rects, pt.Search(term)...)
	}
	return rects
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// drawHighlights maps each PDF-space rect onto the rendered canvas and
// draws a translucent fill with a solid border.
func drawHighlights(canvas *image.RGBA, box Rect, rects []Rect) {
	b := canvas.Bounds()
	sx := float64(b.Dx()) / (box.X1 - box.X0)
	sy := float64(b.Dy()) / (box.Y1 - box.Y0)
	bw := int(math.Max(1, math.Round(borderWidth*sx)))

	fill := image.NewUniform(fillColor)
	border := image.NewUniform(borderColor)

	for _, r := range rects {
		px := image.Rect(
			b.Min.X+int(math.Floor((r.X0-box.X0)*sx)),
			b.Min.Y+int(math.Floor((box.Y1-r.Y1)*sy)),
			b.Min.X+int(math.Ceil((r.X1-box.X0)*sx)),
			b.Min.Y+int(math.Ceil((box.Y1-r.Y0)*sy)),
		).Inset(-bw).Intersect(b)
		if px.Empty() {
			continue
		}
		draw.Draw(canvas, px, fill, image.Point{}, draw.Over)

		edges := []image.Rectangle{
			image.Rect(px.Min.X, px.Min.Y, px.Max.X, px.Min.Y+bw),
			image.Rect(px.Min.X, px.Max.Y-bw, px.Max.X, px.Max.Y),
			image.Rect(px.Min.X, px.Min.Y, px.Min.X+bw, px.Max.Y),
			image.Rect(px.Max.X-bw, px.Min.Y, px.Max.X, px.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(canvas, e.Intersect(px), border, image.Point{}, draw.Src)
		}
	}
}
