package annotate

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"reflect"
	"testing"

	"github.com/dgallion1/docaudit/internal/pdftest"
	pdflib "github.com/ledongthuc/pdf"
)

func openForTest(doc []byte) (*pdflib.Reader, error) {
	return pdflib.NewReader(bytes.NewReader(doc), int64(len(doc)))
}

type fakeRasterizer struct {
	opens    int
	rendered []int
	failOpen error
}

func (f *fakeRasterizer) Open(pdf []byte) (PageRenderer, error) {
	f.opens++
	if f.failOpen != nil {
		return nil, f.failOpen
	}
	return &fakeRenderer{parent: f}, nil
}

type fakeRenderer struct {
	parent *fakeRasterizer
}

func (r *fakeRenderer) Render(page int, zoom float64) (image.Image, error) {
	r.parent.rendered = append(r.parent.rendered, page)
	img := image.NewRGBA(image.Rect(0, 0, int(612*zoom), int(792*zoom)))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img, nil
}

func (r *fakeRenderer) Close() error { return nil }

func hasRedPixel(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R > 200 && c.G < 240 && c.B < 240 {
				return true
			}
		}
	}
	return false
}

func TestCleanTokens(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"plain", []string{"100m2"}, []string{"100m2"}},
		{"whitespace", []string{"  0123 "}, []string{"0123"}},
		{"straight quotes", []string{`"Nguyen"`, "'ab'"}, []string{"Nguyen", "ab"}},
		{"curly quotes", []string{"“Lot 5”", "‘xy’"}, []string{"Lot 5", "xy"}},
		{"interior quotes", []string{`5'6"`, `"O'Brien"`, "Lot “5”A"}, []string{"56", "OBrien", "Lot 5A"}},
		{"quotes then whitespace", []string{`" Lot 7 "`}, []string{"Lot 7"}},
		{"too short", []string{"x", "'y'", " ", "", `"'"`}, nil},
		{"order kept", []string{"bb", "a", "cc"}, []string{"bb", "cc"}},
		{"multibyte counts runes", []string{"Đô"}, []string{"Đô"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanTokens(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CleanTokens(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAnnotate_EmptyInputs(t *testing.T) {
	raster := &fakeRasterizer{}
	a := New(raster, 0, nil)

	doc := pdftest.Build([]string{"x marks the spot"})
	for _, tc := range []struct {
		name   string
		pdf    []byte
		tokens []string
	}{
		{"no pdf", nil, []string{"spot"}},
		{"no tokens", doc, nil},
		{"only short tokens", doc, []string{"x", "'y'"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Annotate(tc.pdf, tc.tokens)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("expected no highlights, got %d", len(got))
			}
		})
	}
	if raster.opens != 0 {
		t.Errorf("expected renderer never opened, got %d opens", raster.opens)
	}
}

func TestAnnotate_OnlyMatchingPages(t *testing.T) {
	doc := pdftest.Build(
		[]string{"Area: 100m2"},
		[]string{"Nothing to see here"},
		[]string{"ID 0123", "Area again 100m2"},
	)
	raster := &fakeRasterizer{}
	a := New(raster, 2, nil)

	got, err := a.Annotate(doc, []string{"100m2", `"0123"`, "z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 highlighted pages, got %d", len(got))
	}
	if got[0].Page != 1 || got[1].Page != 3 {
		t.Errorf("expected pages [1 3], got [%d %d]", got[0].Page, got[1].Page)
	}
	if !reflect.DeepEqual(raster.rendered, []int{1, 3}) {
		t.Errorf("expected only pages 1 and 3 rendered, got %v", raster.rendered)
	}
	for _, h := range got {
		if h.Image.Bounds().Dx() != 1224 || h.Image.Bounds().Dy() != 1584 {
			t.Errorf("page %d: expected 2x render, got %v", h.Page, h.Image.Bounds())
		}
		if !hasRedPixel(h.Image) {
			t.Errorf("page %d: expected a red highlight", h.Page)
		}
	}
}

func TestAnnotate_NoMatches(t *testing.T) {
	raster := &fakeRasterizer{}
	a := New(raster, 0, nil)

	got, err := a.Annotate(pdftest.Build([]string{"Hello World"}), []string{"absent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no highlights, got %d", len(got))
	}
	if raster.opens != 0 {
		t.Errorf("expected renderer not opened when nothing matches")
	}
}

func TestAnnotate_MalformedPDF(t *testing.T) {
	a := New(&fakeRasterizer{}, 0, nil)
	_, err := a.Annotate([]byte("%PDF-1.4 this is not really a pdf"), []string{"value"})
	var ae *AnnotationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AnnotationError, got %v", err)
	}
}

func TestAnnotate_RendererFailure(t *testing.T) {
	boom := errors.New("no mupdf")
	a := New(&fakeRasterizer{failOpen: boom}, 0, nil)
	got, err := a.Annotate(pdftest.Build([]string{"Hello World"}), []string{"World"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped renderer error, got %v", err)
	}
	if got != nil {
		t.Errorf("expected no partial result, got %d pages", len(got))
	}
}

func TestPageTextSearch(t *testing.T) {
	doc := pdftest.Build([]string{"Hello World", "Second line"})
	r, err := openForTest(doc)
	if err != nil {
		t.Fatal(err)
	}
	pt := newPageText(r.Page(1).Content().Text)

	rects := pt.Search("World")
	if len(rects) != 1 {
		t.Fatalf("expected 1 rect, got %d (text %q)", len(rects), pt.text)
	}
	w := rects[0]
	if w.X0 <= 72 || w.X1 <= w.X0 || w.Y0 >= 720 || w.Y1 <= 720 {
		t.Errorf("unexpected rect for World: %+v", w)
	}

	// A phrase that wraps across two lines gets one box per line.
	span := pt.Search("World Second")
	if len(span) != 2 {
		t.Errorf("expected 2 rects for a wrapped match, got %d", len(span))
	}

	if got := pt.Search("missing"); len(got) != 0 {
		t.Errorf("expected no rects, got %d", len(got))
	}
}

func TestDrawHighlights_StaysInBounds(t *testing.T) {
	canvas := image.NewRGBA(image.Rect(0, 0, 100, 100))
	box := Rect{X1: 100, Y1: 100}
	drawHighlights(canvas, box, []Rect{{X0: 90, Y0: 90, X1: 150, Y1: 150}, {X0: 10, Y0: 10, X1: 20, Y1: 20}})

	// The second rect maps to y 80..90, padded by a 2px border.
	if c := canvas.RGBAAt(10, 78); c.R != 0xff || c.A != 0xff {
		t.Errorf("expected solid border pixel, got %+v", c)
	}
	if c := canvas.RGBAAt(15, 85); c.A == 0 || c.A == 0xff {
		t.Errorf("expected translucent fill, got %+v", c)
	}
	if c := canvas.RGBAAt(50, 50); c.A != 0 {
		t.Errorf("expected untouched pixel, got %+v", c)
	}
}
