package annotate

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRasterizer renders pages with MuPDF.
type FitzRasterizer struct{}

func (FitzRasterizer) Open(pdf []byte) (PageRenderer, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("mupdf open: %w", err)
	}
	return &fitzDoc{doc: doc}, nil
}

type fitzDoc struct {
	doc *fitz.Document
}

func (d *fitzDoc) Render(page int, zoom float64) (image.Image, error) {
	if page < 1 || page > d.doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (1-%d)", page, d.doc.NumPage())
	}
	img, err := d.doc.ImageDPI(page-1, 72*zoom)
	if err != nil {
		return nil, fmt.Errorf("mupdf render page %d: %w", page, err)
	}
	return img, nil
}

func (d *fitzDoc) Close() error {
	return d.doc.Close()
}
