package parser

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docaudit/internal/pdftest"
	"github.com/fumiama/go-docx"
	"github.com/xuri/excelize/v2"
)

func pngUpload(t *testing.T, name string, w, h int) Upload {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 50 {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return Upload{Name: name, ContentType: "image/png", Body: bytes.NewReader(buf.Bytes())}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		filename    string
		contentType string
		want        FileKind
	}{
		{"photo.jpg", "image/jpeg", KindImage},
		{"photo.png", "image/png", KindImage},
		{"photo.jpg", "image/jpg", KindImage},
		{"photo.JPEG", "", KindImage},
		{"scan.png", "application/octet-stream", KindImage},
		{"report.pdf", "application/pdf", KindPDF},
		{"REPORT.PDF", "", KindPDF},
		{"letter.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", KindDOCX},
		{"book.xlsx", "", KindXLSX},
		{"notes.txt", "text/plain", KindUnknown},
		{"image.gif", "image/gif", KindUnknown},
		{"noext", "", KindUnknown},
	}
	for _, tt := range tests {
		if got := DetectKind(tt.filename, tt.contentType); got != tt.want {
			t.Errorf("DetectKind(%q, %q) = %v, want %v", tt.filename, tt.contentType, got, tt.want)
		}
	}
}

func TestIsSupportedExtension(t *testing.T) {
	for _, name := range []string{"a.pdf", "b.DOCX", "c.xlsx", "d.png", "e.jpg", "f.jpeg"} {
		if !IsSupportedExtension(name) {
			t.Errorf("expected %q to be supported", name)
		}
	}
	for _, name := range []string{"a.txt", "b.doc", "c.xls", "d"} {
		if IsSupportedExtension(name) {
			t.Errorf("expected %q to be unsupported", name)
		}
	}
}

func TestDecode_LargeImageIsShrunk(t *testing.T) {
	d := NewDecoder()
	res := d.Decode(pngUpload(t, "wide.png", 3000, 1000))
	if res.Kind != ResultImage {
		t.Fatalf("expected image result, got %v (%q)", res.Kind, res.Text)
	}
	b := res.Image.Bounds()
	if b.Dx() > 1500 {
		t.Errorf("expected width <= 1500, got %d", b.Dx())
	}
	if b.Dx() != 1500 || b.Dy() != 500 {
		t.Errorf("expected 1500x500, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestDecode_SmallImageUnchanged(t *testing.T) {
	d := NewDecoder()
	res := d.Decode(pngUpload(t, "small.png", 800, 600))
	if res.Kind != ResultImage {
		t.Fatalf("expected image result, got %v", res.Kind)
	}
	if b := res.Image.Bounds(); b.Dx() != 800 || b.Dy() != 600 {
		t.Errorf("expected 800x600, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestDecode_TallNarrowImageUnchanged(t *testing.T) {
	// Only width triggers the shrink.
	d := NewDecoder()
	res := d.Decode(pngUpload(t, "tall.png", 1000, 4000))
	if b := res.Image.Bounds(); b.Dx() != 1000 || b.Dy() != 4000 {
		t.Errorf("expected 1000x4000, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnail_FitsBothEdges(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2000, 3000))
	out := Thumbnail(img, 1500, 1500)
	b := out.Bounds()
	if b.Dx() != 1000 || b.Dy() != 1500 {
		t.Errorf("expected 1000x1500, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestDecode_CorruptImage(t *testing.T) {
	d := NewDecoder()
	res := d.Decode(Upload{Name: "bad.png", ContentType: "image/png", Body: strings.NewReader("not a png")})
	if res.Kind != ResultError {
		t.Fatalf("expected error result, got %v", res.Kind)
	}
	if !strings.HasPrefix(res.Text, "Error: ") {
		t.Errorf("expected error text prefix, got %q", res.Text)
	}
	if res.Image != nil {
		t.Error("error result must not carry an image")
	}
}

func TestDecode_PDFText(t *testing.T) {
	d := NewDecoder()
	data := pdftest.Build([]string{"Hello World"}, []string{"Second page"})
	res := d.Decode(Upload{Name: "report.pdf", ContentType: "application/pdf", Body: bytes.NewReader(data)})
	if res.Kind != ResultText {
		t.Fatalf("expected text result, got %v (%q)", res.Kind, res.Text)
	}
	if !strings.Contains(res.Text, "Hello World") {
		t.Errorf("expected first page text, got %q", res.Text)
	}
	if !strings.Contains(res.Text, "Second page") {
		t.Errorf("expected second page text, got %q", res.Text)
	}
	if strings.Index(res.Text, "Hello World") > strings.Index(res.Text, "Second page") {
		t.Errorf("expected pages in document order, got %q", res.Text)
	}
}

func TestDecode_ScannedPDF(t *testing.T) {
	d := NewDecoder()
	data := pdftest.Build([]string{}, []string{})
	res := d.Decode(Upload{Name: "scan.pdf", Body: bytes.NewReader(data)})
	if res.Kind != ResultText {
		t.Fatalf("expected text result for scanned pdf, got %v (%q)", res.Kind, res.Text)
	}
	if res.Text != ScannedPDFText("scan.pdf") {
		t.Errorf("expected scan marker, got %q", res.Text)
	}
}

func TestDecode_CorruptPDF(t *testing.T) {
	d := NewDecoder()
	res := d.Decode(Upload{Name: "broken.pdf", Body: strings.NewReader("%PDF-1.4 garbage")})
	if res.Kind != ResultError {
		t.Fatalf("expected error result, got %v (%q)", res.Kind, res.Text)
	}
}

func TestDecode_DOCX(t *testing.T) {
	w := docx.New().WithDefaultTheme()
	w.AddParagraph().AddText("First paragraph.")
	w.AddParagraph().AddText("Second paragraph.")
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("write docx: %v", err)
	}

	d := NewDecoder()
	res := d.Decode(Upload{Name: "letter.docx", Body: bytes.NewReader(buf.Bytes())})
	if res.Kind != ResultText {
		t.Fatalf("expected text result, got %v (%q)", res.Kind, res.Text)
	}
	want := "First paragraph.\nSecond paragraph."
	if res.Text != want {
		t.Errorf("expected %q, got %q", want, res.Text)
	}
}

func TestDecode_EmptyDOCX(t *testing.T) {
	w := docx.New().WithDefaultTheme()
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("write docx: %v", err)
	}
	d := NewDecoder()
	res := d.Decode(Upload{Name: "empty.docx", Body: bytes.NewReader(buf.Bytes())})
	if res.Kind != ResultText || res.Text != "" {
		t.Errorf("expected empty text result, got %v %q", res.Kind, res.Text)
	}
}

func TestDecode_XLSX(t *testing.T) {
	f := excelize.NewFile()
	if err := f.SetCellValue("Sheet1", "A1", 1); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Sheet1", "C1", "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet("Sheet2"); err != nil {
		t.Fatal(err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	d := NewDecoder()
	res := d.Decode(Upload{Name: "book.xlsx", Body: bytes.NewReader(buf.Bytes())})
	if res.Kind != ResultText {
		t.Fatalf("expected text result, got %v (%q)", res.Kind, res.Text)
	}
	if !strings.Contains(res.Text, "1 | x") {
		t.Errorf("expected row text %q, got %q", "1 | x", res.Text)
	}
	if !strings.Contains(res.Text, SheetMarker("Sheet1")) {
		t.Errorf("expected Sheet1 marker, got %q", res.Text)
	}
	if !strings.Contains(res.Text, SheetMarker("Sheet2")) {
		t.Errorf("expected Sheet2 marker even for empty sheet, got %q", res.Text)
	}
	if strings.Index(res.Text, SheetMarker("Sheet1")) > strings.Index(res.Text, SheetMarker("Sheet2")) {
		t.Errorf("expected sheets in workbook order, got %q", res.Text)
	}
}

func TestDecode_XLSXCellFormatting(t *testing.T) {
	dateFmt := "yyyy-mm-dd"
	tests := []struct {
		name  string
		value any
		style *excelize.Style
		want  string
	}{
		{"integer", 42, nil, "42"},
		{"float", 3.14, nil, "3.14"},
		{"large float", 1234567.891, nil, "1234567.891"},
		{"date", time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), &excelize.Style{CustomNumFmt: &dateFmt}, "2024-03-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := excelize.NewFile()
			if err := f.SetCellValue("Sheet1", "A1", tt.value); err != nil {
				t.Fatal(err)
			}
			if tt.style != nil {
				id, err := f.NewStyle(tt.style)
				if err != nil {
					t.Fatal(err)
				}
				if err := f.SetCellStyle("Sheet1", "A1", "A1", id); err != nil {
					t.Fatal(err)
				}
			}
			buf, err := f.WriteToBuffer()
			if err != nil {
				t.Fatalf("write xlsx: %v", err)
			}

			res := NewDecoder().Decode(Upload{Name: "cells.xlsx", Body: bytes.NewReader(buf.Bytes())})
			if res.Kind != ResultText {
				t.Fatalf("expected text result, got %v (%q)", res.Kind, res.Text)
			}
			want := SheetMarker("Sheet1") + "\n" + tt.want + "\n"
			if !strings.Contains(res.Text, want) {
				t.Errorf("expected %q in output, got %q", want, res.Text)
			}
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	d := NewDecoder()
	res := d.Decode(Upload{Name: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("hello")})
	if res.Kind != ResultEmpty {
		t.Errorf("expected empty result, got %v", res.Kind)
	}
}

func TestDecode_IdempotentOnSharedBody(t *testing.T) {
	d := NewDecoder()
	data := pdftest.Build([]string{"Parcel 12, area 100m2"})
	u := Upload{Name: "deed.pdf", Body: bytes.NewReader(data)}

	first := d.Decode(u)
	second := d.Decode(u)
	if first.Kind != second.Kind || first.Text != second.Text {
		t.Errorf("expected identical results, got %v %q and %v %q", first.Kind, first.Text, second.Kind, second.Text)
	}
}

func TestDecode_NilBody(t *testing.T) {
	d := NewDecoder()
	if res := d.Decode(Upload{Name: "x.pdf"}); res.Kind != ResultEmpty {
		t.Errorf("expected empty result for nil body, got %v", res.Kind)
	}
}
