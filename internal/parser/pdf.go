package parser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// ScannedPDFText is returned for PDFs without a text layer so downstream
// readers know the document exists but could not be read as text.
func ScannedPDFText(filename string) string {
	return fmt.Sprintf("[Scan PDF: %s]", filename)
}

// decodePDF extracts the text layer page by page. It tries the Go library
// first, then falls back to pdftotext if enabled.
func (d *Decoder) decodePDF(r io.Reader, filename string) (string, error) {
	ra, size, err := readerAt(r)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	text, err := extractPDFText(ra, size)
	if err != nil && d.FallbackPdftotext {
		text, err = extractPdftotext(ra, size)
	}
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		return ScannedPDFText(filename), nil
	}
	return text, nil
}

func extractPDFText(ra io.ReaderAt, size int64) (string, error) {
	reader, err := pdflib.NewReader(ra, size)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || text == "" {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

func extractPdftotext(ra io.ReaderAt, size int64) (string, error) {
	// pdftotext only reads from a path, so spill to a temp file.
	tmp, err := os.CreateTemp("", "docaudit-pdf-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, io.NewSectionReader(ra, 0, size)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	cmd := exec.Command("pdftotext", "-layout", tmpPath, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	// pdftotext separates pages with form feeds.
	return strings.ReplaceAll(string(out), "\f", "\n"), nil
}
