package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/fumiama/go-docx"
)

// decodeDOCX joins every body paragraph's text with newlines, in document
// order. Tables and other non-paragraph items are skipped.
func decodeDOCX(r io.Reader) (string, error) {
	ra, size, err := readerAt(r)
	if err != nil {
		return "", fmt.Errorf("read docx: %w", err)
	}

	doc, err := docx.Parse(ra, size)
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}

	var paras []string
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		paras = append(paras, docxParagraphText(para))
	}
	return strings.Join(paras, "\n"), nil
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return buf.String()
}
