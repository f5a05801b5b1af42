// Package pdftest builds small, valid PDF documents for tests.
package pdftest

import (
	"fmt"
	"strings"
)

// Build returns a PDF with one page per element of pages. Each page lists
// its text lines, drawn top-down in 12pt Helvetica starting at (72, 720).
// A page with no lines has an empty content stream.
func Build(pages ...[]string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")

	// 1: catalog, 2: pages, 3: font, then (page, contents) pairs.
	nObjs := 3 + 2*len(pages)
	offsets := make([]int, nObjs+1)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	offsets[2] = b.Len()
	fmt.Fprintf(&b, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), len(pages))

	widths := strings.TrimSpace(strings.Repeat("556 ", 126-32+1))
	offsets[3] = b.Len()
	fmt.Fprintf(&b, "3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [%s] >>\nendobj\n", widths)

	for i, lines := range pages {
		pageObj := 4 + 2*i
		contentObj := pageObj + 1

		offsets[pageObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>\nendobj\n", pageObj, contentObj)

		stream := contentStream(lines)
		offsets[contentObj] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", contentObj, len(stream), stream)
	}

	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", nObjs+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= nObjs; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", nObjs+1, xrefOffset)

	return []byte(b.String())
}

func contentStream(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	var s strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&s, "BT\n/F1 12 Tf\n72 %d Td\n(%s) Tj\nET\n", 720-20*i, escape(line))
	}
	return strings.TrimSuffix(s.String(), "\n")
}

func escape(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, "(", `\(`)
	return strings.ReplaceAll(text, ")", `\)`)
}
