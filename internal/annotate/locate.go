package annotate

import (
	"math"
	"sort"
	"strings"
	"unicode"

	pdflib "github.com/ledongthuc/pdf"
)

// Rect is an axis-aligned box in PDF user space (origin bottom-left).
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) empty() bool { return r.X1 <= r.X0 || r.Y1 <= r.Y0 }

func (r Rect) union(o Rect) Rect {
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

// pageText is a page's glyph run flattened to a searchable string. Each
// byte of text maps back to the glyph that produced it, or -1 for spaces
// inserted between words and lines.
type pageText struct {
	text   string
	starts []int // byte offset in text of each entry in owner
	owner  []int // glyph index per entry, -1 for synthetic spaces
	glyphs []pdflib.Text
}

func newPageText(glyphs []pdflib.Text) *pageText {
	pt := &pageText{glyphs: glyphs}
	var b strings.Builder

	add := func(s string, glyph int) {
		pt.starts = append(pt.starts, b.Len())
		pt.owner = append(pt.owner, glyph)
		b.WriteString(s)
	}

	var prev *pdflib.Text
	for i := range glyphs {
		g := &glyphs[i]
		if g.S == "" {
			continue
		}
		if prev != nil && needsBreak(prev, g) && !endsWithSpace(b.String()) && !startsWithSpace(g.S) {
			add(" ", -1)
		}
		add(g.S, i)
		prev = g
	}
	pt.text = b.String()
	return pt
}

// needsBreak reports whether two consecutive glyphs belong to different
// lines, or sit far enough apart on one line to read as separate words.
func needsBreak(prev, cur *pdflib.Text) bool {
	size := math.Max(math.Abs(prev.FontSize), 1)
	if math.Abs(cur.Y-prev.Y) > size*0.5 {
		return true
	}
	gap := cur.X - (prev.X + prev.W)
	return gap > size*0.2 || cur.X < prev.X-size*0.5
}

func endsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[len(s)-1]))
}

func startsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[0]))
}

// entryAt returns the index of the entry containing byte offset off.
func (pt *pageText) entryAt(off int) int {
	return sort.Search(len(pt.starts), func(i int) bool { return pt.starts[i] > off }) - 1
}

// Search finds every non-overlapping literal occurrence of term and
// returns one rectangle per line the occurrence spans.
func (pt *pageText) Search(term string) []Rect {
	if term == "" {
		return nil
	}
	var rects []Rect
	from := 0
	for from < len(pt.text) {
		idx := strings.Index(pt.text[from:], term)
		if idx < 0 {
			break
		}
		start := from + idx
		end := start + len(term)
		rects = append(rects, pt.matchRects(start, end)...)
		from = end
	}
	return rects
}

func (pt *pageText) matchRects(start, end int) []Rect {
	first := pt.entryAt(start)
	last := pt.entryAt(end - 1)

	var rects []Rect
	var cur Rect
	var curGlyph *pdflib.Text
	for e := first; e <= last; e++ {
		gi := pt.owner[e]
		if gi < 0 {
			continue
		}
		g := &pt.glyphs[gi]
		box := glyphBox(g)
		switch {
		case curGlyph == nil:
			cur = box
		case math.Abs(g.Y-curGlyph.Y) > math.Max(math.Abs(curGlyph.FontSize), 1)*0.5:
			if !cur.empty() {
				rects = append(rects, cur)
			}
			cur = box
		default:
			cur = cur.union(box)
		}
		curGlyph = g
	}
	if curGlyph != nil && !cur.empty() {
		rects = append(rects, cur)
	}
	return rects
}

// glyphBox approximates a glyph's ink box from its baseline origin,
// advance width and font size.
func glyphBox(g *pdflib.Text) Rect {
	size := math.Abs(g.FontSize)
	if size == 0 {
		size = 10
	}
	w := g.W
	if w <= 0 {
		// Fonts without a Widths array report zero advance.
		w = size * 0.5
	}
	return Rect{
		X0: g.X,
		Y0: g.Y - size*0.25,
		X1: g.X + w,
		Y1: g.Y + size*0.9,
	}
}

// mediaBox finds the page's MediaBox, following inherited values up the
// page tree, and falls back to US Letter.
func mediaBox(p pdflib.Page) Rect {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		mb := v.Key("MediaBox")
		if mb.Kind() == pdflib.Array && mb.Len() == 4 {
			r := Rect{
				X0: math.Min(mb.Index(0).Float64(), mb.Index(2).Float64()),
				Y0: math.Min(mb.Index(1).Float64(), mb.Index(3).Float64()),
				X1: math.Max(mb.Index(0).Float64(), mb.Index(2).Float64()),
				Y1: math.Max(mb.Index(1).Float64(), mb.Index(3).Float64()),
			}
			if !r.empty() {
				return r
			}
		}
	}
	return Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}
}
