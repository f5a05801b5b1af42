package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MarkClass is the CSS class put on rendered error tokens.
const MarkClass = "audit-error"

// Renderer turns markdown report text into sanitized HTML.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewRenderer() *Renderer {
	return &Renderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
		policy: bluemonday.UGCPolicy(),
	}
}

// RenderHTML converts the report to HTML. Model output is untrusted, so the
// rendered markup is sanitized before the error markers are replaced with
// <mark class="audit-error"> elements.
func (r *Renderer) RenderHTML(markdown string) (string, error) {
	var raw bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &raw); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	clean := r.policy.SanitizeBytes(raw.Bytes())

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(bytes.NewReader(clean), body)
	if err != nil {
		return "", fmt.Errorf("parse rendered html: %w", err)
	}

	var out strings.Builder
	for _, n := range nodes {
		markTokens(n)
		if err := html.Render(&out, n); err != nil {
			return "", fmt.Errorf("write html: %w", err)
		}
	}
	return out.String(), nil
}

// markTokens rewrites text nodes under n, splitting "[[[x]]]" runs into
// <mark> elements. Text inside code blocks is left alone.
func markTokens(n *html.Node) {
	if n.Type == html.ElementNode && (n.DataAtom == atom.Code || n.DataAtom == atom.Pre) {
		return
	}
	if n.Type == html.TextNode {
		replaceMarkedText(n)
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		markTokens(c)
		c = next
	}
}

func replaceMarkedText(n *html.Node) {
	locs := tokenRe.FindAllStringSubmatchIndex(n.Data, -1)
	if len(locs) == 0 || n.Parent == nil {
		return
	}

	parent := n.Parent
	text := n.Data
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[prev:loc[0]]}, n)
		}
		mark := &html.Node{
			Type:     html.ElementNode,
			Data:     "mark",
			DataAtom: atom.Mark,
			Attr:     []html.Attribute{{Key: "class", Val: MarkClass}},
		}
		mark.AppendChild(&html.Node{Type: html.TextNode, Data: text[loc[2]:loc[3]]})
		parent.InsertBefore(mark, n)
		prev = loc[1]
	}
	if prev < len(text) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[prev:]}, n)
	}
	parent.RemoveChild(n)
}
