package corpus

import (
	"image"
	"log/slog"
	"strings"

	"github.com/dgallion1/docaudit/internal/parser"
)

// Role names the part an uploaded batch plays in an audit.
type Role string

const (
	RoleTemplate Role = "template"
	RoleSource   Role = "source"
	RoleTarget   Role = "target"
)

// ParseRole validates a role name from user input.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleTemplate, RoleSource, RoleTarget:
		return r, true
	}
	return "", false
}

// Image is a decoded raster plus the name of the file it came from.
type Image struct {
	Source string
	Pixels image.Image
}

// Payload is the combined content of one uploaded batch.
type Payload struct {
	// Text concatenates each text-bearing file's content under a
	// provenance header. Empty iff no file yielded text.
	Text string
	// Images keeps upload order across files.
	Images []Image
}

// Empty reports whether the batch produced neither text nor images.
func (p Payload) Empty() bool {
	return p.Text == "" && len(p.Images) == 0
}

// FileHeader is the provenance line written before each file's text.
func FileHeader(name string) string {
	return "=== FROM FILE: " + name + " ==="
}

// DecodeObserver receives one call per decoded file.
type DecodeObserver interface {
	ObserveDecode(kind, outcome string)
}

// Aggregator folds a batch of uploads into a single Payload.
type Aggregator struct {
	decoder  *parser.Decoder
	log      *slog.Logger
	observer DecodeObserver
}

func NewAggregator(decoder *parser.Decoder, log *slog.Logger, observer DecodeObserver) *Aggregator {
	if decoder == nil {
		decoder = parser.NewDecoder()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{decoder: decoder, log: log, observer: observer}
}

// Aggregate decodes every upload in order. Failed files contribute their
// error message as text so reviewers can see which file did not parse; no
// single failure aborts the batch.
func (a *Aggregator) Aggregate(files []parser.Upload) Payload {
	var text strings.Builder
	var images []Image

	for _, f := range files {
		kind := parser.DetectKind(f.Name, f.ContentType)
		res := a.decoder.Decode(f)
		if a.observer != nil {
			a.observer.ObserveDecode(kind.String(), res.Kind.String())
		}

		switch res.Kind {
		case parser.ResultText, parser.ResultError:
			if res.Kind == parser.ResultError {
				a.log.Warn("decode failed", "file", f.Name, "kind", kind.String(), "error", res.Text)
			}
			text.WriteString("\n" + FileHeader(f.Name) + "\n")
			text.WriteString(res.Text)
			text.WriteString("\n")
		case parser.ResultImage:
			images = append(images, Image{Source: f.Name, Pixels: res.Image})
		case parser.ResultEmpty:
			a.log.Debug("no content extracted", "file", f.Name, "kind", kind.String())
		}
	}

	return Payload{Text: text.String(), Images: images}
}
