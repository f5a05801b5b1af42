package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/docaudit/internal/annotate"
	"github.com/dgallion1/docaudit/internal/audit"
	"github.com/dgallion1/docaudit/internal/corpus"
	"github.com/dgallion1/docaudit/internal/parser"
	"github.com/dgallion1/docaudit/internal/report"
)

// Streamer produces the audit report as a sequence of text chunks.
type Streamer interface {
	Stream(ctx context.Context, req audit.Request) iter.Seq2[string, error]
}

// Highlighter renders the pages of a PDF that contain the given tokens.
type Highlighter interface {
	Annotate(pdf []byte, tokens []string) ([]annotate.Highlight, error)
}

// RuleLister supplies the current exemption rules.
type RuleLister interface {
	List() []string
}

// AuditObserver records audit outcomes.
type AuditObserver interface {
	ObserveHighlights(pages int)
	ObserveAnnotateFailure()
	ObserveAudit(status string, streamed time.Duration, tokens int)
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Aggregator    *corpus.Aggregator
	Streamer      Streamer
	Highlighter   Highlighter
	Rules         RuleLister
	Observer      AuditObserver
	PromptHeader  string
	SessionTTL    time.Duration
	MaxConcurrent int // target PDFs annotated at once
}

// Orchestrator owns the audit sessions and runs audits against them.
type Orchestrator struct {
	sessions    *SessionStore
	aggregator  *corpus.Aggregator
	streamer    Streamer
	highlighter Highlighter
	rules       RuleLister
	observer    AuditObserver
	header      string
	maxParallel int
	log         *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(deps Deps, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if deps.Aggregator == nil {
		deps.Aggregator = corpus.NewAggregator(nil, log, nil)
	}
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = 2 * time.Hour
	}
	if deps.MaxConcurrent <= 0 {
		deps.MaxConcurrent = 2
	}
	return &Orchestrator{
		sessions:    NewSessionStore(deps.SessionTTL),
		aggregator:  deps.Aggregator,
		streamer:    deps.Streamer,
		highlighter: deps.Highlighter,
		rules:       deps.Rules,
		observer:    deps.Observer,
		header:      deps.PromptHeader,
		maxParallel: deps.MaxConcurrent,
		log:         log,
	}
}

// Start launches the session cleanup loop.
func (o *Orchestrator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if n := o.sessions.Cleanup(); n > 0 {
					o.log.Info("expired sessions removed", "count", n)
				}
			}
		}
	}()
}

// Stop gracefully shuts down background work.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) Sessions() *SessionStore {
	return o.sessions
}

// SetCorpus decodes uploads and stores them as the session's corpus for
// role. Target PDFs are retained for highlighting.
func (o *Orchestrator) SetCorpus(sess *Session, role corpus.Role, uploads []parser.Upload) (CorpusSummary, error) {
	files := make([]FileInfo, 0, len(uploads))
	var pdfs []TargetPDF
	for _, u := range uploads {
		kind := parser.DetectKind(u.Name, u.ContentType)
		data, err := readAll(u.Body)
		if err != nil {
			return CorpusSummary{}, fmt.Errorf("read %s: %w", u.Name, err)
		}
		files = append(files, FileInfo{
			Name:        u.Name,
			Kind:        kind.String(),
			Size:        int64(len(data)),
			ContentHash: ContentHashHex(data),
		})
		if role == corpus.RoleTarget && kind == parser.KindPDF {
			pdfs = append(pdfs, TargetPDF{Name: u.Name, Data: data})
		}
	}

	payload := o.aggregator.Aggregate(uploads)
	sess.setCorpus(role, payload, files, pdfs)
	o.log.Info("corpus updated",
		"session_id", sess.ID,
		"role", role,
		"files", len(files),
		"text_length", len(payload.Text),
		"images", len(payload.Images),
	)
	return CorpusSummary{Files: files, TextLength: len(payload.Text), Images: len(payload.Images)}, nil
}

// ClearCorpus drops the session's corpus for role.
func (o *Orchestrator) ClearCorpus(sess *Session, role corpus.Role) {
	sess.clearCorpus(role)
	o.log.Info("corpus cleared", "session_id", sess.ID, "role", role)
}

func readAll(r io.ReadSeeker) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// EventKind names what an Event carries.
type EventKind string

const (
	EventChunk     EventKind = "chunk"
	EventTokens    EventKind = "tokens"
	EventWarning   EventKind = "warning"
	EventHighlight EventKind = "highlight"
)

// Event is one step of a running audit, delivered to the caller's sink.
type Event struct {
	Kind   EventKind
	Text   string   // chunk, warning
	Tokens []string // tokens
	File   string   // highlight
	Page   int      // highlight
}

// Sink receives audit events. Returning an error aborts the run.
type Sink func(Event) error

// Run audits the session: it streams the report through sink, extracts
// the error tokens and highlights them in every target PDF. A failure to
// highlight one file is reported as a warning and does not fail the run.
func (o *Orchestrator) Run(ctx context.Context, sess *Session, sink Sink) error {
	if sink == nil {
		sink = func(Event) error { return nil }
	}
	source := sess.Corpus(corpus.RoleSource)
	target := sess.Corpus(corpus.RoleTarget)
	template := sess.Corpus(corpus.RoleTemplate)
	if (source.Text == "" && len(source.Images) == 0) || target.Text == "" {
		return ErrMissingInput
	}

	if err := sess.begin(); err != nil {
		return err
	}
	log := o.log.With("session_id", sess.ID)
	start := time.Now()

	err := o.run(ctx, sess, sink, log, source, target, template)
	sess.end(err)

	tokens := len(sess.Tokens())
	if err != nil {
		log.Error("audit failed", "error", err, "elapsed", time.Since(start))
		o.observeAudit("failed", time.Since(start), tokens)
		return err
	}
	log.Info("audit complete", "tokens", tokens, "elapsed", time.Since(start))
	o.observeAudit("completed", time.Since(start), tokens)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, sess *Session, sink Sink, log *slog.Logger, source, target, template corpus.Payload) error {
	var rules []string
	if o.rules != nil {
		rules = o.rules.List()
	}
	instruction := audit.BuildInstruction(o.header, audit.PromptInput{
		Rules:        rules,
		TemplateText: template.Text,
		HasTemplate:  !template.Empty(),
		TargetText:   target.Text,
		SourceText:   source.Text,
	})
	req := audit.Request{
		Instruction: instruction,
		Images: []audit.ImageGroup{
			{Label: "TEMPLATE IMAGES:", Images: pixels(template.Images)},
			{Label: "SOURCE IMAGES:", Images: pixels(source.Images)},
			{Label: "TARGET IMAGES:", Images: pixels(target.Images)},
		},
	}

	// Phase 1: stream the report.
	var sb strings.Builder
	var streamErr error
	for chunk, err := range o.streamer.Stream(ctx, req) {
		if err != nil {
			streamErr = err
			break
		}
		sb.WriteString(chunk)
		if err := sink(Event{Kind: EventChunk, Text: chunk}); err != nil {
			streamErr = fmt.Errorf("deliver chunk: %w", err)
			break
		}
	}
	text := sb.String()
	sess.setReport(text)
	if streamErr != nil {
		return fmt.Errorf("stream report: %w", streamErr)
	}
	log.Info("report streamed", "length", len(text))

	// Phase 2: extract tokens.
	tokens := report.ExtractTokens(text)
	sess.setTokens(tokens)
	if err := sink(Event{Kind: EventTokens, Tokens: tokens}); err != nil {
		return fmt.Errorf("deliver tokens: %w", err)
	}

	// Phase 3: highlight target PDFs.
	pdfs := sess.TargetPDFs()
	if len(pdfs) == 0 || len(tokens) == 0 || o.highlighter == nil {
		return nil
	}
	sess.SetStatus(StatusHighlighting, "highlighting")

	for _, r := range o.highlightAll(ctx, pdfs, tokens) {
		if r.err != nil {
			msg := fmt.Sprintf("could not highlight %s: %s", r.name, r.err)
			log.Warn("highlight failed", "file", r.name, "error", r.err)
			o.observeAnnotateFailure()
			sess.AddWarning(msg)
			if err := sink(Event{Kind: EventWarning, Text: msg}); err != nil {
				return fmt.Errorf("deliver warning: %w", err)
			}
			continue
		}
		sess.addHighlights(r.name, r.highlights)
		o.observeHighlights(len(r.highlights))
		for _, h := range r.highlights {
			if err := sink(Event{Kind: EventHighlight, File: r.name, Page: h.Page}); err != nil {
				return fmt.Errorf("deliver highlight: %w", err)
			}
		}
	}
	return ctx.Err()
}

type highlightResult struct {
	name       string
	highlights []annotate.Highlight
	err        error
}

// highlightAll annotates every PDF with bounded concurrency and returns
// the results in input order.
func (o *Orchestrator) highlightAll(ctx context.Context, pdfs []TargetPDF, tokens []string) []highlightResult {
	results := make([]highlightResult, len(pdfs))
	sem := make(chan struct{}, o.maxParallel)
	var wg sync.WaitGroup

	for i, pdf := range pdfs {
		results[i].name = pdf.Name
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i].err = ctx.Err()
			continue
		}
		wg.Add(1)
		go func(i int, pdf TargetPDF) {
			defer wg.Done()
			defer func() { <-sem }()
			hs, err := o.highlighter.Annotate(pdf.Data, tokens)
			results[i].highlights = hs
			results[i].err = err
		}(i, pdf)
	}
	wg.Wait()
	return results
}

func pixels(images []corpus.Image) []image.Image {
	out := make([]image.Image, 0, len(images))
	for _, img := range images {
		out = append(out, img.Pixels)
	}
	return out
}

func (o *Orchestrator) observeAudit(status string, elapsed time.Duration, tokens int) {
	if o.observer != nil {
		o.observer.ObserveAudit(status, elapsed, tokens)
	}
}

func (o *Orchestrator) observeHighlights(pages int) {
	if o.observer != nil {
		o.observer.ObserveHighlights(pages)
	}
}

func (o *Orchestrator) observeAnnotateFailure() {
	if o.observer != nil {
		o.observer.ObserveAnnotateFailure()
	}
}
