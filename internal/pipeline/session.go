package pipeline

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/dgallion1/docaudit/internal/annotate"
	"github.com/dgallion1/docaudit/internal/corpus"
	"github.com/google/uuid"
)

// Status represents the state of an audit session.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusAuditing     Status = "auditing"
	StatusHighlighting Status = "highlighting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAuditInProgress = errors.New("an audit is already running for this session")
	ErrMissingInput    = errors.New("source documents and a target report are required")
)

// FileInfo describes one uploaded file kept in a corpus.
type FileInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

// TargetPDF is a target upload retained for highlighting.
type TargetPDF struct {
	Name string
	Data []byte
}

type roleCorpus struct {
	payload corpus.Payload
	files   []FileInfo
}

// Session holds one user's corpora and the results of their last audit.
type Session struct {
	mu sync.Mutex

	ID        string
	Status    Status
	Phase     string
	CreatedAt time.Time
	UpdatedAt time.Time

	corpora    map[corpus.Role]roleCorpus
	targetPDFs []TargetPDF
	report     string
	tokens     []string
	highlights map[string][]annotate.Highlight
	warnings   []string
	lastError  string
	running    bool
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		Status:     StatusIdle,
		Phase:      "idle",
		CreatedAt:  now,
		UpdatedAt:  now,
		corpora:    make(map[corpus.Role]roleCorpus),
		highlights: make(map[string][]annotate.Highlight),
	}
}

// SetStatus updates session status atomically.
func (s *Session) SetStatus(status Status, phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.Phase = phase
	s.UpdatedAt = time.Now()
}

// setCorpus replaces the corpus for role. For the target role the
// retained PDFs are replaced as well.
func (s *Session) setCorpus(role corpus.Role, payload corpus.Payload, files []FileInfo, pdfs []TargetPDF) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corpora[role] = roleCorpus{payload: payload, files: files}
	if role == corpus.RoleTarget {
		s.targetPDFs = pdfs
	}
	s.UpdatedAt = time.Now()
}

func (s *Session) clearCorpus(role corpus.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.corpora, role)
	if role == corpus.RoleTarget {
		s.targetPDFs = nil
	}
	s.UpdatedAt = time.Now()
}

// Corpus returns the aggregated payload for role.
func (s *Session) Corpus(role corpus.Role) corpus.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corpora[role].payload
}

func (s *Session) TargetPDFs() []TargetPDF {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.targetPDFs)
}

// Report returns the last report text, complete or partial.
func (s *Session) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

func (s *Session) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tokens)
}

// Highlight returns the rendered page for a target file.
func (s *Session) Highlight(file string, page int) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.highlights[file] {
		if h.Page == page {
			return h.Image, nil
		}
	}
	return nil, fmt.Errorf("highlight %s page %d: %w", file, page, ErrNotFound)
}

// begin marks the session as running and resets the previous results.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAuditInProgress
	}
	s.running = true
	s.report = ""
	s.tokens = nil
	s.highlights = make(map[string][]annotate.Highlight)
	s.warnings = nil
	s.lastError = ""
	s.Status = StatusAuditing
	s.Phase = "streaming report"
	s.UpdatedAt = time.Now()
	return nil
}

func (s *Session) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		s.Status = StatusFailed
		s.lastError = err.Error()
	} else {
		s.Status = StatusCompleted
		s.Phase = "done"
	}
	s.UpdatedAt = time.Now()
}

func (s *Session) setReport(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = text
	s.UpdatedAt = time.Now()
}

func (s *Session) setTokens(tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
}

func (s *Session) addHighlights(file string, hs []annotate.Highlight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlights[file] = hs
	s.UpdatedAt = time.Now()
}

// AddWarning records a non-fatal problem from the last run.
func (s *Session) AddWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
	s.UpdatedAt = time.Now()
}

// CorpusSummary is the JSON view of one role's corpus.
type CorpusSummary struct {
	Files      []FileInfo `json:"files"`
	TextLength int        `json:"text_length"`
	Images     int        `json:"images"`
}

// HighlightRef names one rendered page.
type HighlightRef struct {
	File string `json:"file"`
	Page int    `json:"page"`
}

// Snapshot is a read-only, JSON-safe copy of session state.
type Snapshot struct {
	ID         string                        `json:"session_id"`
	Status     Status                        `json:"status"`
	Phase      string                        `json:"phase"`
	Corpora    map[corpus.Role]CorpusSummary `json:"corpora"`
	HasReport  bool                          `json:"has_report"`
	Tokens     []string                      `json:"tokens"`
	Highlights []HighlightRef                `json:"highlights"`
	Warnings   []string                      `json:"warnings"`
	Error      string                        `json:"error,omitempty"`
	CreatedAt  time.Time                     `json:"created_at"`
	UpdatedAt  time.Time                     `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	corpora := make(map[corpus.Role]CorpusSummary, len(s.corpora))
	for role, c := range s.corpora {
		corpora[role] = CorpusSummary{
			Files:      slices.Clone(c.files),
			TextLength: len(c.payload.Text),
			Images:     len(c.payload.Images),
		}
	}

	refs := []HighlightRef{}
	for _, pdf := range s.targetPDFs {
		for _, h := range s.highlights[pdf.Name] {
			refs = append(refs, HighlightRef{File: pdf.Name, Page: h.Page})
		}
	}

	tokens := slices.Clone(s.tokens)
	if tokens == nil {
		tokens = []string{}
	}
	warnings := slices.Clone(s.warnings)
	if warnings == nil {
		warnings = []string{}
	}

	return Snapshot{
		ID:         s.ID,
		Status:     s.Status,
		Phase:      s.Phase,
		Corpora:    corpora,
		HasReport:  s.report != "",
		Tokens:     tokens,
		Highlights: refs,
		Warnings:   warnings,
		Error:      s.lastError,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// SessionStore is a thread-safe in-memory session registry with TTL eviction.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create registers and returns a new idle session.
func (s *SessionStore) Create() *Session {
	sess := newSession()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return sess
}

func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, nil
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Cleanup removes expired sessions that are not running an audit.
func (s *SessionStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		expired := !sess.running && now.Sub(sess.UpdatedAt) > s.ttl
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
