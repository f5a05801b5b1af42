package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docaudit/internal/corpus"
	"github.com/dgallion1/docaudit/internal/parser"
	"github.com/dgallion1/docaudit/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.orchestrator.Sessions().Create()
	s.log.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handlePutCorpus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	role, ok := corpus.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		jsonError(w, "role must be one of template, source, target", http.StatusBadRequest)
		return
	}

	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+1024*1024) // extra 1MB for form overhead
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	uploads := make([]parser.Upload, 0, len(headers))
	for _, fh := range headers {
		u, err := s.readUpload(fh)
		if err != nil {
			code := http.StatusBadRequest
			if errors.Is(err, errTooLarge) {
				code = http.StatusRequestEntityTooLarge
			}
			jsonError(w, err.Error(), code)
			return
		}
		uploads = append(uploads, u)
	}

	summary, err := s.orchestrator.SetCorpus(sess, role, uploads)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"role":       role,
		"corpus":     summary,
	})
}

func (s *Server) handleDeleteCorpus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	role, ok := corpus.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		jsonError(w, "role must be one of template, source, target", http.StatusBadRequest)
		return
	}
	s.orchestrator.ClearCorpus(sess, role)
	w.WriteHeader(http.StatusNoContent)
}

var errTooLarge = errors.New("file too large")

func (s *Server) readUpload(fh *multipart.FileHeader) (parser.Upload, error) {
	filename := sanitizeFilename(fh.Filename)
	f, err := fh.Open()
	if err != nil {
		return parser.Upload{}, fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return parser.Upload{}, fmt.Errorf("read %s: %w", filename, err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return parser.Upload{}, fmt.Errorf("%s exceeds max size (%d bytes): %w", filename, s.cfg.MaxUploadBytes, errTooLarge)
	}
	return parser.Upload{
		Name:        filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        bytes.NewReader(data),
	}, nil
}

// session resolves the {sessionID} URL parameter, writing a 404 when it
// is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	sess, err := s.orchestrator.Sessions().Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
