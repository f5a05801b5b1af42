package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"image/png"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dgallion1/docaudit/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// sseWriter sends server-sent events, writing the response header on
// the first event so that early failures can still return a JSON error.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func highlightURL(sessionID, file string, page int) string {
	return fmt.Sprintf("/api/sessions/%s/highlights/%s/%d", sessionID, url.PathEscape(file), page)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming is not supported", http.StatusInternalServerError)
		return
	}

	sse := &sseWriter{w: w, flusher: flusher}
	highlights := 0
	err := s.orchestrator.Run(r.Context(), sess, func(e pipeline.Event) error {
		switch e.Kind {
		case pipeline.EventChunk:
			return sse.send("chunk", map[string]string{"text": e.Text})
		case pipeline.EventTokens:
			return sse.send("tokens", map[string]any{"tokens": e.Tokens})
		case pipeline.EventWarning:
			return sse.send("warning", map[string]string{"message": e.Text})
		case pipeline.EventHighlight:
			highlights++
			return sse.send("highlight", map[string]any{
				"file": e.File,
				"page": e.Page,
				"url":  highlightURL(sess.ID, e.File, e.Page),
			})
		}
		return nil
	})

	if err != nil && !sse.started {
		switch {
		case errors.Is(err, pipeline.ErrMissingInput):
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, pipeline.ErrAuditInProgress):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, err.Error(), http.StatusBadGateway)
		}
		return
	}
	if err != nil {
		if r.Context().Err() == nil {
			sse.send("error", map[string]string{"error": err.Error()})
		}
		return
	}
	sse.send("done", map[string]any{
		"session_id": sess.ID,
		"tokens":     len(sess.Tokens()),
		"highlights": highlights,
	})
}

const reportPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title>
<style>mark.audit-error{background:#ffd6d6;color:#b00020;font-weight:bold}</style>
</head><body>
%s
</body></html>
`

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	text := sess.Report()
	if text == "" {
		jsonError(w, "no report yet", http.StatusNotFound)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="audit_report.txt"`)
		w.Write([]byte(text))
	case "html":
		body, err := s.renderer.RenderHTML(text)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, reportPage, html.EscapeString("Audit report "+sess.ID), body)
	default:
		jsonError(w, "format must be txt or html", http.StatusBadRequest)
	}
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	// chi matches on the decoded path, so the parameter is already unescaped.
	file := chi.URLParam(r, "file")
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		jsonError(w, "page must be a positive integer", http.StatusBadRequest)
		return
	}

	img, err := sess.Highlight(file, page)
	if err != nil {
		jsonError(w, "highlight not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		s.log.Error("encode highlight", "session_id", sess.ID, "file", file, "page", page, "error", err)
	}
}
