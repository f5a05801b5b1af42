package api

import (
	"encoding/json"
	"net/http"
)

type addRuleRequest struct {
	Rule string `json:"rule"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.rules.List()})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req addRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	added, err := s.rules.Add(req.Rule)
	if err != nil {
		s.log.Error("add rule", "error", err)
		jsonError(w, "failed to save rule", http.StatusInternalServerError)
		return
	}
	code := http.StatusOK
	if added {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{
		"added": added,
		"rules": s.rules.List(),
	})
}

func (s *Server) handleClearRules(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Clear(); err != nil {
		s.log.Error("clear rules", "error", err)
		jsonError(w, "failed to clear rules", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
