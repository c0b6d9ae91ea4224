package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harrison/umd/internal/exclusion"
)

type ruleRequest struct {
	Pattern string `json:"pattern"`
	Type    string `json:"type"`
	Scope   string `json:"scope,omitempty"`
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": s.exclusions.List(),
	})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rule, err := s.exclusions.Add(req.Pattern, req.Type, req.Scope)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rule, err := s.exclusions.Update(chi.URLParam(r, "ruleID"), req.Pattern, req.Type, req.Scope)
	if err != nil {
		if errors.Is(err, exclusion.ErrRuleNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.exclusions.Remove(chi.URLParam(r, "ruleID")); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
