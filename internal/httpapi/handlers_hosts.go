package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

type hostRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// handleHosts serves GET /api/hosts (list) and POST /api/hosts (add).
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.registry.List())

	case http.MethodPost:
		var req hostRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, validationErrorf("invalid request body: %v", err))
			return
		}
		if req.URL == "" {
			writeError(w, validationErrorf("url is required"))
			return
		}
		h, err := s.registry.Add(req.Name, req.URL, req.Enabled)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, h)

	default:
		writeError(w, validationErrorf("method %s not allowed", r.Method))
	}
}

// handleHostDetail serves PUT and DELETE /api/hosts/{id}.
func (s *Server) handleHostDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/hosts/")
	if id == "" {
		writeError(w, validationErrorf("host id is required"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req hostRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, validationErrorf("invalid request body: %v", err))
			return
		}
		h, err := s.registry.Update(id, req.Name, req.URL, req.Enabled)
		if err != nil {
			writeError(w, notFoundErrorf("%v", err))
			return
		}
		writeJSON(w, http.StatusOK, h)

	case http.MethodDelete:
		h, err := s.registry.Remove(id)
		if err != nil {
			writeError(w, notFoundErrorf("%v", err))
			return
		}
		writeJSON(w, http.StatusOK, h)

	default:
		writeError(w, validationErrorf("method %s not allowed", r.Method))
	}
}
