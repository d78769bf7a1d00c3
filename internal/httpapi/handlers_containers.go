package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/container-telemetry/fabric/internal/query"
	"github.com/container-telemetry/fabric/internal/runtimeclient"
)

// handleContainers serves GET /api/containers?all=&hostId=.
func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, validationErrorf("method %s not allowed", r.Method))
		return
	}

	includeAll := r.URL.Query().Get("all") == "true"

	q := query.Query{Type: query.TypeContainers, HostIDs: s.resolveHostIDs(r)}
	rows, err := s.query.Containers(q)
	if err != nil {
		writeError(w, notConfiguredErrorf("%v", err))
		return
	}

	if !includeAll {
		filtered := rows[:0:0]
		for _, row := range rows {
			if row.IsRunning {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	writeJSON(w, http.StatusOK, rows)
}

// handleContainerDetail dispatches /api/containers/{id}/status and
// /api/containers/{id}/{verb} by splitting the trailing path.
func (s *Server) handleContainerDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/containers/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, validationErrorf("expected /api/containers/{id}/{status|verb}"))
		return
	}
	id, action := parts[0], parts[1]

	if action == "status" {
		s.handleContainerStatus(w, r, id)
		return
	}
	s.handleContainerControl(w, r, id, action)
}

func (s *Server) handleContainerStatus(w http.ResponseWriter, r *http.Request, containerID string) {
	ids := s.resolveHostIDs(r)
	if len(ids) == 0 {
		writeError(w, notConfiguredErrorf("no enabled hosts configured"))
		return
	}

	for _, hostID := range ids {
		for _, c := range s.store.ListContainers(hostID) {
			if c.ContainerID == containerID {
				writeJSON(w, http.StatusOK, c)
				return
			}
		}
	}
	writeError(w, notFoundErrorf("container %q not found", containerID))
}

type controlResponse struct {
	Success     bool   `json:"success"`
	Action      string `json:"action"`
	ContainerID string `json:"containerId"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleContainerControl(w http.ResponseWriter, r *http.Request, containerID, verb string) {
	if r.Method != http.MethodPost {
		writeError(w, validationErrorf("method %s not allowed", r.Method))
		return
	}
	if !s.cfg.Control.Enabled {
		writeError(w, notConfiguredErrorf("container controls are disabled"))
		return
	}

	switch runtimeclient.ControlVerb(verb) {
	case runtimeclient.VerbStart, runtimeclient.VerbStop, runtimeclient.VerbRestart,
		runtimeclient.VerbPause, runtimeclient.VerbUnpause:
	default:
		writeError(w, validationErrorf("unknown control verb %q", verb))
		return
	}
	if !s.cfg.ActionAllowed(verb) {
		writeError(w, validationErrorf("control action %q is not in the allowed list", verb))
		return
	}

	ids := s.resolveHostIDs(r)
	if len(ids) == 0 {
		writeError(w, notConfiguredErrorf("no enabled hosts configured"))
		return
	}

	var hostURL string
	found := false
	for _, hostID := range ids {
		for _, c := range s.store.ListContainers(hostID) {
			if c.ContainerID != containerID {
				continue
			}
			if h, err := requireHost(s.registry, hostID); err == nil {
				hostURL = h.URL
				found = true
			}
			break
		}
		if found {
			break
		}
	}
	if !found {
		writeError(w, notFoundErrorf("container %q not found on any enabled host", containerID))
		return
	}

	client, err := dialHost(hostURL)
	if err != nil {
		writeJSON(w, http.StatusOK, controlResponse{Action: verb, ContainerID: containerID, Error: err.Error()})
		return
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result := client.Control(ctx, containerID, runtimeclient.ControlVerb(verb), runtimeclient.DefaultStopGrace)
	writeJSON(w, http.StatusOK, controlResponse{
		Success:     result.Success,
		Action:      verb,
		ContainerID: containerID,
		Error:       result.Error,
	})
}
