package httpapi

import (
	"context"
	"net/http"
	"os"
	"time"
)

type rootResponse struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Hostname  string    `json:"hostname"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, notFoundErrorf("not found"))
		return
	}
	hostname, _ := os.Hostname()
	writeJSON(w, http.StatusOK, rootResponse{
		Service:   string(s.role),
		Version:   s.version,
		Hostname:  hostname,
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

type infoResponse struct {
	Hostname        string `json:"hostname"`
	AgentVersion    string `json:"agentVersion"`
	DockerVersion   string `json:"dockerVersion"`
	DockerConnected bool   `json:"dockerConnected"`
	PSISupported    bool   `json:"psiSupported"`
}

// handleInfo reports capability for the Agent's own runtime
// connection (or, in Collector mode, the first enabled host's — the
// capability surface was only ever defined for a single node).
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ids := s.resolveHostIDs(r)
	resp := infoResponse{AgentVersion: s.version, PSISupported: s.psiSupported}
	resp.Hostname, _ = os.Hostname()

	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	h, err := requireHost(s.registry, ids[0])
	if err != nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	client, err := dialHost(h.URL)
	if err != nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err == nil {
		resp.DockerConnected = true
		if v, err := client.ServerVersion(ctx); err == nil {
			resp.DockerVersion = v
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	Hostname       string    `json:"hostname"`
	AgentVersion   string    `json:"agentVersion"`
	PSISupported   bool      `json:"psiSupported"`
	ContainerCount int       `json:"containerCount"`
	TotalSnapshots int       `json:"totalSnapshots"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	var containerCount, totalSnapshots int
	for _, id := range s.resolveHostIDs(r) {
		containers := s.store.ListContainers(id)
		containerCount += len(containers)
		for _, c := range containers {
			totalSnapshots += len(s.store.Query(id, c.ContainerID, time.Time{}, time.Time{}))
		}
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Hostname:       hostname,
		AgentVersion:   s.version,
		PSISupported:   s.psiSupported,
		ContainerCount: containerCount,
		TotalSnapshots: totalSnapshots,
		Timestamp:      time.Now().UTC(),
	})
}
