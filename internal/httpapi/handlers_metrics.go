package httpapi

import (
	"net/http"
	"time"

	"github.com/container-telemetry/fabric/internal/query"
	"github.com/container-telemetry/fabric/internal/telemetry"
)

type metricsResponse struct {
	Metrics  []query.Frame `json:"metrics"`
	Metadata metricsMeta   `json:"metadata"`
}

type metricsMeta struct {
	TotalAvailable int `json:"totalAvailable"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, validationErrorf("method %s not allowed", r.Method))
		return
	}

	q, err := s.buildMetricsQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	frames, err := s.query.Metrics(q)
	if err != nil {
		writeError(w, notConfiguredErrorf("%v", err))
		return
	}
	total := len(frames)

	frames, err = applyLimitAndLatest(r, frames)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, metricsResponse{
		Metrics:  frames,
		Metadata: metricsMeta{TotalAvailable: total},
	})
}

// handleMetricsLatest serves GET /api/metrics/latest: the last Sample
// per container, across every host this request spans.
func (s *Server) handleMetricsLatest(w http.ResponseWriter, r *http.Request) {
	ids := s.resolveHostIDs(r)
	if len(ids) == 0 {
		writeError(w, notConfiguredErrorf("no enabled hosts configured"))
		return
	}

	var out []telemetry.Sample
	for _, hostID := range ids {
		for _, c := range s.store.ListContainers(hostID) {
			samples := s.store.Query(hostID, c.ContainerID, time.Time{}, time.Time{})
			if len(samples) == 0 {
				continue
			}
			out = append(out, samples[len(samples)-1])
		}
	}

	writeJSON(w, http.StatusOK, out)
}
