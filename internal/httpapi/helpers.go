package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/container-telemetry/fabric/internal/query"
	"github.com/container-telemetry/fabric/internal/registry"
)

// resolveHostIDs returns the set of host ids a request should span.
// Agent mode always spans its single synthetic host. Collector mode
// honors hostId=; absent, it spans every currently enabled host.
func (s *Server) resolveHostIDs(r *http.Request) []string {
	if s.role == RoleAgent {
		return []string{s.agentHostID}
	}
	if id := r.URL.Query().Get("hostId"); id != "" {
		return []string{id}
	}
	var ids []string
	for _, h := range s.registry.List() {
		if h.Enabled {
			ids = append(ids, h.ID)
		}
	}
	return ids
}

// parseTimeRange reads from/to as RFC-3339 timestamps; either may be
// absent, meaning unbounded on that side.
func parseTimeRange(r *http.Request) (from, to time.Time, err error) {
	if v := r.URL.Query().Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, validationErrorf("invalid from timestamp %q: %v", v, err)
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, validationErrorf("invalid to timestamp %q: %v", v, err)
		}
	}
	return from, to, nil
}

// buildMetricsQuery assembles a legacy-flat query.Query from the
// standard ?containerId=&fields=&hostId= query parameters shared by
// the Agent and Collector metrics routes.
func (s *Server) buildMetricsQuery(r *http.Request) (query.Query, error) {
	from, to, err := parseTimeRange(r)
	if err != nil {
		return query.Query{}, err
	}

	q := query.Query{
		Type:    query.TypeMetrics,
		From:    from,
		To:      to,
		HostIDs: s.resolveHostIDs(r),
	}

	if id := r.URL.Query().Get("containerId"); id != "" {
		q.ContainerIDs = []string{id}
	}
	if fields := r.URL.Query().Get("fields"); fields != "" {
		q.Metrics = strings.Split(fields, ",")
	}
	return q, nil
}

// applyLimitAndLatest trims each frame's points per the ?limit= and
// ?latest= query parameters, which the query engine itself has no
// concept of — they're an HTTP-layer presentation concern.
func applyLimitAndLatest(r *http.Request, frames []query.Frame) ([]query.Frame, error) {
	latest := r.URL.Query().Get("latest") == "true"
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, validationErrorf("invalid limit %q", v)
		}
		limit = n
	}
	if !latest && limit == 0 {
		return frames, nil
	}

	out := make([]query.Frame, len(frames))
	for i, f := range frames {
		n := len(f.Timestamps)
		keep := n
		if latest {
			keep = 1
		}
		if limit > 0 && limit < keep {
			keep = limit
		}
		if keep > n {
			keep = n
		}
		f.Timestamps = f.Timestamps[n-keep:]
		f.Values = f.Values[n-keep:]
		out[i] = f
	}
	return out, nil
}

// requireHost resolves id via the registry, returning ErrNotFound if
// it doesn't exist.
func requireHost(reg *registry.Registry, id string) (registry.Host, error) {
	h, ok := reg.Get(id)
	if !ok {
		return registry.Host{}, notFoundErrorf("host %q not found", id)
	}
	return h, nil
}
