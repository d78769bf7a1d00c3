// Package store holds an in-memory, retention-bounded time series of
// telemetry.Sample values keyed by (hostId, containerId). There is no
// durable persistence: a restart loses history, matching the service's
// role as a live dashboard backend rather than a metrics warehouse.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/container-telemetry/fabric/internal/telemetry"
)

// key identifies one (host, container) series.
type key struct {
	hostID      string
	containerID string
}

// series is one key's append-only sample log, each guarded by its own
// lock so that appends to one container never contend with reads or
// appends on another.
type series struct {
	mu       sync.RWMutex
	samples  []telemetry.Sample
	latest   telemetry.Container
	hasState bool
}

// Store is the shared metrics store. The top-level lock only guards
// the key→series index itself (adding/removing keys); all sample
// access goes through the per-series lock, so concurrent readers of
// different containers never block each other.
type Store struct {
	mu     sync.RWMutex
	series map[key]*series
}

// New returns an empty Store.
func New() *Store {
	return &Store{series: make(map[key]*series)}
}

// Append records sample under its (hostId, containerId) key. Per spec
// §4.4, timestamps within a key must be strictly increasing; a sample
// that does not advance the clock is dropped rather than silently
// reordering the series.
func (s *Store) Append(sample telemetry.Sample) {
	k := key{hostID: sample.HostID, containerID: sample.ContainerID}
	sr := s.seriesFor(k, true)

	sr.mu.Lock()
	defer sr.mu.Unlock()

	if n := len(sr.samples); n > 0 && !sample.Timestamp.After(sr.samples[n-1].Timestamp) {
		return
	}
	sr.samples = append(sr.samples, sample)
	state, health := sr.latest.State, sr.latest.HealthStatus
	sr.latest = containerFromSample(sample)
	sr.latest.State, sr.latest.HealthStatus = state, health
}

// UpdateState merges the runtime-reported lifecycle state and health
// status into the latest Container record for (hostId, containerId),
// independent of sample appends — state comes from list/inspect calls,
// not from derived stats.
func (s *Store) UpdateState(hostID, containerID, hostName, containerName string, state telemetry.State, health telemetry.HealthStatus) {
	k := key{hostID: hostID, containerID: containerID}
	sr := s.seriesFor(k, true)

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.latest.HostID = hostID
	sr.latest.HostName = hostName
	sr.latest.ContainerID = containerID
	sr.latest.ContainerName = containerName
	sr.latest.State = state
	sr.latest.HealthStatus = health
	sr.latest.IsRunning = state == telemetry.StateRunning
	sr.latest.IsPaused = state == telemetry.StatePaused
	sr.latest.IsUnhealthy = health == telemetry.HealthUnhealthy
	sr.hasState = true
}

// seriesFor returns the series for k, creating it under the write lock
// when create is true and it doesn't exist yet.
func (s *Store) seriesFor(k key, create bool) *series {
	s.mu.RLock()
	sr, ok := s.series[k]
	s.mu.RUnlock()
	if ok {
		return sr
	}
	if !create {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.series[k]; ok {
		return sr
	}
	sr = &series{}
	s.series[k] = sr
	return sr
}

// Query returns every sample matching the given filters, sorted
// ascending by timestamp. A zero time.Time for from/to means
// unbounded on that side. A containerID with an empty hostID matches
// that container across every host, for backward compatibility with
// queries that don't yet know which host a container lives on.
func (s *Store) Query(hostID, containerID string, from, to time.Time) []telemetry.Sample {
	var out []telemetry.Sample
	for _, sr := range s.matchingSeries(hostID, containerID) {
		sr.mu.RLock()
		for _, sample := range sr.samples {
			if !from.IsZero() && sample.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && sample.Timestamp.After(to) {
				continue
			}
			out = append(out, sample)
		}
		sr.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// ListContainers returns the latest known Container record per key,
// optionally filtered to one host.
func (s *Store) ListContainers(hostID string) []telemetry.Container {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]telemetry.Container, 0, len(s.series))
	for k, sr := range s.series {
		if hostID != "" && k.hostID != hostID {
			continue
		}
		sr.mu.RLock()
		hasData := len(sr.samples) > 0 || sr.hasState
		latest := sr.latest
		sr.mu.RUnlock()
		if hasData {
			out = append(out, latest)
		}
	}
	return out
}

// RemoveHost atomically drops every key belonging to hostID.
func (s *Store) RemoveHost(hostID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.series {
		if k.hostID == hostID {
			delete(s.series, k)
		}
	}
}

// Trim removes samples older than now−window from every key, dropping
// keys left with no samples. Intended to run on a fixed interval (the
// scheduler's trim task, every 5 minutes by default), independent of
// poll ticks.
func (s *Store) Trim(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)

	s.mu.Lock()
	keys := make([]key, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		sr := s.seriesFor(k, false)
		if sr == nil {
			continue
		}
		sr.mu.Lock()
		kept := sr.samples[:0:0]
		for _, sample := range sr.samples {
			if !sample.Timestamp.Before(cutoff) {
				kept = append(kept, sample)
			}
		}
		sr.samples = kept
		empty := len(sr.samples) == 0
		sr.mu.Unlock()

		if empty {
			s.mu.Lock()
			if cur, ok := s.series[k]; ok && len(cur.samples) == 0 {
				delete(s.series, k)
			}
			s.mu.Unlock()
		}
	}
}

// matchingSeries resolves the set of series a (hostID, containerID)
// query filter pair selects: both set narrows to one key, hostID alone
// selects every container on that host, containerID alone spans every
// host (legacy match), and neither selects everything.
func (s *Store) matchingSeries(hostID, containerID string) []*series {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*series
	for k, sr := range s.series {
		if hostID != "" && k.hostID != hostID {
			continue
		}
		if containerID != "" && k.containerID != containerID {
			continue
		}
		out = append(out, sr)
	}
	return out
}

func containerFromSample(sample telemetry.Sample) telemetry.Container {
	return telemetry.Container{
		HostID:        sample.HostID,
		HostName:      sample.HostName,
		ContainerID:   sample.ContainerID,
		ContainerName: sample.ContainerName,
		IsRunning:     sample.IsRunning,
		IsPaused:      sample.IsPaused,
		IsUnhealthy:   sample.IsUnhealthy,
	}
}
