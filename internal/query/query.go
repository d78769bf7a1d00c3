// Package query implements the read-side engine: it turns a typed
// query over one or more hosts into either metrics frames or a
// container listing frame, applying per-host container filtering,
// per-container field selection, and unit conversion.
package query

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/container-telemetry/fabric/internal/store"
	"github.com/container-telemetry/fabric/internal/telemetry"
)

// Type enumerates the three query shapes the engine accepts.
type Type string

const (
	TypeMetrics    Type = "metrics"
	TypeContainers Type = "containers"
	TypeControl    Type = "control"
)

// Mode selects how a host's containerIds list is interpreted.
type Mode string

const (
	ModeWhitelist Mode = "whitelist"
	ModeBlacklist Mode = "blacklist"
)

// HostSelection narrows a query to a subset of one host's containers
// and fields.
type HostSelection struct {
	Mode             Mode
	ContainerIDs     []string
	ContainerMetrics map[string][]string // per-container field override
	Metrics          []string            // blacklist-mode field set
}

// Query is the engine's single input shape. HostSelections is the
// modern form; the legacy flat fields (HostIDs, ContainerIDs,
// ContainerNamePattern, Metrics) are accepted for backward
// compatibility and normalized into an equivalent HostSelections map
// by Normalize before evaluation.
type Query struct {
	Type           Type
	From, To       time.Time
	HostSelections map[string]HostSelection

	// Legacy equivalents.
	HostIDs              []string
	ContainerIDs         []string
	ContainerNamePattern string
	Metrics              []string
}

// Frame is one (container, field) metrics series, or — for a
// containers query — the single parallel-column listing.
type Frame struct {
	ContainerID   string      `json:"containerId"`
	ContainerName string      `json:"containerName"`
	HostID        string      `json:"hostId,omitempty"`
	HostName      string      `json:"hostName"`
	Field         string      `json:"field,omitempty"`
	Timestamps    []time.Time `json:"timestamps,omitempty"`
	Values        []float64   `json:"values,omitempty"`
}

// ContainersResult is the output shape of a containers query: one
// row per container, not per (container, field) pair.
type ContainersResult struct {
	ContainerID   string                 `json:"containerId"`
	ContainerName string                 `json:"containerName"`
	HostID        string                 `json:"hostId"`
	HostName      string                 `json:"hostName"`
	State         telemetry.State        `json:"state"`
	HealthStatus  telemetry.HealthStatus `json:"healthStatus"`
	IsRunning     bool                   `json:"isRunning"`
	IsPaused      bool                   `json:"isPaused"`
	IsUnhealthy   bool                   `json:"isUnhealthy"`
}

// allFields is the complete set of selectable metric field names,
// used whenever a selection's field list is absent or empty.
var allFields = []string{
	"cpuPercent", "memoryBytes", "memoryPercent",
	"networkRxBytes", "networkTxBytes",
	"diskReadBytes", "diskWriteBytes",
	"uptimeSeconds",
	"cpuPressureSome10", "cpuPressureSome60", "cpuPressureSome300",
	"cpuPressureFull10", "cpuPressureFull60", "cpuPressureFull300",
	"memoryPressureSome10", "memoryPressureSome60", "memoryPressureSome300",
	"memoryPressureFull10", "memoryPressureFull60", "memoryPressureFull300",
	"ioPressureSome10", "ioPressureSome60", "ioPressureSome300",
	"ioPressureFull10", "ioPressureFull60", "ioPressureFull300",
}

// megabyteFields converts bytes to MB on output; everything else
// (percentages, seconds) passes through unchanged.
var megabyteFields = map[string]bool{
	"memoryBytes": true, "networkRxBytes": true, "networkTxBytes": true,
	"diskReadBytes": true, "diskWriteBytes": true,
}

const bytesPerMB = 1024 * 1024

// Normalize folds the legacy flat selection fields into
// HostSelections, when HostSelections itself is empty. Real callers
// use one form or the other, never both; if HostSelections is
// already populated it is returned unchanged.
func Normalize(q Query) Query {
	if len(q.HostSelections) > 0 {
		return q
	}
	if len(q.HostIDs) == 0 {
		return q
	}

	sel := HostSelection{
		Mode:         ModeBlacklist,
		ContainerIDs: nil,
		Metrics:      q.Metrics,
	}
	if len(q.ContainerIDs) > 0 {
		sel.Mode = ModeWhitelist
		sel.ContainerIDs = q.ContainerIDs
		if len(q.Metrics) > 0 {
			sel.ContainerMetrics = make(map[string][]string, len(q.ContainerIDs))
			for _, id := range q.ContainerIDs {
				sel.ContainerMetrics[id] = q.Metrics
			}
		}
	}

	q.HostSelections = make(map[string]HostSelection, len(q.HostIDs))
	for _, h := range q.HostIDs {
		q.HostSelections[h] = sel
	}
	return q
}

// Engine runs queries against a Store.
type Engine struct {
	store *store.Store
}

// New builds a query Engine over st.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Metrics evaluates a metrics query, returning one Frame per
// (container, selected field) pair with at least one data point.
func (e *Engine) Metrics(q Query) ([]Frame, error) {
	// Only the legacy flat form can express "zero fields" explicitly —
	// HostSelections' mode semantics always fall back to all fields
	// when a selection's field list is absent, so this check only
	// fires for a caller using the legacy Metrics field with an
	// explicitly empty (not nil) value.
	legacy := len(q.HostSelections) == 0 && len(q.HostIDs) > 0
	if legacy && q.Metrics != nil && len(q.Metrics) == 0 {
		return nil, fmt.Errorf("no metrics selected")
	}

	q = Normalize(q)
	if len(q.HostSelections) == 0 {
		return nil, fmt.Errorf("no enabled hosts configured")
	}

	namePattern := compilePattern(q.ContainerNamePattern)

	var frames []Frame
	for hostID, sel := range q.HostSelections {
		samples := e.store.Query(hostID, "", q.From, q.To)
		if len(samples) == 0 {
			continue
		}
		frames = append(frames, framesForHost(hostID, samples, sel, namePattern)...)
	}
	return frames, nil
}

// Containers evaluates a containers query across every selected host,
// returning one row per container recorded in the store for that host.
func (e *Engine) Containers(q Query) ([]ContainersResult, error) {
	q = Normalize(q)
	if len(q.HostSelections) == 0 {
		return nil, fmt.Errorf("no enabled hosts configured")
	}

	namePattern := compilePattern(q.ContainerNamePattern)

	var out []ContainersResult
	for hostID, sel := range q.HostSelections {
		containers := e.store.ListContainers(hostID)
		for _, c := range containers {
			if !passesContainerFilter(c.ContainerID, c.ContainerName, sel, namePattern) {
				continue
			}
			out = append(out, ContainersResult{
				ContainerID:   c.ContainerID,
				ContainerName: c.ContainerName,
				HostID:        c.HostID,
				HostName:      c.HostName,
				State:         c.State,
				HealthStatus:  c.HealthStatus,
				IsRunning:     c.IsRunning,
				IsPaused:      c.IsPaused,
				IsUnhealthy:   c.IsUnhealthy,
			})
		}
	}
	return out, nil
}

// framesForHost builds the metrics frames for one host's already
// time-filtered sample set, grouping by (containerId, field).
func framesForHost(hostID string, samples []telemetry.Sample, sel HostSelection, namePattern *regexp.Regexp) []Frame {
	byContainer := make(map[string][]telemetry.Sample)
	names := make(map[string]string)
	hostNames := make(map[string]string)
	for _, s := range samples {
		if !passesContainerFilter(s.ContainerID, s.ContainerName, sel, namePattern) {
			continue
		}
		byContainer[s.ContainerID] = append(byContainer[s.ContainerID], s)
		names[s.ContainerID] = s.ContainerName
		hostNames[s.ContainerID] = s.HostName
	}

	var frames []Frame
	for containerID, series := range byContainer {
		for _, field := range fieldsFor(sel, containerID) {
			var ts []time.Time
			var vals []float64
			for _, s := range series {
				v, ok := fieldValue(s, field)
				if !ok {
					continue
				}
				if megabyteFields[field] {
					v /= bytesPerMB
				}
				ts = append(ts, s.Timestamp)
				vals = append(vals, v)
			}
			if len(ts) == 0 {
				continue
			}
			frames = append(frames, Frame{
				ContainerID:   containerID,
				ContainerName: names[containerID],
				HostID:        hostID,
				HostName:      hostNames[containerID],
				Field:         field,
				Timestamps:    ts,
				Values:        vals,
			})
		}
	}
	return frames
}

// passesContainerFilter applies a host selection's whitelist/blacklist
// mode and the legacy name-pattern filter.
func passesContainerFilter(containerID, containerName string, sel HostSelection, namePattern *regexp.Regexp) bool {
	switch sel.Mode {
	case ModeWhitelist:
		if !containsString(sel.ContainerIDs, containerID) {
			return false
		}
	case ModeBlacklist:
		if containsString(sel.ContainerIDs, containerID) {
			return false
		}
	}
	if namePattern != nil && !namePattern.MatchString(containerName) {
		return false
	}
	return true
}

// fieldsFor resolves the field set for one container under sel: a
// per-container override from containerMetrics, else the mode's
// default (metrics for blacklist, all fields otherwise).
func fieldsFor(sel HostSelection, containerID string) []string {
	if fields, ok := sel.ContainerMetrics[containerID]; ok && len(fields) > 0 {
		return fields
	}
	if sel.Mode == ModeBlacklist && len(sel.Metrics) > 0 {
		return sel.Metrics
	}
	return allFields
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// compilePattern compiles the legacy containerNamePattern. An invalid
// pattern is logged and ignored per spec §4.8, rather than failing the
// query.
func compilePattern(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("query: invalid containerNamePattern, ignoring", "pattern", pattern, "error", err)
		return nil
	}
	return re
}

// fieldValue extracts one named field's value from a Sample. PSI
// fields return ok=false when their dimension was never recorded.
func fieldValue(s telemetry.Sample, field string) (float64, bool) {
	switch field {
	case "cpuPercent":
		return s.CPUPercent, true
	case "memoryBytes":
		return float64(s.MemoryBytes), true
	case "memoryPercent":
		return s.MemoryPercent, true
	case "networkRxBytes":
		return float64(s.NetworkRxBytes), true
	case "networkTxBytes":
		return float64(s.NetworkTxBytes), true
	case "diskReadBytes":
		return float64(s.DiskReadBytes), true
	case "diskWriteBytes":
		return float64(s.DiskWriteBytes), true
	case "uptimeSeconds":
		return s.UptimeSeconds, true
	case "cpuPressureSome10":
		return psiValue(s.CPUPressure, func(p telemetry.PSI) float64 { return p.Some10 })
	case "cpuPressureSome60":
		return psiValue(s.CPUPressure, func(p telemetry.PSI) float64 { return p.Some60 })
	case "cpuPressureSome300":
		return psiValue(s.CPUPressure, func(p telemetry.PSI) float64 { return p.Some300 })
	case "cpuPressureFull10":
		return psiValue(s.CPUPressure, func(p telemetry.PSI) float64 { return p.Full10 })
	case "cpuPressureFull60":
		return psiValue(s.CPUPressure, func(p telemetry.PSI) float64 { return p.Full60 })
	case "cpuPressureFull300":
		return psiValue(s.CPUPressure, func(p telemetry.PSI) float64 { return p.Full300 })
	case "memoryPressureSome10":
		return psiValue(s.MemoryPressure, func(p telemetry.PSI) float64 { return p.Some10 })
	case "memoryPressureSome60":
		return psiValue(s.MemoryPressure, func(p telemetry.PSI) float64 { return p.Some60 })
	case "memoryPressureSome300":
		return psiValue(s.MemoryPressure, func(p telemetry.PSI) float64 { return p.Some300 })
	case "memoryPressureFull10":
		return psiValue(s.MemoryPressure, func(p telemetry.PSI) float64 { return p.Full10 })
	case "memoryPressureFull60":
		return psiValue(s.MemoryPressure, func(p telemetry.PSI) float64 { return p.Full60 })
	case "memoryPressureFull300":
		return psiValue(s.MemoryPressure, func(p telemetry.PSI) float64 { return p.Full300 })
	case "ioPressureSome10":
		return psiValue(s.IOPressure, func(p telemetry.PSI) float64 { return p.Some10 })
	case "ioPressureSome60":
		return psiValue(s.IOPressure, func(p telemetry.PSI) float64 { return p.Some60 })
	case "ioPressureSome300":
		return psiValue(s.IOPressure, func(p telemetry.PSI) float64 { return p.Some300 })
	case "ioPressureFull10":
		return psiValue(s.IOPressure, func(p telemetry.PSI) float64 { return p.Full10 })
	case "ioPressureFull60":
		return psiValue(s.IOPressure, func(p telemetry.PSI) float64 { return p.Full60 })
	case "ioPressureFull300":
		return psiValue(s.IOPressure, func(p telemetry.PSI) float64 { return p.Full300 })
	default:
		return 0, false
	}
}

func psiValue(p *telemetry.PSI, get func(telemetry.PSI) float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return get(*p), true
}
