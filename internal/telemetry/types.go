// Package telemetry defines the Sample and Container record types shared
// by Agent and Collector, and the pure derivation functions that turn raw
// container-runtime stats documents into Samples.
package telemetry

import "time"

// PSI holds one pressure-stall-information dimension's 10/60/300-second
// averages, both the "some" (at least one task stalled) and "full" (all
// tasks stalled) variants.
type PSI struct {
	Some10  float64 `json:"some10"`
	Some60  float64 `json:"some60"`
	Some300 float64 `json:"some300"`
	Full10  float64 `json:"full10"`
	Full60  float64 `json:"full60"`
	Full300 float64 `json:"full300"`
}

// State enumerates the normalized lifecycle states of a Container record.
type State string

const (
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateExited     State = "exited"
	StateCreated    State = "created"
	StateDead       State = "dead"
	StateRestarting State = "restarting"
	StateRemoving   State = "removing"
	StateUndefined  State = "undefined"
	StateInvalid    State = "invalid"
)

// NormalizeState maps a raw runtime status string onto the normalized
// State enumeration. Unknown non-empty values become StateInvalid; an
// empty value becomes StateUndefined.
func NormalizeState(raw string) State {
	switch State(raw) {
	case StateRunning, StatePaused, StateExited, StateCreated, StateDead, StateRestarting, StateRemoving:
		return State(raw)
	case "":
		return StateUndefined
	default:
		return StateInvalid
	}
}

// HealthStatus enumerates container health-check states.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthNone      HealthStatus = "none"
)

// Sample is one derived metric point for one container on one host.
type Sample struct {
	HostID        string    `json:"hostId"`
	HostName      string    `json:"hostName"`
	ContainerID   string    `json:"containerId"`
	ContainerName string    `json:"containerName"`
	Timestamp     time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpuPercent"`

	MemoryBytes   uint64  `json:"memoryBytes"`
	MemoryPercent float64 `json:"memoryPercent"`

	NetworkRxBytes uint64 `json:"networkRxBytes"`
	NetworkTxBytes uint64 `json:"networkTxBytes"`

	DiskReadBytes  uint64 `json:"diskReadBytes"`
	DiskWriteBytes uint64 `json:"diskWriteBytes"`

	UptimeSeconds float64 `json:"uptimeSeconds"`
	IsRunning     bool    `json:"isRunning"`
	IsPaused      bool    `json:"isPaused"`
	IsUnhealthy   bool    `json:"isUnhealthy"`

	CPUPressure    *PSI `json:"cpuPressure,omitempty"`
	MemoryPressure *PSI `json:"memoryPressure,omitempty"`
	IOPressure     *PSI `json:"ioPressure,omitempty"`
}

// Container is the derived, latest-known-state record for a single
// container, used by listing queries.
type Container struct {
	HostID        string       `json:"hostId"`
	HostName      string       `json:"hostName"`
	ContainerID   string       `json:"containerId"`
	ContainerName string       `json:"containerName"`
	State         State        `json:"state"`
	HealthStatus  HealthStatus `json:"healthStatus"`
	IsRunning     bool         `json:"isRunning"`
	IsPaused      bool         `json:"isPaused"`
	IsUnhealthy   bool         `json:"isUnhealthy"`
}

// HostMeta and ContainerMeta carry the identifying fields Derive needs
// but cannot recover from a raw stats document alone.
type HostMeta struct {
	HostID   string
	HostName string
}

type ContainerMeta struct {
	ContainerID   string
	ContainerName string
}
