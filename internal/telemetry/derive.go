package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
)

// Derive computes a Sample from two raw one-shot stats JSON documents
// (previous and current, exactly as returned by the runtime's
// `/containers/{id}/stats?stream=false` endpoint) plus host/container
// identity. It is pure: the only non-deterministic input is the
// wall-clock timestamp, captured at the moment of derivation per spec
// (not the runtime-reported time).
//
// prevRaw may be nil when no previous reading exists yet (first
// observation of a container); rate-like fields then fall back to the
// delta embedded in curr's own Pre* fields, matching `docker stats`'s
// own first-sample behavior.
func Derive(prevRaw, currRaw []byte, host HostMeta, cm ContainerMeta, now time.Time) (Sample, error) {
	var curr container.StatsResponse
	if err := json.Unmarshal(currRaw, &curr); err != nil {
		return Sample{}, fmt.Errorf("decode current stats: %w", err)
	}

	var prev *container.StatsResponse
	if len(prevRaw) > 0 {
		var p container.StatsResponse
		if err := json.Unmarshal(prevRaw, &p); err != nil {
			return Sample{}, fmt.Errorf("decode previous stats: %w", err)
		}
		prev = &p
	}

	s := Sample{
		HostID:        host.HostID,
		HostName:      host.HostName,
		ContainerID:   cm.ContainerID,
		ContainerName: cm.ContainerName,
		Timestamp:     now,
		IsRunning:     true,
	}

	s.CPUPercent = cpuPercent(prev, &curr)
	s.MemoryBytes, s.MemoryPercent = memUsage(&curr)
	s.NetworkRxBytes, s.NetworkTxBytes = netIO(&curr)
	s.DiskReadBytes, s.DiskWriteBytes = blockIO(&curr)

	cpuPSI, memPSI, ioPSI, err := decodePressure(currRaw)
	if err != nil {
		return Sample{}, fmt.Errorf("decode pressure: %w", err)
	}
	s.CPUPressure, s.MemoryPressure, s.IOPressure = cpuPSI, memPSI, ioPSI

	return s, nil
}

// DerivePaused produces the Sample emitted immediately on a pause
// transition: counters zeroed, isRunning and isPaused both true. It
// bypasses the delta computation in Derive entirely because a paused
// container's counters are frozen and a delta against them would be
// meaningless (spec §4.2).
func DerivePaused(host HostMeta, cm ContainerMeta, now time.Time) Sample {
	return Sample{
		HostID:        host.HostID,
		HostName:      host.HostName,
		ContainerID:   cm.ContainerID,
		ContainerName: cm.ContainerName,
		Timestamp:     now,
		IsRunning:     true,
		IsPaused:      true,
	}
}

// cpuPercent implements the spec §4.2 formula: (Δcpu_total /
// Δsystem_cpu) × n_cpus × 100, clamped to 0 when either delta is
// non-positive (counter reset or stalled system clock).
func cpuPercent(prev, curr *container.StatsResponse) float64 {
	if curr == nil {
		return 0
	}

	var prevTotal, prevSystem uint64
	if prev != nil {
		prevTotal = prev.CPUStats.CPUUsage.TotalUsage
		prevSystem = prev.CPUStats.SystemUsage
	} else {
		prevTotal = curr.PreCPUStats.CPUUsage.TotalUsage
		prevSystem = curr.PreCPUStats.SystemUsage
	}

	curTotal := curr.CPUStats.CPUUsage.TotalUsage
	curSystem := curr.CPUStats.SystemUsage

	if curTotal < prevTotal {
		return 0
	}
	cpuDelta := float64(curTotal - prevTotal)

	if curSystem <= prevSystem {
		return 0
	}
	systemDelta := float64(curSystem - prevSystem)

	nCPUs := onlineCPUs(curr)
	return (cpuDelta / systemDelta) * nCPUs * 100
}

// onlineCPUs resolves the CPU count used to normalize CPU%, preferring
// the runtime-reported online count, falling back to the length of the
// per-CPU usage array, and finally to 1 (spec §4.2).
func onlineCPUs(stats *container.StatsResponse) float64 {
	if stats.CPUStats.OnlineCPUs > 0 {
		return float64(stats.CPUStats.OnlineCPUs)
	}
	if n := len(stats.CPUStats.CPUUsage.PercpuUsage); n > 0 {
		return float64(n)
	}
	return 1
}

// memUsage returns usage and percent, subtracting reclaimable page
// cache the way `docker stats` does (cgroup v1 "total_inactive_file",
// cgroup v2 "inactive_file") so usage reflects working-set memory.
func memUsage(stats *container.StatsResponse) (usage uint64, pct float64) {
	usage = stats.MemoryStats.Usage
	limit := stats.MemoryStats.Limit

	if v, ok := stats.MemoryStats.Stats["total_inactive_file"]; ok && v > 0 && usage > v {
		usage -= v
	} else if v, ok := stats.MemoryStats.Stats["inactive_file"]; ok && v > 0 && usage > v {
		usage -= v
	}

	if limit > 0 {
		pct = float64(usage) / float64(limit) * 100
	}
	return usage, pct
}

// netIO sums rx/tx byte counters across all network interfaces.
func netIO(stats *container.StatsResponse) (rx, tx uint64) {
	for _, n := range stats.Networks {
		rx += n.RxBytes
		tx += n.TxBytes
	}
	return rx, tx
}

// blockIO sums read/write byte counters from the recursive block-IO
// service-bytes table, matching on operation case-insensitively.
func blockIO(stats *container.StatsResponse) (read, write uint64) {
	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch {
		case strings.EqualFold(entry.Op, "read"):
			read += entry.Value
		case strings.EqualFold(entry.Op, "write"):
			write += entry.Value
		}
	}
	return read, write
}

// pressureDoc mirrors the subset of a stats JSON document needed to
// recover PSI: the runtime-reported fields the typed docker SDK struct
// doesn't model, since pressure stanzas are not part of the upstream
// Docker Engine API schema. Decoded separately from the raw bytes
// rather than guessed at on the typed container.StatsResponse.
type pressureDoc struct {
	CPUStats struct {
		Pressure *psiJSON `json:"pressure"`
	} `json:"cpu_stats"`
	MemoryStats struct {
		Pressure *psiJSON `json:"pressure"`
	} `json:"memory_stats"`
	BlkioStats struct {
		Pressure *psiJSON `json:"pressure"`
	} `json:"blkio_stats"`
}

type psiJSON struct {
	Some *psiLineJSON `json:"some"`
	Full *psiLineJSON `json:"full"`
}

type psiLineJSON struct {
	Avg10  float64 `json:"avg10"`
	Avg60  float64 `json:"avg60"`
	Avg300 float64 `json:"avg300"`
}

// decodePressure extracts CPU/memory/IO pressure-stall information from
// a raw stats document when the runtime reports it. A dimension is left
// nil unless the source document exposes pressure data for it at all —
// fields are never partially populated within one dimension.
func decodePressure(raw []byte) (cpu, mem, io *PSI, err error) {
	var doc pressureDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, nil, err
	}
	return toPSI(doc.CPUStats.Pressure), toPSI(doc.MemoryStats.Pressure), toPSI(doc.BlkioStats.Pressure), nil
}

func toPSI(j *psiJSON) *PSI {
	if j == nil || j.Some == nil || j.Full == nil {
		return nil
	}
	return &PSI{
		Some10:  j.Some.Avg10,
		Some60:  j.Some.Avg60,
		Some300: j.Some.Avg300,
		Full10:  j.Full.Avg10,
		Full60:  j.Full.Avg60,
		Full300: j.Full.Avg300,
	}
}
