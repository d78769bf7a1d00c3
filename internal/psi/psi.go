// Package psi reads cgroup-v2 pressure-stall-information files for a
// container's cgroup, discovered by probing the well-known path
// patterns cgroup managers use. Agent-only: Collector-managed remote
// hosts have no local filesystem access to the polled container's
// cgroup.
package psi

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/container-telemetry/fabric/internal/telemetry"
)

// Reader discovers and reads cgroup-v2 pressure files under a
// configurable cgroup base directory (normally /sys/fs/cgroup).
type Reader struct {
	base string

	// supported is resolved once at startup: if the base directory
	// itself exposes no pressure file, PSI is treated as wholly
	// unsupported rather than re-probed on every poll tick.
	supported bool
}

// NewReader builds a Reader rooted at base (pass "" for the default
// /sys/fs/cgroup) and probes for PSI support.
func NewReader(base string) *Reader {
	if base == "" {
		base = "/sys/fs/cgroup"
	}
	r := &Reader{base: base}
	r.supported = r.probeSupport()
	return r
}

// Supported reports whether the host exposes cgroup-v2 pressure files
// at all. When false, Read always returns three nil dimensions.
func (r *Reader) Supported() bool {
	return r.supported
}

// probeSupport checks whether any of the three cgroup-v2 pressure
// files exists directly in the base directory, without needing a
// concrete container ID yet. A minimal, cheap existence check: the
// system-level pressure files at the cgroup root exist iff the kernel
// was built with PSI accounting enabled.
func (r *Reader) probeSupport() bool {
	for _, name := range []string{"cpu.pressure", "memory.pressure", "io.pressure"} {
		if _, err := os.Stat(filepath.Join(r.base, name)); err == nil {
			return true
		}
	}
	return false
}

// cgroupCandidates returns the ordered set of candidate cgroup-v2
// directories for a container, per spec §4.3: four exact patterns,
// first match wins, probed in order.
func (r *Reader) cgroupCandidates(containerID string) []string {
	return []string{
		filepath.Join(r.base, fmt.Sprintf("docker-%s.scope", containerID)),
		filepath.Join(r.base, "docker", containerID),
		filepath.Join("/sys/fs/cgroup/system.slice", fmt.Sprintf("docker-%s.scope", containerID)),
		filepath.Join("/sys/fs/cgroup/docker", containerID),
	}
}

// discover resolves a container's cgroup-v2 directory, falling back to
// a glob under the two well-known parent directories when none of the
// exact patterns match.
func (r *Reader) discover(containerID string) (string, bool) {
	for _, candidate := range r.cgroupCandidates(containerID) {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
	}

	globs := []struct{ dir, pattern string }{
		{"/sys/fs/cgroup/system.slice", "docker-" + containerID + "*"},
		{"/sys/fs/cgroup/docker", containerID + "*"},
	}
	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(g.dir, g.pattern))
		if err != nil || len(matches) == 0 {
			continue
		}
		if info, err := os.Stat(matches[0]); err == nil && info.IsDir() {
			return matches[0], true
		}
	}
	return "", false
}

// Read returns the CPU, memory, and IO pressure for a container. Each
// dimension is nil independently when its pressure file is missing or
// unreadable; the whole call short-circuits to three nils when PSI
// support was never detected at startup, or when no cgroup directory
// can be found for the container.
func (r *Reader) Read(containerID string) (cpu, mem, io *telemetry.PSI) {
	if !r.supported {
		return nil, nil, nil
	}
	dir, ok := r.discover(containerID)
	if !ok {
		return nil, nil, nil
	}
	cpu = r.readFile(filepath.Join(dir, "cpu.pressure"))
	mem = r.readFile(filepath.Join(dir, "memory.pressure"))
	io = r.readFile(filepath.Join(dir, "io.pressure"))
	return cpu, mem, io
}

// readFile parses one pressure file. Each line begins with "some" or
// "full" followed by avg10=, avg60=, avg300=, total= fields; only the
// three averages are retained (spec §4.3). A missing or malformed file
// yields nil rather than a partially populated PSI.
func (r *Reader) readFile(path string) *telemetry.PSI {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var psi telemetry.PSI
	var sawSome, sawFull bool

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		kind := fields[0]
		if kind != "some" && kind != "full" {
			continue
		}
		avg10, avg60, avg300, ok := parsePressureLine(fields[1:])
		if !ok {
			return nil
		}
		if kind == "some" {
			psi.Some10, psi.Some60, psi.Some300 = avg10, avg60, avg300
			sawSome = true
		} else {
			psi.Full10, psi.Full60, psi.Full300 = avg10, avg60, avg300
			sawFull = true
		}
	}
	if err := scanner.Err(); err != nil || !sawSome || !sawFull {
		return nil
	}
	return &psi
}

// parsePressureLine reads avg10=/avg60=/avg300= key=value pairs from
// one line's remaining fields (the "total=..." field is ignored).
func parsePressureLine(fields []string) (avg10, avg60, avg300 float64, ok bool) {
	found := 0
	for _, field := range fields {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(kv[1], 64)
		if err != nil {
			continue
		}
		switch kv[0] {
		case "avg10":
			avg10 = v
			found++
		case "avg60":
			avg60 = v
			found++
		case "avg300":
			avg300 = v
			found++
		}
	}
	return avg10, avg60, avg300, found == 3
}
