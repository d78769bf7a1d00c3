package query

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/container-telemetry/fabric/internal/store"
	"github.com/container-telemetry/fabric/internal/telemetry"
)

func seedStore() *store.Store {
	st := store.New()
	now := time.Now()
	st.Append(telemetry.Sample{
		HostID: "h1", HostName: "host-1", ContainerID: "c1", ContainerName: "web",
		Timestamp: now, CPUPercent: 12.5, MemoryBytes: 10 * bytesPerMB, IsRunning: true,
	})
	st.Append(telemetry.Sample{
		HostID: "h1", HostName: "host-1", ContainerID: "c2", ContainerName: "db",
		Timestamp: now, CPUPercent: 30, MemoryBytes: 20 * bytesPerMB, IsRunning: true,
	})
	return st
}

// TestWhitelistFieldSelection mirrors spec §8 scenario 5.
func TestWhitelistFieldSelection(t *testing.T) {
	st := seedStore()
	e := New(st)

	q := Query{
		Type: TypeMetrics,
		HostSelections: map[string]HostSelection{
			"h1": {
				Mode:         ModeWhitelist,
				ContainerIDs: []string{"c1", "c2"},
				ContainerMetrics: map[string][]string{
					"c1": {"cpuPercent"},
					"c2": {"memoryBytes"},
				},
			},
		},
	}

	frames, err := e.Metrics(q)
	require.NoError(t, err)
	require.Len(t, frames, 2, "expected exactly 2 frames: %+v", frames)

	var sawC1CPU, sawC2Mem, sawOther bool
	for _, f := range frames {
		switch {
		case f.ContainerID == "c1" && f.Field == "cpuPercent":
			sawC1CPU = true
		case f.ContainerID == "c2" && f.Field == "memoryBytes":
			sawC2Mem = true
		default:
			sawOther = true
		}
	}
	if !sawC1CPU || !sawC2Mem || sawOther {
		t.Errorf("unexpected frame set: %+v", frames)
	}
}

// TestWhitelistEmptyContainerIdsReturnsNoData mirrors spec §8 property 6.
func TestWhitelistEmptyContainerIdsReturnsNoData(t *testing.T) {
	st := seedStore()
	e := New(st)

	q := Query{
		Type: TypeMetrics,
		HostSelections: map[string]HostSelection{
			"h1": {Mode: ModeWhitelist, ContainerIDs: []string{}},
		},
	}
	frames, err := e.Metrics(q)
	require.NoError(t, err)
	require.Empty(t, frames, "expected no frames for an empty whitelist")
}

// TestBlacklistEmptyContainerIdsReturnsAllData mirrors spec §8 property 6.
func TestBlacklistEmptyContainerIdsReturnsAllData(t *testing.T) {
	st := seedStore()
	e := New(st)

	q := Query{
		Type: TypeMetrics,
		HostSelections: map[string]HostSelection{
			"h1": {Mode: ModeBlacklist, ContainerIDs: []string{}, Metrics: []string{"cpuPercent"}},
		},
	}
	frames, err := e.Metrics(q)
	require.NoError(t, err)
	require.Len(t, frames, 2, "expected a cpuPercent frame for both containers: %+v", frames)
}

func TestMegabyteConversion(t *testing.T) {
	st := seedStore()
	e := New(st)

	q := Query{
		Type: TypeMetrics,
		HostSelections: map[string]HostSelection{
			"h1": {Mode: ModeBlacklist, Metrics: []string{"memoryBytes"}},
		},
	}
	frames, err := e.Metrics(q)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	for _, f := range frames {
		if f.ContainerID == "c1" && f.Values[0] != 10 {
			t.Errorf("expected memoryBytes converted to 10 MB, got %v", f.Values[0])
		}
	}
}

func TestEmptyHostSelectionErrors(t *testing.T) {
	st := store.New()
	e := New(st)
	if _, err := e.Metrics(Query{Type: TypeMetrics}); err == nil {
		t.Error("expected an error for an empty host selection")
	}
}

func TestLegacyEmptyMetricsErrors(t *testing.T) {
	st := seedStore()
	e := New(st)
	q := Query{Type: TypeMetrics, HostIDs: []string{"h1"}, Metrics: []string{}}
	if _, err := e.Metrics(q); err == nil {
		t.Error("expected 'no metrics selected' for an explicitly empty legacy metrics list")
	}
}

func TestInvalidNamePatternIsIgnoredNotFatal(t *testing.T) {
	st := seedStore()
	e := New(st)
	q := Query{
		Type:                 TypeMetrics,
		ContainerNamePattern: "(unclosed",
		HostSelections: map[string]HostSelection{
			"h1": {Mode: ModeBlacklist, Metrics: []string{"cpuPercent"}},
		},
	}
	frames, err := e.Metrics(q)
	if err != nil {
		t.Fatalf("expected an invalid pattern to be ignored, not fail the query: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("expected both containers' frames despite the invalid pattern, got %d", len(frames))
	}
}

func TestContainersQuery(t *testing.T) {
	st := seedStore()
	st.UpdateState("h1", "c1", "host-1", "web", telemetry.StateRunning, telemetry.HealthHealthy)
	e := New(st)

	q := Query{
		Type: TypeContainers,
		HostSelections: map[string]HostSelection{
			"h1": {Mode: ModeBlacklist},
		},
	}
	rows, err := e.Containers(q)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	want := []ContainersResult{
		{ContainerID: "c1", ContainerName: "web", HostID: "h1", HostName: "host-1", State: telemetry.StateRunning, HealthStatus: telemetry.HealthHealthy, IsRunning: true},
		{ContainerID: "c2", ContainerName: "db", HostID: "h1", HostName: "host-1", IsRunning: true},
	}
	sortByContainerID := cmpopts.SortSlices(func(a, b ContainersResult) bool { return a.ContainerID < b.ContainerID })
	if diff := cmp.Diff(want, rows, sortByContainerID); diff != "" {
		t.Errorf("container rows mismatch (-want +got):\n%s", diff)
	}
}
