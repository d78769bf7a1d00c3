package store

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/container-telemetry/fabric/internal/telemetry"
)

func sampleAt(host, container string, ts time.Time) telemetry.Sample {
	return telemetry.Sample{
		HostID:        host,
		HostName:      host + "-name",
		ContainerID:   container,
		ContainerName: container + "-name",
		Timestamp:     ts,
		IsRunning:     true,
	}
}

// TestQueryAscendingOrder mirrors spec §8 property 1: within a key the
// sequence is non-decreasing by timestamp.
func TestQueryAscendingOrder(t *testing.T) {
	s := New()
	base := time.Now()
	s.Append(sampleAt("h1", "c1", base))
	s.Append(sampleAt("h1", "c1", base.Add(2*time.Second)))
	s.Append(sampleAt("h1", "c1", base.Add(1*time.Second)))

	got := s.Query("h1", "c1", time.Time{}, time.Time{})
	require.Len(t, got, 2, "expected the out-of-order sample to be dropped (strictly increasing)")
	require.True(t, got[0].Timestamp.Before(got[1].Timestamp), "samples not ascending: %v", got)
}

func TestAppendDropsNonIncreasingTimestamp(t *testing.T) {
	s := New()
	ts := time.Now()
	s.Append(sampleAt("h1", "c1", ts))
	s.Append(sampleAt("h1", "c1", ts)) // same timestamp, must be dropped

	got := s.Query("h1", "c1", time.Time{}, time.Time{})
	require.Len(t, got, 1)
}

// TestQueryMatchesExpectedSeries diffs the full returned series against
// an expected slice with go-cmp, which pinpoints the differing field
// in the failure message instead of a flat require.Equal dump.
func TestQueryMatchesExpectedSeries(t *testing.T) {
	s := New()
	base := time.Now()
	first := sampleAt("h1", "c1", base)
	second := sampleAt("h1", "c1", base.Add(time.Second))
	s.Append(first)
	s.Append(second)

	got := s.Query("h1", "c1", time.Time{}, time.Time{})
	want := []telemetry.Sample{first, second}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

// TestRemoveHost mirrors spec §8 scenario 3.
func TestRemoveHost(t *testing.T) {
	s := New()
	base := time.Now()
	s.Append(sampleAt("h1", "c1", base))
	s.Append(sampleAt("h1", "c2", base))
	s.Append(sampleAt("h2", "c3", base))

	s.RemoveHost("h1")

	if got := s.Query("h1", "", time.Time{}, time.Time{}); len(got) != 0 {
		t.Errorf("expected no samples for removed host, got %v", got)
	}
	if got := s.Query("h2", "", time.Time{}, time.Time{}); len(got) != 1 {
		t.Errorf("expected other host's samples untouched, got %v", got)
	}
}

// TestTrim mirrors spec §8 scenario 4.
func TestTrim(t *testing.T) {
	s := New()
	now := time.Now()
	s.Append(sampleAt("h1", "c1", now.Add(-25*time.Hour)))
	s.Append(sampleAt("h1", "c1", now.Add(-12*time.Hour)))
	s.Append(sampleAt("h1", "c1", now.Add(-1*time.Hour)))

	s.Trim(now, 24*time.Hour)

	got := s.Query("h1", "c1", time.Time{}, time.Time{})
	if len(got) != 2 {
		t.Fatalf("expected 2 surviving samples, got %d: %v", len(got), got)
	}
	for _, sample := range got {
		if sample.Timestamp.Before(now.Add(-24 * time.Hour)) {
			t.Errorf("sample %v should have been trimmed", sample.Timestamp)
		}
	}
}

func TestTrimDropsEmptyKeys(t *testing.T) {
	s := New()
	now := time.Now()
	s.Append(sampleAt("h1", "c1", now.Add(-48*time.Hour)))
	s.Trim(now, 24*time.Hour)

	if got := s.ListContainers(""); len(got) != 0 {
		t.Errorf("expected the now-empty key to be gone from listings, got %v", got)
	}
}

func TestQueryContainerIDWithoutHostSpansHosts(t *testing.T) {
	s := New()
	base := time.Now()
	s.Append(sampleAt("h1", "shared", base))
	s.Append(sampleAt("h2", "shared", base.Add(time.Second)))

	got := s.Query("", "shared", time.Time{}, time.Time{})
	if len(got) != 2 {
		t.Fatalf("expected samples from both hosts, got %d", len(got))
	}
}

func TestListContainersReflectsLatestState(t *testing.T) {
	s := New()
	s.Append(sampleAt("h1", "c1", time.Now()))
	s.UpdateState("h1", "c1", "h1-name", "c1-name", telemetry.StateRunning, telemetry.HealthHealthy)

	list := s.ListContainers("h1")
	if len(list) != 1 {
		t.Fatalf("expected 1 container, got %d", len(list))
	}
	if list[0].State != telemetry.StateRunning || list[0].HealthStatus != telemetry.HealthHealthy {
		t.Errorf("state/health not merged into latest record: %+v", list[0])
	}
}

func TestListContainersWithoutSamplesStillVisibleAfterUpdateState(t *testing.T) {
	s := New()
	s.UpdateState("h1", "c1", "h1-name", "c1-name", telemetry.StateExited, telemetry.HealthNone)

	list := s.ListContainers("h1")
	if len(list) != 1 {
		t.Fatalf("expected a stopped container with no stats samples to still be listed, got %d", len(list))
	}
}
