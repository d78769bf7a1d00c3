package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/container-telemetry/fabric/internal/health"
	"github.com/container-telemetry/fabric/internal/registry"
	"github.com/container-telemetry/fabric/internal/runtimeclient"
	"github.com/container-telemetry/fabric/internal/store"
)

// fakeRuntime is an in-memory Runtime used to drive the scheduler
// without a real container daemon, mirroring the teacher's preference
// for hand-rolled fakes over a mocking framework.
type fakeRuntime struct {
	mu         sync.Mutex
	containers []runtimeclient.ContainerInfo
	cpuTotal   map[string]uint64
	pingErr    error
	closed     bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{cpuTotal: make(map[string]uint64)}
}

func (f *fakeRuntime) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeRuntime) List(ctx context.Context) ([]runtimeclient.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtimeclient.ContainerInfo, len(f.containers))
	copy(out, f.containers)
	return out, nil
}

func (f *fakeRuntime) Stats(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	f.cpuTotal[id] += 100
	total := f.cpuTotal[id]
	f.mu.Unlock()

	doc := map[string]any{
		"cpu_stats": map[string]any{
			"cpu_usage":        map[string]any{"total_usage": total},
			"system_cpu_usage": total * 10,
			"online_cpus":      1,
		},
		"precpu_stats": map[string]any{
			"cpu_usage":        map[string]any{"total_usage": 0},
			"system_cpu_usage": 0,
		},
		"memory_stats": map[string]any{"usage": 1024, "limit": 2048},
	}
	return json.Marshal(doc)
}

func (f *fakeRuntime) Inspect(ctx context.Context, id string) (runtimeclient.ContainerStatus, error) {
	return runtimeclient.ContainerStatus{Running: true, HealthStatus: "healthy"}, nil
}

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

func dialerFor(rt *fakeRuntime) Dialer {
	return func(url string) (Runtime, error) {
		return rt, nil
	}
}

func newTestHarness(t *testing.T) (*registry.Registry, *store.Store, *health.Tracker) {
	t.Helper()
	reg := registry.Load(filepath.Join(t.TempDir(), "registry.json"))
	return reg, store.New(), health.New()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSchedulerPollsEnabledHostAndStoresSamples(t *testing.T) {
	reg, st, ht := newTestHarness(t)
	rt := newFakeRuntime()
	rt.containers = []runtimeclient.ContainerInfo{{ID: "c1", Name: "web", State: "running"}}

	h, err := reg.Add("h1", "tcp://fake:2375", true)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	sched := New(reg, st, ht, nil, dialerFor(rt), 20*time.Millisecond, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return len(st.Query(h.ID, "c1", time.Time{}, time.Time{})) > 0
	})

	containers := st.ListContainers(h.ID)
	if len(containers) != 1 || containers[0].ContainerID != "c1" {
		t.Fatalf("expected container c1 to be listed, got %v", containers)
	}

	status, ok := ht.Get(h.ID)
	if !ok || !status.Healthy {
		t.Fatalf("expected host to be recorded healthy, got %+v ok=%v", status, ok)
	}
}

func TestSchedulerStopsWorkerOnHostRemoval(t *testing.T) {
	reg, st, ht := newTestHarness(t)
	rt := newFakeRuntime()
	rt.containers = []runtimeclient.ContainerInfo{{ID: "c1", Name: "web", State: "running"}}

	h, _ := reg.Add("h1", "tcp://fake:2375", true)

	sched := New(reg, st, ht, nil, dialerFor(rt), 20*time.Millisecond, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return len(st.Query(h.ID, "c1", time.Time{}, time.Time{})) > 0
	})

	if _, err := reg.Remove(h.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := ht.Get(h.ID)
		return !ok
	})

	if got := st.Query(h.ID, "", time.Time{}, time.Time{}); len(got) != 0 {
		t.Errorf("expected samples to be removed with the host, got %v", got)
	}
}

func TestSchedulerMarksUnhealthyOnPingFailure(t *testing.T) {
	reg, st, ht := newTestHarness(t)
	rt := newFakeRuntime()
	rt.pingErr = fmt.Errorf("connection refused")

	h, _ := reg.Add("h1", "tcp://fake:2375", true)

	sched := New(reg, st, ht, nil, dialerFor(rt), 20*time.Millisecond, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	waitFor(t, time.Second, func() bool {
		status, ok := ht.Get(h.ID)
		return ok && !status.Healthy
	})
}

func TestSchedulerNeverStartsWorkerForDisabledHost(t *testing.T) {
	reg, st, ht := newTestHarness(t)
	rt := newFakeRuntime()
	rt.containers = []runtimeclient.ContainerInfo{{ID: "c1", Name: "web", State: "running"}}

	h, _ := reg.Add("h1", "tcp://fake:2375", false)

	sched := New(reg, st, ht, nil, dialerFor(rt), 20*time.Millisecond, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	if _, ok := ht.Get(h.ID); ok {
		t.Error("expected no health record for a disabled host")
	}
}
