// Package scheduler runs the per-host polling loop shared by Agent and
// Collector: one worker goroutine per enabled host, driven by registry
// change events, gathering container stats sequentially within a host
// and feeding derived samples into the store.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/container-telemetry/fabric/internal/health"
	"github.com/container-telemetry/fabric/internal/obs"
	"github.com/container-telemetry/fabric/internal/psi"
	"github.com/container-telemetry/fabric/internal/registry"
	"github.com/container-telemetry/fabric/internal/runtimeclient"
	"github.com/container-telemetry/fabric/internal/store"
	"github.com/container-telemetry/fabric/internal/telemetry"
)

// Runtime is the subset of runtimeclient.Client the scheduler depends
// on, narrowed to an interface so tests can supply a fake runtime
// without a real container daemon.
type Runtime interface {
	Ping(ctx context.Context) error
	List(ctx context.Context) ([]runtimeclient.ContainerInfo, error)
	Stats(ctx context.Context, id string) ([]byte, error)
	Inspect(ctx context.Context, id string) (runtimeclient.ContainerStatus, error)
	Close() error
}

// Dialer constructs a Runtime for a host's URL. Production wiring
// passes runtimeclient.New; tests substitute a fake.
type Dialer func(url string) (Runtime, error)

// WorkerState mirrors the per-host lifecycle state machine of spec
// §4.7: absent → starting → healthy ⇄ unhealthy → stopping → absent.
type WorkerState string

const (
	StateAbsent    WorkerState = "absent"
	StateStarting  WorkerState = "starting"
	StateHealthy   WorkerState = "healthy"
	StateUnhealthy WorkerState = "unhealthy"
	StateStopping  WorkerState = "stopping"
)

// Scheduler owns the set of live per-host workers and reacts to
// registry change events.
type Scheduler struct {
	registry *registry.Registry
	store    *store.Store
	health   *health.Tracker
	psi      *psi.Reader // nil for Collector-managed remote hosts
	dial     Dialer

	pollInterval    time.Duration
	retentionWindow time.Duration
	trimInterval    time.Duration

	mu      sync.Mutex
	workers map[string]*worker
}

// worker is one host's live poll loop.
type worker struct {
	mu    sync.Mutex
	state WorkerState

	cancel context.CancelFunc
	done   chan struct{}

	prevStats map[string][]byte // containerID -> previous raw stats JSON
}

func (w *worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// New builds a Scheduler. psiReader may be nil (Collector binaries
// never pass one, since PSI needs local filesystem access). trimInterval
// defaults to 5 minutes when <= 0.
func New(reg *registry.Registry, st *store.Store, ht *health.Tracker, psiReader *psi.Reader, dial Dialer, pollInterval, retentionWindow, trimInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if retentionWindow <= 0 {
		retentionWindow = 24 * time.Hour
	}
	if trimInterval <= 0 {
		trimInterval = 5 * time.Minute
	}
	return &Scheduler{
		registry:        reg,
		store:           st,
		health:          ht,
		psi:             psiReader,
		dial:            dial,
		pollInterval:    pollInterval,
		retentionWindow: retentionWindow,
		trimInterval:    trimInterval,
		workers:         make(map[string]*worker),
	}
}

// Run starts a worker for every currently-enabled host, then reacts to
// registry change events and fires the trim task on the configured
// cadence until ctx is cancelled, at which point every worker is
// drained before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	for _, h := range s.registry.List() {
		if h.Enabled {
			s.start(ctx, h)
		}
	}

	trimTicker := time.NewTicker(s.trimInterval)
	defer trimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case ev := <-s.registry.Changes():
			s.handleChange(ctx, ev)
		case <-trimTicker.C:
			s.store.Trim(time.Now(), s.retentionWindow)
		}
	}
}

func (s *Scheduler) handleChange(ctx context.Context, ev registry.ChangeEvent) {
	for _, h := range ev.Added {
		if h.Enabled {
			s.start(ctx, h)
		}
	}
	for _, h := range ev.Updated {
		// Restart unconditionally on update: covers enabled flips in
		// either direction and URL changes, and keeps the transition
		// logic to one path instead of three.
		s.stop(h.ID)
		if h.Enabled {
			s.start(ctx, h)
		}
	}
	for _, h := range ev.Removed {
		s.stop(h.ID)
		s.store.RemoveHost(h.ID)
		s.health.Remove(h.ID)
	}
}

func (s *Scheduler) start(ctx context.Context, h registry.Host) {
	s.mu.Lock()
	if _, exists := s.workers[h.ID]; exists {
		s.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w := &worker{
		state:     StateStarting,
		cancel:    cancel,
		done:      make(chan struct{}),
		prevStats: make(map[string][]byte),
	}
	s.workers[h.ID] = w
	s.mu.Unlock()

	go s.runWorker(workerCtx, h, w)
}

func (s *Scheduler) stop(hostID string) {
	s.mu.Lock()
	w, exists := s.workers[hostID]
	if exists {
		delete(s.workers, hostID)
	}
	s.mu.Unlock()
	if !exists {
		return
	}
	w.setState(StateStopping)
	w.cancel()
	<-w.done
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.stop(id)
	}
}

// runWorker is the per-host poll loop: dial once, poll immediately,
// then poll every tick until cancelled. The client is never shared
// with another host's worker.
func (s *Scheduler) runWorker(ctx context.Context, h registry.Host, w *worker) {
	defer close(w.done)

	client, err := s.dial(h.URL)
	if err != nil {
		slog.Error("scheduler: failed to dial host", "host", h.ID, "url", h.URL, "error", err)
		s.health.RecordFailure(h.ID, time.Now(), err)
		w.setState(StateUnhealthy)
		<-ctx.Done()
		return
	}
	defer client.Close()

	s.poll(ctx, h, w, client)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, h, w, client)
		}
	}
}

// poll gathers every container on h sequentially, deriving and storing
// one Sample per running container and updating the Container record
// for every container regardless of state.
func (s *Scheduler) poll(ctx context.Context, h registry.Host, w *worker, client Runtime) {
	now := time.Now()
	var pollErr error
	defer func() { obs.ObservePoll(h.ID, now, pollErr) }()

	if err := client.Ping(ctx); err != nil {
		pollErr = err
		s.health.RecordFailure(h.ID, now, err)
		w.setState(StateUnhealthy)
		return
	}

	containers, err := client.List(ctx)
	if err != nil {
		pollErr = err
		s.health.RecordFailure(h.ID, now, err)
		w.setState(StateUnhealthy)
		return
	}

	hostMeta := telemetry.HostMeta{HostID: h.ID, HostName: h.Name}

	for _, c := range containers {
		select {
		case <-ctx.Done():
			return
		default:
		}

		state := telemetry.NormalizeState(c.State)
		healthStatus := telemetry.HealthNone
		if status, err := client.Inspect(ctx, c.ID); err == nil {
			healthStatus = normalizeHealth(status.HealthStatus)
		}

		cm := telemetry.ContainerMeta{ContainerID: c.ID, ContainerName: c.Name}
		sample, ok, sampleErr := s.sampleFor(ctx, h, w, client, state, hostMeta, cm, now)
		if sampleErr != nil && runtimeclient.IsTransport(sampleErr) {
			// The host itself dropped mid-poll: stop iterating the
			// rest of its containers, since every remaining Stats
			// call would fail the same way, and mark it unhealthy
			// instead of limping through one failure per container.
			pollErr = sampleErr
			s.health.RecordFailure(h.ID, now, sampleErr)
			w.setState(StateUnhealthy)
			return
		}

		s.store.UpdateState(h.ID, c.ID, h.Name, c.Name, state, healthStatus)
		if ok {
			sample.IsUnhealthy = healthStatus == telemetry.HealthUnhealthy
			if !c.CreatedAt.IsZero() {
				sample.UptimeSeconds = now.Sub(c.CreatedAt).Seconds()
			}
			s.store.Append(sample)
		}
	}

	s.health.RecordSuccess(h.ID, now)
	w.setState(StateHealthy)
}

// sampleFor derives a Sample for one container according to its
// current state: running containers get a full stats-delta Sample,
// paused containers get the zeroed pause Sample, everything else is
// skipped (and its delta baseline cleared so a later restart doesn't
// compute against a stale counter). The returned error is non-nil
// only for a Stats failure, so the caller can tell a transport-level
// failure (host gone) from a container that simply vanished between
// List and Stats (decode error, not-found).
func (s *Scheduler) sampleFor(ctx context.Context, h registry.Host, w *worker, client Runtime, state telemetry.State, hostMeta telemetry.HostMeta, cm telemetry.ContainerMeta, now time.Time) (telemetry.Sample, bool, error) {
	switch state {
	case telemetry.StatePaused:
		w.mu.Lock()
		delete(w.prevStats, cm.ContainerID)
		w.mu.Unlock()
		return telemetry.DerivePaused(hostMeta, cm, now), true, nil

	case telemetry.StateRunning:
		raw, err := client.Stats(ctx, cm.ContainerID)
		if err != nil {
			if runtimeclient.IsTransport(err) {
				return telemetry.Sample{}, false, err
			}
			slog.Warn("scheduler: stats failed", "host", h.ID, "container", cm.ContainerID, "error", err)
			return telemetry.Sample{}, false, nil
		}

		w.mu.Lock()
		prevRaw := w.prevStats[cm.ContainerID]
		w.prevStats[cm.ContainerID] = raw
		w.mu.Unlock()

		sample, err := telemetry.Derive(prevRaw, raw, hostMeta, cm, now)
		if err != nil {
			slog.Warn("scheduler: derive failed", "host", h.ID, "container", cm.ContainerID, "error", err)
			return telemetry.Sample{}, false, nil
		}

		if s.psi != nil {
			cpu, mem, io := s.psi.Read(cm.ContainerID)
			if sample.CPUPressure == nil {
				sample.CPUPressure = cpu
			}
			if sample.MemoryPressure == nil {
				sample.MemoryPressure = mem
			}
			if sample.IOPressure == nil {
				sample.IOPressure = io
			}
		}
		return sample, true, nil

	default:
		w.mu.Lock()
		delete(w.prevStats, cm.ContainerID)
		w.mu.Unlock()
		return telemetry.Sample{}, false, nil
	}
}

func normalizeHealth(raw string) telemetry.HealthStatus {
	switch telemetry.HealthStatus(raw) {
	case telemetry.HealthHealthy, telemetry.HealthUnhealthy, telemetry.HealthStarting:
		return telemetry.HealthStatus(raw)
	default:
		return telemetry.HealthNone
	}
}
