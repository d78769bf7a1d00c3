// Package registry holds the ordered set of container-runtime Hosts a
// Collector polls (or, for an Agent, the single synthetic "local"
// host), persisted as a JSON document and guarded by one lock so every
// mutation is atomic: lock, mutate, persist, publish, release.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Host is one registered container-runtime endpoint.
type Host struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// ChangeEvent describes what a mutation did, delivered to the single
// subscriber (the scheduler) in the order mutations were applied.
type ChangeEvent struct {
	Added   []Host
	Removed []Host
	Updated []Host
}

const changeBufSize = 64

// Registry is the CRUD store of Hosts. Unlike the teacher's Hub,
// there's exactly one consumer of change events (the scheduler), so
// the fan-out map collapses to a single buffered channel.
type Registry struct {
	mu       sync.Mutex
	path     string
	hosts    []Host // insertion order
	byID     map[string]int
	changes  chan ChangeEvent
	settings Settings
}

// Settings are the persisted, registry-scoped service defaults.
type Settings struct {
	PollIntervalSeconds int `json:"pollIntervalSeconds"`
}

type document struct {
	Version  int      `json:"version"`
	Settings Settings `json:"settings"`
	Hosts    []Host   `json:"hosts"`
}

const documentVersion = 1

// DefaultLocalURL is the well-known local Docker endpoint probed on
// first start to auto-seed a "local" host entry.
const DefaultLocalURL = "unix:///var/run/docker.sock"

// Load reads the registry document at path. A missing or unreadable
// file is not fatal: per spec §4.5, load failures fall back to an
// empty registry and log a warning rather than crash.
func Load(path string) *Registry {
	r := &Registry{
		path:    path,
		byID:    make(map[string]int),
		changes: make(chan ChangeEvent, changeBufSize),
		settings: Settings{
			PollIntervalSeconds: 10,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("registry: failed to read persisted state, starting empty", "path", path, "error", err)
		}
		return r
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("registry: failed to parse persisted state, starting empty", "path", path, "error", err)
		return r
	}

	if doc.Settings.PollIntervalSeconds > 0 {
		r.settings.PollIntervalSeconds = doc.Settings.PollIntervalSeconds
	}
	for _, h := range doc.Hosts {
		r.byID[h.ID] = len(r.hosts)
		r.hosts = append(r.hosts, h)
	}
	return r
}

// SeedLocalIfReachable probes DefaultLocalURL with a 2s deadline and,
// if reachable, adds a default "local" host when the registry is
// otherwise empty — run once at startup.
func (r *Registry) SeedLocalIfReachable(ctx context.Context, probe func(ctx context.Context, url string) bool) {
	r.mu.Lock()
	empty := len(r.hosts) == 0
	r.mu.Unlock()
	if !empty {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if !probe(ctx, DefaultLocalURL) {
		return
	}

	if _, err := r.Add("local", DefaultLocalURL, true); err != nil {
		slog.Warn("registry: failed to seed local host", "error", err)
	}
}

// Changes returns the channel the scheduler reads registry mutations
// from, in the order they were applied.
func (r *Registry) Changes() <-chan ChangeEvent {
	return r.changes
}

// Settings returns a copy of the current service-wide settings.
func (r *Registry) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// List returns a snapshot of every host in insertion order.
func (r *Registry) List() []Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Host, len(r.hosts))
	copy(out, r.hosts)
	return out
}

// Get returns the host with id, or false if it doesn't exist.
func (r *Registry) Get(id string) (Host, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byID[id]
	if !ok {
		return Host{}, false
	}
	return r.hosts[idx], true
}

// ErrDuplicateURL is returned by Add when url already names a host.
// The HTTP surface maps this to 409 per spec §7.
var ErrDuplicateURL = fmt.Errorf("a host with this url is already registered")

// Add registers a new host, generating its id, and publishes a change
// event. Duplicate-URL rejection is the caller's responsibility per
// spec §4.5 — Add here only enforces unique ids, which uuid.NewString
// always satisfies — but Add still checks URL uniqueness, since every
// new host (HTTP surface and the startup seed) funnels through it.
// Update does not repeat this check: changing a host's url to one
// another host already uses is accepted.
func (r *Registry) Add(name, url string, enabled bool) (Host, error) {
	url = normalizeURL(url)

	r.mu.Lock()
	for _, h := range r.hosts {
		if h.URL == url {
			r.mu.Unlock()
			return Host{}, ErrDuplicateURL
		}
	}

	h := Host{ID: uuid.NewString(), Name: name, URL: url, Enabled: enabled}
	r.byID[h.ID] = len(r.hosts)
	r.hosts = append(r.hosts, h)
	err := r.persistLocked()
	r.mu.Unlock()

	if err != nil {
		slog.Warn("registry: failed to persist after add", "error", err)
	}
	r.publish(ChangeEvent{Added: []Host{h}})
	return h, nil
}

// Update replaces the name/url/enabled fields of an existing host.
func (r *Registry) Update(id, name, url string, enabled bool) (Host, error) {
	r.mu.Lock()
	idx, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Host{}, fmt.Errorf("host %q not found", id)
	}

	h := r.hosts[idx]
	if name != "" {
		h.Name = name
	}
	if url != "" {
		h.URL = normalizeURL(url)
	}
	h.Enabled = enabled
	r.hosts[idx] = h
	err := r.persistLocked()
	r.mu.Unlock()

	if err != nil {
		slog.Warn("registry: failed to persist after update", "error", err)
	}
	r.publish(ChangeEvent{Updated: []Host{h}})
	return h, nil
}

// Remove deletes a host by id and publishes a removal event.
func (r *Registry) Remove(id string) (Host, error) {
	r.mu.Lock()
	idx, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Host{}, fmt.Errorf("host %q not found", id)
	}

	h := r.hosts[idx]
	r.hosts = append(r.hosts[:idx], r.hosts[idx+1:]...)
	delete(r.byID, id)
	for i := idx; i < len(r.hosts); i++ {
		r.byID[r.hosts[i].ID] = i
	}
	err := r.persistLocked()
	r.mu.Unlock()

	if err != nil {
		slog.Warn("registry: failed to persist after remove", "error", err)
	}
	r.publish(ChangeEvent{Removed: []Host{h}})
	return h, nil
}

// publish sends a change event on the non-blocking, buffered channel;
// a full buffer means the scheduler has fallen far behind, in which
// case dropping is preferable to blocking registry mutations.
func (r *Registry) publish(ev ChangeEvent) {
	select {
	case r.changes <- ev:
	default:
		slog.Warn("registry: change event dropped, scheduler channel full")
	}
}

// persistLocked writes the registry document to disk. Must be called
// with r.mu held. Best-effort: the spec only recommends atomic
// temp+rename, it does not require it, but it costs nothing extra.
func (r *Registry) persistLocked() error {
	if r.path == "" {
		return nil
	}
	doc := document{Version: documentVersion, Settings: r.settings, Hosts: r.hosts}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// normalizeURL strips a single trailing slash, per spec §3.
func normalizeURL(u string) string {
	return strings.TrimSuffix(u, "/")
}
