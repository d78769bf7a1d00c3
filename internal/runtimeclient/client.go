// Package runtimeclient wraps the Docker Engine API SDK into the
// narrow operation set the Agent and Collector poll loops need: ping,
// list, one-shot stats, inspect, and lifecycle control. One Client is
// constructed per host and never shared across hosts.
package runtimeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const (
	requestTimeout = 30 * time.Second
	pingTimeout    = 2 * time.Second
	maxIdleConns   = 10

	// DefaultStopGrace is the stop-grace period applied to the stop and
	// restart control verbs when the caller doesn't specify one; start
	// takes no grace period.
	DefaultStopGrace = 10 * time.Second
)

// ContainerInfo is one entry from a list operation.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	State     string
	CreatedAt time.Time
}

// ContainerStatus is the result of an inspect operation.
type ContainerStatus struct {
	Name         string
	Status       string
	Running      bool
	Paused       bool
	HealthStatus string
}

// ControlVerb enumerates the lifecycle actions a Client accepts.
type ControlVerb string

const (
	VerbStart   ControlVerb = "start"
	VerbStop    ControlVerb = "stop"
	VerbRestart ControlVerb = "restart"
	VerbPause   ControlVerb = "pause"
	VerbUnpause ControlVerb = "unpause"
)

// Client is a connection to one container-runtime endpoint (a local
// Docker socket for the Agent, or a remote TCP endpoint a Collector
// host entry names).
type Client struct {
	docker *client.Client
	host   string
}

// New dials the runtime at host (a Docker-style URL: "unix:///var/run/
// docker.sock" or "tcp://10.0.0.5:2375"). Dialing is lazy in the SDK;
// New only constructs the client and its transport, it does not probe
// reachability — call Ping for that.
func New(host string) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}

	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithHTTPClient(httpClient),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("runtime client %s: %w", host, err)
	}
	return &Client{docker: c, host: host}, nil
}

// Close releases the underlying transport's idle connections.
func (c *Client) Close() error {
	return c.docker.Close()
}

// Host returns the URL this Client was constructed against.
func (c *Client) Host() string {
	return c.host
}

// Ping verifies the runtime is reachable within the 2s ping deadline.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.docker.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", c.host, err)
	}
	return nil
}

// ServerVersion reports the runtime's own version string, used by the
// Agent's /api/info capability endpoint.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	v, err := c.docker.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("server version %s: %w", c.host, err)
	}
	return v.Version, nil
}

// List returns every container known to the runtime, including
// stopped ones, in the order the runtime reports them.
func (c *Client) List(ctx context.Context) ([]ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	raw, err := c.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]ContainerInfo, 0, len(raw))
	for _, item := range raw {
		out = append(out, ContainerInfo{
			ID:        item.ID,
			Name:      containerName(item.Names),
			Image:     item.Image,
			State:     item.State,
			CreatedAt: time.Unix(item.Created, 0).UTC(),
		})
	}
	return out, nil
}

// Stats returns the raw one-shot (stream=false) stats JSON document for
// a container, exactly as the runtime serves it — undecoded, so
// telemetry.Derive can recover both the typed fields and any PSI
// stanza the runtime may include.
func (c *Client) Stats(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.docker.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read stats body %s: %w", id, err)
	}
	return body, nil
}

// Inspect returns the current lifecycle status of a container.
func (c *Client) Inspect(ctx context.Context, id string) (ContainerStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	info, err := c.docker.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerStatus{}, fmt.Errorf("inspect %s: %w", id, err)
	}

	st := ContainerStatus{Name: containerName([]string{info.Name})}
	if info.State != nil {
		st.Status = info.State.Status
		st.Running = info.State.Running
		st.Paused = info.State.Paused
		if info.State.Health != nil {
			st.HealthStatus = info.State.Health.Status
		}
	}
	return st, nil
}

// ControlResult is the outcome of a Control call.
type ControlResult struct {
	Success bool
	Error   string
}

// Control applies verb to container id. stop and restart carry the
// stop-grace timeout; start, pause and unpause send no grace period
// and ignore stopGrace. A 304 Not Modified response from the runtime
// (the container was already in the target state) is treated as
// success, matching the idempotence requirement.
func (c *Client) Control(ctx context.Context, id string, verb ControlVerb, stopGrace time.Duration) ControlResult {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	graceSeconds := int(stopGrace.Seconds())

	var err error
	switch verb {
	case VerbStart:
		err = c.docker.ContainerStart(ctx, id, container.StartOptions{})
	case VerbStop:
		err = c.docker.ContainerStop(ctx, id, container.StopOptions{Timeout: &graceSeconds})
	case VerbRestart:
		err = c.docker.ContainerRestart(ctx, id, container.StopOptions{Timeout: &graceSeconds})
	case VerbPause:
		err = c.docker.ContainerPause(ctx, id)
	case VerbUnpause:
		err = c.docker.ContainerUnpause(ctx, id)
	default:
		return ControlResult{Success: false, Error: fmt.Sprintf("unknown control verb %q", verb)}
	}

	// The SDK's response check only treats status >= 400 as an error,
	// so a 304 Not Modified on start/stop/restart already surfaces as
	// err == nil here — no special case needed for idempotence.
	if err == nil {
		return ControlResult{Success: true}
	}
	return ControlResult{Success: false, Error: err.Error()}
}

// containerName strips Docker's leading "/" from the first name in a
// container's name list.
func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	name := names[0]
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return name
}

// IsTransport reports whether err represents a connection-level
// failure (deadline exceeded, connection refused, DNS) rather than a
// decode or not-found error, so schedulers can distinguish "host down"
// from "container gone" when updating health state.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
