// Command agent runs the single-node container telemetry daemon: it
// polls the local container runtime, derives per-container metrics,
// retains them in memory, and exposes the read/control HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/container-telemetry/fabric/internal/config"
	"github.com/container-telemetry/fabric/internal/health"
	"github.com/container-telemetry/fabric/internal/httpapi"
	"github.com/container-telemetry/fabric/internal/obs"
	"github.com/container-telemetry/fabric/internal/psi"
	"github.com/container-telemetry/fabric/internal/registry"
	"github.com/container-telemetry/fabric/internal/runtimeclient"
	"github.com/container-telemetry/fabric/internal/scheduler"
	"github.com/container-telemetry/fabric/internal/store"
	"github.com/container-telemetry/fabric/internal/version"
)

func main() {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configPath := fs.String("config", "/etc/container-telemetry/agent.toml", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(os.Args[1:])

	slog.SetDefault(obs.NewLogger(*debug))

	cfg, err := config.Load(*configPath, config.RoleAgent)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.Load("") // an Agent never persists its single synthetic host
	reg.SeedLocalIfReachable(ctx, func(ctx context.Context, url string) bool {
		return probeReachable(ctx, url)
	})
	if len(reg.List()) == 0 {
		if _, err := reg.Add("local", cfg.Runtime.Socket, true); err != nil {
			slog.Error("failed to register local runtime", "error", err)
			os.Exit(1)
		}
	}
	agentHost := reg.List()[0]

	st := store.New()
	ht := health.New()

	psiReader := psi.NewReader("")

	sched := scheduler.New(reg, st, ht, psiReader, dialRuntime, cfg.PollInterval(), cfg.RetentionWindow(), cfg.TrimInterval())
	go sched.Run(ctx)

	srv := httpapi.NewServer(httpapi.Deps{
		Role:         httpapi.RoleAgent,
		Config:       cfg,
		Registry:     reg,
		Store:        st,
		Health:       ht,
		Scheduler:    sched,
		AgentHostID:  agentHost.ID,
		PSISupported: psiReader.Supported(),
		Version:      version.String(),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if err := srv.Run(ctx, addr); err != nil {
		slog.Error("agent stopped with error", "error", err)
		os.Exit(1)
	}
}

func dialRuntime(url string) (scheduler.Runtime, error) {
	return runtimeclient.New(url)
}

func probeReachable(ctx context.Context, url string) bool {
	client, err := runtimeclient.New(url)
	if err != nil {
		return false
	}
	defer client.Close()
	return client.Ping(ctx) == nil
}
