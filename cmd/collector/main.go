// Command collector aggregates telemetry from multiple directly-polled
// container runtimes (Docker Engine API endpoints): it owns the host registry,
// runs the per-host polling loop, and serves the query/control API
// plus host management.
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
	"github.com/container-telemetry/fabric/internal/registry"
	"github.com/container-telemetry/fabric/internal/runtimeclient"
	"github.com/container-telemetry/fabric/internal/scheduler"
	"github.com/container-telemetry/fabric/internal/store"
	"github.com/container-telemetry/fabric/internal/version"
)

func main() {
	fs := flag.NewFlagSet("collector", flag.ExitOnError)
	configPath := fs.String("config", "/etc/container-telemetry/collector.toml", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(os.Args[1:])

	slog.SetDefault(obs.NewLogger(*debug))

	cfg, err := config.Load(*configPath, config.RoleCollector)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.Load(cfg.Registry.Path)
	reg.SeedLocalIfReachable(ctx, func(ctx context.Context, url string) bool {
		return probeReachable(ctx, url)
	})

	st := store.New()
	ht := health.New()

	sched := scheduler.New(reg, st, ht, nil, dialRuntime, cfg.PollInterval(), cfg.RetentionWindow(), cfg.TrimInterval())
	go sched.Run(ctx)

	srv := httpapi.NewServer(httpapi.Deps{
		Role:      httpapi.RoleCollector,
		Config:    cfg,
		Registry:  reg,
		Store:     st,
		Health:    ht,
		Scheduler: sched,
		Version:   version.String(),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if err := srv.Run(ctx, addr); err != nil {
		slog.Error("collector stopped with error", "error", err)
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
