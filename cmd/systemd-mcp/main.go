// Command systemd-mcp is an MCP server that lets a client inspect and control
// systemd services over D-Bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MrWong99/systemd-mcp/internal/app"
	"github.com/MrWong99/systemd-mcp/internal/config"
	"github.com/MrWong99/systemd-mcp/internal/observe"
)

// shutdownTimeout bounds the teardown after the server stops.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/systemd-mcp/config.yaml", "path to the YAML configuration file (optional)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	configFound := true
	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
		configFound = false
	case err != nil:
		// The log sink is not open yet; stderr is the only channel.
		fmt.Fprintf(os.Stderr, "systemd-mcp: FATAL: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// stdout carries the stdio transport, so logs go to the sink file.
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	sink, err := observe.OpenLogSink(cfg.Server.LogFile, &level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "systemd-mcp: %v; logging to stderr\n", err)
		sink = observe.NewLogSink(os.Stderr, &level)
	}
	defer sink.Close()
	slog.SetDefault(sink.Logger())

	if !configFound {
		slog.Info("config file not found, using defaults", "config", *configPath)
	}
	slog.Info("systemd-mcp starting",
		"config", *configPath,
		"name", cfg.Server.Name,
		"version", cfg.Server.Version,
		"transport", string(cfg.Server.Transport),
		"log_level", string(cfg.Server.LogLevel),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: cfg.Server.Version,
		Registerer:     reg,
	})
	if err != nil {
		return fatal("failed to initialise telemetry", err)
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, app.WithGatherer(reg))
	if err != nil {
		return fatal("failed to initialise application", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if configFound {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			app.ApplyConfig(old, new, &level)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	notify(daemon.SdNotifyReady)
	slog.Info("server ready")

	runErr := application.Run(ctx)
	notify(daemon.SdNotifyStopping)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fatal("server error", runErr)
	}
	slog.Info("goodbye")
	return 0
}

// fatal logs a FATAL entry to the sink and returns the process exit code.
func fatal(msg string, err error) int {
	slog.Error("FATAL: "+msg, "err", err)
	return 1
}

// notify reports state to systemd when running as a notify-type unit. Outside
// systemd it is a no-op.
func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		slog.Warn("sd_notify failed", "state", state, "err", err)
		return
	}
	if sent {
		slog.Debug("sd_notify sent", "state", state)
	}
}
