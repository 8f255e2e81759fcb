// Package app wires the systemd-mcp subsystems into a running server.
//
// New builds the bus connection, the journal querier, the tool catalog, the
// dispatcher and the MCP server from a [config.Config]. Run serves the MCP
// transport and the optional admin listener until the context is cancelled,
// and Shutdown releases the bus connection.
//
// For testing, inject doubles via functional options (WithResolver,
// WithQuerier). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/systemd-mcp/internal/config"
	"github.com/MrWong99/systemd-mcp/internal/health"
	"github.com/MrWong99/systemd-mcp/internal/journal"
	"github.com/MrWong99/systemd-mcp/internal/mcp/dispatch"
	"github.com/MrWong99/systemd-mcp/internal/mcp/mcpserver"
	"github.com/MrWong99/systemd-mcp/internal/mcp/tools/servicectl"
	"github.com/MrWong99/systemd-mcp/internal/observe"
	"github.com/MrWong99/systemd-mcp/internal/resilience"
	"github.com/MrWong99/systemd-mcp/internal/systemd"
)

// adminShutdownTimeout bounds the graceful stop of the admin listener.
const adminShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer

	bus      *systemd.Bus
	resolver systemd.Resolver
	logs     journal.Querier
	checkers []health.Checker

	disp   *dispatch.Dispatcher
	server *mcpserver.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithResolver injects a systemd manager resolver instead of dialling the
// system bus.
func WithResolver(r systemd.Resolver) Option {
	return func(a *App) { a.resolver = r }
}

// WithQuerier injects a journal querier instead of running journalctl.
func WithQuerier(q journal.Querier) Option {
	return func(a *App) { a.logs = q }
}

// WithMetrics records all metrics to m. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g on the admin listener's /metrics route. Without a
// gatherer the route is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithChecker adds a readiness check to /readyz.
func WithChecker(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires every subsystem together. A bus that cannot be reached at startup
// is logged and retried on the first tool call; the tool catalog is always
// registered.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. System bus ────────────────────────────────────────────────────
	a.initBus(ctx)

	// ── 2. Journal ───────────────────────────────────────────────────────
	a.initJournal()

	// ── 3. Tools + dispatcher ────────────────────────────────────────────
	catalog := servicectl.NewTools(a.resolver, a.logs, cfg.Journal.Lines)
	disp, err := dispatch.New(catalog,
		dispatch.WithCallTimeout(cfg.Server.CallTimeout),
		dispatch.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init dispatcher: %w", err)
	}
	a.disp = disp

	// ── 4. MCP server ────────────────────────────────────────────────────
	srv, err := mcpserver.New(cfg.MCPServer(), disp, mcpserver.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: init mcp server: %w", err)
	}
	a.server = srv

	slog.Info("application initialised",
		"tools", len(disp.Definitions()),
		"transport", string(cfg.Server.Transport),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initBus creates the bus connection unless a resolver was injected.
func (a *App) initBus(ctx context.Context) {
	if a.resolver != nil {
		return
	}

	opts := []systemd.Option{
		systemd.WithAddress(a.cfg.Bus.Address),
		systemd.WithCallTimeout(a.cfg.Bus.CallTimeout),
		systemd.WithMetrics(a.metrics),
	}
	if bc := a.cfg.Bus.Breaker; bc.MaxFailures > 0 {
		cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "system-bus",
			MaxFailures:  bc.MaxFailures,
			ResetTimeout: bc.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		})
		opts = append(opts, systemd.WithCircuitBreaker(cb))
	}

	a.bus = systemd.NewBus(opts...)
	a.resolver = a.bus
	a.closers = append(a.closers, a.bus.Close)
	a.checkers = append(a.checkers, health.PingChecker("dbus", a.bus))

	if err := a.bus.Connect(ctx); err != nil {
		slog.Warn("system bus not reachable at startup, tools will report it per call", "err", err)
	}
}

// initJournal creates the journalctl querier unless one was injected.
func (a *App) initJournal() {
	if a.logs != nil {
		return
	}
	j := journal.New(
		journal.WithCommand(a.cfg.Journal.Command),
		journal.WithTimeout(a.cfg.Journal.Timeout),
		journal.WithMetrics(a.metrics),
	)
	a.logs = j
	a.checkers = append(a.checkers, health.Checker{Name: "journalctl", Check: j.Available})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Dispatcher returns the tool dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }

// Server returns the MCP server.
func (a *App) Server() *mcpserver.Server { return a.server }

// AdminHandler returns the admin routes: /healthz, /readyz and, when a
// gatherer is configured, /metrics.
func (a *App) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	if a.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the MCP transport and, if configured, the admin listener. It
// returns when ctx is cancelled, the stdio client disconnects, or either
// listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var adminLn net.Listener
	if addr := a.cfg.Server.AdminAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: admin listen %s: %w", addr, err)
		}
		adminLn = ln
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The client going away ends the process, admin listener included.
		defer cancel()
		return a.server.Serve(gctx)
	})
	if adminLn != nil {
		g.Go(func() error { return a.serveAdmin(gctx, adminLn) })
	}
	return g.Wait()
}

// serveAdmin serves [App.AdminHandler] on ln until ctx is cancelled.
func (a *App) serveAdmin(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.AdminHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("admin listener started", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: admin serve: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig reacts to a changed configuration file. Only the log level is
// applied live, through level; everything else is reported as requiring a
// restart.
func ApplyConfig(old, new *config.Config, level *slog.LevelVar) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && level != nil {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes take effect after restart", "keys", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
