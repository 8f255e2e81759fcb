package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/MrWong99/systemd-mcp/internal/observe"
	"github.com/MrWong99/systemd-mcp/internal/resilience"
)

// defaultCallTimeout bounds every single D-Bus round trip when no explicit
// timeout is configured.
const defaultCallTimeout = 10 * time.Second

// D-Bus error names that mean "the manager does not know this object".
var notFoundErrors = map[string]bool{
	"org.freedesktop.systemd1.NoSuchUnit":      true,
	"org.freedesktop.systemd1.LoadFailed":      true,
	"org.freedesktop.DBus.Error.UnknownObject": true,
}

// Resolver hands out manager proxies. [*Bus] is the production
// implementation; tests substitute the one in the mock sub-package.
type Resolver interface {
	ResolveManager(ctx context.Context) (Manager, error)
}

// Manager is a proxy for the systemd manager object.
type Manager interface {
	// GetUnit returns the object path of a loaded unit.
	GetUnit(ctx context.Context, name string) (dbus.ObjectPath, error)

	// Unit resolves a proxy for the unit object at path.
	Unit(ctx context.Context, path dbus.ObjectPath) (Unit, error)

	// ListUnits enumerates every unit currently loaded by the manager.
	ListUnits(ctx context.Context) ([]UnitStatus, error)

	// StartUnit, StopUnit, RestartUnit and ReloadUnit enqueue a job for the
	// named unit and return the job's object path. The job is not awaited.
	StartUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error)
	StopUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error)
	RestartUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error)
	ReloadUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error)
}

// Unit is a proxy for a single unit object.
type Unit interface {
	// Property reads a property of the org.freedesktop.systemd1.Unit
	// interface.
	Property(ctx context.Context, name string) (dbus.Variant, error)
}

// Bus is a process-wide handle on the system bus connection.
//
// The connection is dialled by [Bus.Connect] at startup and reused for every
// call. When a resolution finds the connection closed (for example after
// dbus-daemon restarted) it dials once more; if that fails the call fails
// with [ErrBusUnavailable]. Individual calls are never retried.
//
// Bus is safe for concurrent use.
type Bus struct {
	dial        func(opts ...dbus.ConnOption) (*dbus.Conn, error)
	callTimeout time.Duration
	breaker     *resilience.CircuitBreaker
	metrics     *observe.Metrics

	mu         sync.Mutex
	conn       *dbus.Conn
	cancelConn context.CancelFunc
}

// Compile-time check: Bus must implement Resolver.
var _ Resolver = (*Bus)(nil)

// Option configures a [Bus].
type Option func(*Bus)

// WithAddress dials the bus at addr instead of the system bus.
func WithAddress(addr string) Option {
	return func(b *Bus) {
		if addr != "" {
			b.dial = func(opts ...dbus.ConnOption) (*dbus.Conn, error) { return dbus.Connect(addr, opts...) }
		}
	}
}

// WithCallTimeout bounds each D-Bus round trip. Default: 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithCircuitBreaker makes the bus fail fast with [ErrBusUnavailable] while
// cb is open. Only transport-level failures count against the breaker; error
// replies from the manager do not.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(b *Bus) { b.breaker = cb }
}

// WithMetrics records bus call counts and latencies to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// NewBus creates a Bus. No connection is made until [Bus.Connect] or the
// first resolution.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		dial:        dbus.ConnectSystemBus,
		callTimeout: defaultCallTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Connect establishes the bus connection if it is not already open.
func (b *Bus) Connect(ctx context.Context) error {
	_, err := b.connection(ctx)
	return err
}

// connection returns the live connection, dialling a new one when there is
// none or the previous one was closed.
func (b *Bus) connection(ctx context.Context) (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && b.conn.Connected() {
		return b.conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	if b.conn != nil {
		_ = b.closeLocked()
		observe.Logger(ctx).Warn("system bus connection lost, reconnecting")
		b.metrics.BusReconnects.Add(ctx, 1)
	}

	// The connection outlives ctx, so it gets its own context that ctx
	// cancels only while the dial and handshake are in flight.
	connCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	conn, err := b.dial(dbus.WithContext(connCtx))
	if !stop() {
		cancel()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("%w: dial: %v", ErrBusUnavailable, ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	b.conn, b.cancelConn = conn, cancel
	slog.Debug("system bus connected")
	return conn, nil
}

// ResolveManager returns a proxy for the systemd manager object.
func (b *Bus) ResolveManager(ctx context.Context) (Manager, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}
	return &manager{bus: b, conn: conn, obj: conn.Object(Destination, ManagerPath)}, nil
}

// Ping performs a round trip to the manager. Used as a readiness check.
func (b *Bus) Ping(ctx context.Context) error {
	conn, err := b.connection(ctx)
	if err != nil {
		return err
	}
	return b.call(ctx, conn.Object(Destination, ManagerPath), peerPing, nil)
}

// Close closes the bus connection. The Bus may be reconnected afterwards.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	return b.closeLocked()
}

// closeLocked closes and forgets the current connection. Must be called with
// b.mu held and b.conn non-nil.
func (b *Bus) closeLocked() error {
	err := b.conn.Close()
	if b.cancelConn != nil {
		b.cancelConn()
	}
	b.conn, b.cancelConn = nil, nil
	return err
}

// call performs a single bounded D-Bus method call on obj and stores the
// reply into out.
func (b *Bus) call(ctx context.Context, obj dbus.BusObject, method string, args []any, out ...any) error {
	ctx, span := observe.StartSpan(ctx, "dbus "+method)
	defer span.End()

	start := time.Now()
	var callErr error
	run := func() error {
		cctx, cancel := context.WithTimeout(ctx, b.callTimeout)
		defer cancel()

		callErr = obj.CallWithContext(cctx, method, 0, args...).Store(out...)
		if callErr != nil && cctx.Err() != nil {
			callErr = fmt.Errorf("%s timed out after %s: %w", method, b.callTimeout, cctx.Err())
		}
		if isRemoteError(callErr) {
			// The bus worked; the manager just said no.
			return nil
		}
		return callErr
	}

	var err error
	if b.breaker != nil {
		err = b.breaker.Execute(run)
	} else {
		err = run()
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		callErr = err
	}

	err = classify(method, callErr)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	b.metrics.RecordBusCall(ctx, method, status, time.Since(start))
	return err
}

// classify maps a raw D-Bus call error onto the package's error taxonomy.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	name, ok := remoteErrorName(err)
	switch {
	case ok && notFoundErrors[name]:
		return fmt.Errorf("systemd: %s: %w: %v", method, ErrObjectNotFound, err)
	case ok:
		return fmt.Errorf("systemd: %s: %w", method, err)
	default:
		return fmt.Errorf("systemd: %s: %w: %v", method, ErrBusUnavailable, err)
	}
}

// isRemoteError reports whether err is an error reply sent by the peer, as
// opposed to a failure to talk to it at all.
func isRemoteError(err error) bool {
	_, ok := remoteErrorName(err)
	return ok
}

// remoteErrorName extracts the D-Bus error name from err.
func remoteErrorName(err error) (string, bool) {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name, true
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) && pderr != nil {
		return pderr.Name, true
	}
	return "", false
}
