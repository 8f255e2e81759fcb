// Package mock provides in-memory test doubles for the [systemd.Resolver],
// [systemd.Manager] and [systemd.Unit] interfaces.
//
// [Manager] records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. It is safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	m := &mock.Manager{
//	    UnitPaths:  map[string]dbus.ObjectPath{"sshd.service": "/org/freedesktop/systemd1/unit/sshd_2eservice"},
//	    Properties: map[string]any{"ActiveState": "active"},
//	}
//	r := &mock.Resolver{Manager: m}
//
//	// inject r into the system under test …
//
//	if got := m.CallCount("GetUnit"); got != 1 {
//	    t.Errorf("expected 1 GetUnit call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/MrWong99/systemd-mcp/internal/systemd"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Resolver is a configurable test double for [systemd.Resolver].
type Resolver struct {
	mu    sync.Mutex
	calls int

	// Manager is returned by ResolveManager when Err is nil.
	Manager systemd.Manager

	// Err is returned by ResolveManager when non-nil.
	Err error
}

var _ systemd.Resolver = (*Resolver)(nil)

// ResolveManager implements [systemd.Resolver].
func (r *Resolver) ResolveManager(_ context.Context) (systemd.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Manager, nil
}

// Calls returns how many times ResolveManager was invoked.
func (r *Resolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Manager is a configurable test double for [systemd.Manager].
type Manager struct {
	mu    sync.Mutex
	calls []Call

	// UnitPaths maps unit names to the object path GetUnit returns. Unknown
	// names fail with [systemd.ErrObjectNotFound].
	UnitPaths map[string]dbus.ObjectPath

	// GetUnitErr overrides GetUnit's result when non-nil.
	GetUnitErr error

	// Properties holds the property values every resolved Unit reports.
	Properties map[string]any

	// PropertyErr is returned by Unit.Property when non-nil.
	PropertyErr error

	// Units is returned by ListUnits.
	Units []systemd.UnitStatus

	// ListUnitsErr is returned by ListUnits when non-nil.
	ListUnitsErr error

	// JobPath is returned by the job-enqueuing methods.
	JobPath dbus.ObjectPath

	// JobErr is returned by the job-enqueuing methods when non-nil.
	JobErr error
}

var _ systemd.Manager = (*Manager)(nil)

func (m *Manager) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (m *Manager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded calls to method.
func (m *Manager) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// GetUnit implements [systemd.Manager].
func (m *Manager) GetUnit(_ context.Context, name string) (dbus.ObjectPath, error) {
	m.record("GetUnit", name)
	if m.GetUnitErr != nil {
		return "", m.GetUnitErr
	}
	path, ok := m.UnitPaths[name]
	if !ok {
		return "", fmt.Errorf("systemd: GetUnit: %w: Unit %s not loaded.", systemd.ErrObjectNotFound, name)
	}
	return path, nil
}

// Unit implements [systemd.Manager].
func (m *Manager) Unit(_ context.Context, path dbus.ObjectPath) (systemd.Unit, error) {
	m.record("Unit", path)
	return &Unit{manager: m, path: path}, nil
}

// ListUnits implements [systemd.Manager].
func (m *Manager) ListUnits(_ context.Context) ([]systemd.UnitStatus, error) {
	m.record("ListUnits")
	if m.ListUnitsErr != nil {
		return nil, m.ListUnitsErr
	}
	return m.Units, nil
}

// StartUnit implements [systemd.Manager].
func (m *Manager) StartUnit(_ context.Context, name, mode string) (dbus.ObjectPath, error) {
	return m.job("StartUnit", name, mode)
}

// StopUnit implements [systemd.Manager].
func (m *Manager) StopUnit(_ context.Context, name, mode string) (dbus.ObjectPath, error) {
	return m.job("StopUnit", name, mode)
}

// RestartUnit implements [systemd.Manager].
func (m *Manager) RestartUnit(_ context.Context, name, mode string) (dbus.ObjectPath, error) {
	return m.job("RestartUnit", name, mode)
}

// ReloadUnit implements [systemd.Manager].
func (m *Manager) ReloadUnit(_ context.Context, name, mode string) (dbus.ObjectPath, error) {
	return m.job("ReloadUnit", name, mode)
}

func (m *Manager) job(method, name, mode string) (dbus.ObjectPath, error) {
	m.record(method, name, mode)
	if m.JobErr != nil {
		return "", m.JobErr
	}
	return m.JobPath, nil
}

// Unit is the [systemd.Unit] handed out by [Manager.Unit].
type Unit struct {
	manager *Manager
	path    dbus.ObjectPath
}

var _ systemd.Unit = (*Unit)(nil)

// Property implements [systemd.Unit].
func (u *Unit) Property(_ context.Context, name string) (dbus.Variant, error) {
	u.manager.record("Property", u.path, name)
	if u.manager.PropertyErr != nil {
		return dbus.Variant{}, u.manager.PropertyErr
	}
	v, ok := u.manager.Properties[name]
	if !ok {
		return dbus.Variant{}, fmt.Errorf("systemd: Get: unknown property %q", name)
	}
	return dbus.MakeVariant(v), nil
}
