package systemd

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// manager is the D-Bus backed [Manager].
type manager struct {
	bus  *Bus
	conn *dbus.Conn
	obj  dbus.BusObject
}

// unit is the D-Bus backed [Unit].
type unit struct {
	bus *Bus
	obj dbus.BusObject
}

var (
	_ Manager = (*manager)(nil)
	_ Unit    = (*unit)(nil)
)

func (m *manager) GetUnit(ctx context.Context, name string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	if err := m.bus.call(ctx, m.obj, ManagerInterface+".GetUnit", []any{name}, &path); err != nil {
		return "", err
	}
	return path, nil
}

// Unit resolves a proxy for the unit at path. No round trip is made; an
// invalid path is rejected locally.
func (m *manager) Unit(_ context.Context, path dbus.ObjectPath) (Unit, error) {
	if !path.IsValid() {
		return nil, fmt.Errorf("systemd: resolve unit: %w: invalid object path %q", ErrObjectNotFound, path)
	}
	return &unit{bus: m.bus, obj: m.conn.Object(Destination, path)}, nil
}

func (m *manager) ListUnits(ctx context.Context) ([]UnitStatus, error) {
	var raw [][]any
	if err := m.bus.call(ctx, m.obj, ManagerInterface+".ListUnits", nil, &raw); err != nil {
		return nil, err
	}
	return decodeUnits(raw)
}

func (m *manager) StartUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error) {
	return m.job(ctx, "StartUnit", name, mode)
}

func (m *manager) StopUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error) {
	return m.job(ctx, "StopUnit", name, mode)
}

func (m *manager) RestartUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error) {
	return m.job(ctx, "RestartUnit", name, mode)
}

func (m *manager) ReloadUnit(ctx context.Context, name, mode string) (dbus.ObjectPath, error) {
	return m.job(ctx, "ReloadUnit", name, mode)
}

// job invokes one of the job-enqueuing manager methods.
func (m *manager) job(ctx context.Context, method, name, mode string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	if err := m.bus.call(ctx, m.obj, ManagerInterface+"."+method, []any{name, mode}, &path); err != nil {
		return "", err
	}
	return path, nil
}

func (u *unit) Property(ctx context.Context, name string) (dbus.Variant, error) {
	var v dbus.Variant
	if err := u.bus.call(ctx, u.obj, propertiesGet, []any{UnitInterface, name}, &v); err != nil {
		return dbus.Variant{}, err
	}
	return v, nil
}

// decodeUnits converts the positional (ssssssouso) records of a ListUnits
// reply into [UnitStatus] values.
func decodeUnits(raw [][]any) ([]UnitStatus, error) {
	src := make([]any, len(raw))
	for i := range raw {
		src[i] = raw[i]
	}
	units := make([]UnitStatus, len(raw))
	dest := make([]any, len(units))
	for i := range units {
		dest[i] = &units[i]
	}
	if err := dbus.Store(src, dest...); err != nil {
		return nil, fmt.Errorf("systemd: decode ListUnits reply: %w", err)
	}
	return units, nil
}
