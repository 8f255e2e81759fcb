// Package systemd talks to the systemd manager over the D-Bus system bus.
//
// The central type is [Bus], an explicit, reconnecting handle on the system
// bus connection. [Bus.ResolveManager] returns a [Manager] proxy for the
// manager object; [Manager.Unit] resolves a proxy for any unit object path
// the manager hands out. Proxies are cheap and resolved fresh for every tool
// call; only the underlying connection is shared.
//
// Failures are reported with two sentinel conditions:
//
//   - [ErrBusUnavailable]: the bus could not be reached or used (dial
//     failure, closed connection, deadline expiry, open circuit breaker).
//   - [ErrObjectNotFound]: the manager does not know the requested unit
//     or object.
//
// Any other D-Bus error reply (e.g. access denied) is returned wrapped with
// its operation name so the caller sees the manager's own message.
package systemd

import (
	"errors"
	"strings"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
)

// D-Bus names used to reach the systemd manager.
const (
	Destination      = "org.freedesktop.systemd1"
	ManagerPath      = dbus.ObjectPath("/org/freedesktop/systemd1")
	ManagerInterface = "org.freedesktop.systemd1.Manager"
	UnitInterface    = "org.freedesktop.systemd1.Unit"

	propertiesGet = "org.freedesktop.DBus.Properties.Get"
	peerPing      = "org.freedesktop.DBus.Peer.Ping"
)

// JobModeReplace queues a job that supersedes any conflicting job already
// queued for the same unit.
const JobModeReplace = "replace"

// serviceSuffix is appended to bare service names by [NormalizeUnit].
const serviceSuffix = ".service"

var (
	// ErrBusUnavailable is returned when the system bus cannot be reached or
	// used.
	ErrBusUnavailable = errors.New("system bus unavailable")

	// ErrObjectNotFound is returned when the manager does not recognise the
	// requested unit or object path.
	ErrObjectNotFound = errors.New("object not found")
)

// UnitStatus is one record of the manager's ListUnits reply, decoded into
// named fields.
type UnitStatus = sddbus.UnitStatus

// NormalizeUnit turns a caller-supplied service identifier into the unit
// name the manager expects. Names that already contain a '.' are assumed to
// carry a unit-type suffix and are returned unchanged; anything else gets
// ".service" appended.
//
// The heuristic passes "my.app" through unchanged even though it has no real
// suffix; the manager will then reject it.
func NormalizeUnit(raw string) string {
	if strings.Contains(raw, ".") {
		return raw
	}
	return raw + serviceSuffix
}
