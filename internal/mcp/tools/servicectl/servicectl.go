// Package servicectl provides the systemd service tools exposed over MCP.
//
// Four tools are exported via [NewTools]:
//   - "get_service_state"    reports a unit's ActiveState.
//   - "list_failed_services" lists units whose ActiveState is "failed".
//   - "get_service_logs"     returns the tail of a unit's journal.
//   - "manage_service"       enqueues a start, stop, restart or reload job.
//
// Bus-backed handlers resolve the systemd manager afresh on every call, so a
// bus outage only fails the calls that need it.
package servicectl

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/MrWong99/systemd-mcp/internal/journal"
	"github.com/MrWong99/systemd-mcp/internal/mcp/tools"
	"github.com/MrWong99/systemd-mcp/internal/systemd"
)

// Tool names.
const (
	GetServiceState    = "get_service_state"
	ListFailedServices = "list_failed_services"
	GetServiceLogs     = "get_service_logs"
	ManageService      = "manage_service"
)

// NoFailedUnits is the text returned when no unit is in the failed state.
const NoFailedUnits = "No failed services found."

// Actions accepted by manage_service, in schema order.
var Actions = []string{"start", "stop", "restart", "reload"}

// serviceArgs is the JSON-decoded input for tools taking a single service.
type serviceArgs struct {
	Service string `json:"service"`
}

// manageArgs is the JSON-decoded input for the "manage_service" tool.
type manageArgs struct {
	Service string `json:"service"`
	Action  string `json:"action"`
}

// handlers binds the tool implementations to their collaborators.
type handlers struct {
	resolver systemd.Resolver
	logs     journal.Querier
	lines    int
}

// NewTools returns the four service tools in catalog order. lines is the
// number of journal lines fetched by get_service_logs; non-positive values
// use [journal.DefaultLines].
func NewTools(resolver systemd.Resolver, logs journal.Querier, lines int) []tools.Tool {
	if lines <= 0 {
		lines = journal.DefaultLines
	}
	h := &handlers{resolver: resolver, logs: logs, lines: lines}

	return []tools.Tool{
		{
			Definition: tools.Definition{
				Name:        GetServiceState,
				Description: "Get detailed ActiveState and SubState of a service.",
				Params: []tools.Param{
					{Name: "service", Description: "Service name (e.g., 'sshd')", Required: true},
				},
				ReadOnly: true,
			},
			Handler: h.getServiceState,
		},
		{
			Definition: tools.Definition{
				Name:        ListFailedServices,
				Description: "List all systemd units currently in a 'failed' state.",
				ReadOnly:    true,
			},
			Handler: h.listFailedServices,
		},
		{
			Definition: tools.Definition{
				Name:        GetServiceLogs,
				Description: fmt.Sprintf("Fetch the last %d lines of journalctl logs for a service.", lines),
				Params: []tools.Param{
					{Name: "service", Description: "Service name", Required: true},
				},
				ReadOnly: true,
			},
			Handler: h.getServiceLogs,
		},
		{
			Definition: tools.Definition{
				Name:        ManageService,
				Description: "Start, stop, or restart a systemd service.",
				Params: []tools.Param{
					{Name: "service", Required: true},
					{Name: "action", Required: true, Enum: Actions},
				},
				Destructive: true,
			},
			Handler: h.manageService,
		},
	}
}

func decodeService(args string) (string, error) {
	var a serviceArgs
	if err := tools.DecodeArgs(args, &a); err != nil {
		return "", err
	}
	if a.Service == "" {
		return "", fmt.Errorf("%w: service must not be empty", tools.ErrMalformedArgument)
	}
	return systemd.NormalizeUnit(a.Service), nil
}

// getServiceState implements the "get_service_state" tool.
func (h *handlers) getServiceState(ctx context.Context, args string) (string, error) {
	name, err := decodeService(args)
	if err != nil {
		return "", err
	}
	mgr, err := h.resolver.ResolveManager(ctx)
	if err != nil {
		return "", err
	}
	path, err := mgr.GetUnit(ctx, name)
	if err != nil {
		return "", err
	}
	unit, err := mgr.Unit(ctx, path)
	if err != nil {
		return "", err
	}
	state, err := unit.Property(ctx, "ActiveState")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Unit %s is %v", name, state.Value()), nil
}

// listFailedServices implements the "list_failed_services" tool.
func (h *handlers) listFailedServices(ctx context.Context, _ string) (string, error) {
	mgr, err := h.resolver.ResolveManager(ctx)
	if err != nil {
		return "", err
	}
	units, err := mgr.ListUnits(ctx)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, u := range units {
		if u.ActiveState == "failed" {
			lines = append(lines, fmt.Sprintf("%s (%s)", u.Name, u.Description))
		}
	}
	if len(lines) == 0 {
		return NoFailedUnits, nil
	}
	return strings.Join(lines, "\n"), nil
}

// getServiceLogs implements the "get_service_logs" tool. The journal output
// is returned verbatim.
func (h *handlers) getServiceLogs(ctx context.Context, args string) (string, error) {
	name, err := decodeService(args)
	if err != nil {
		return "", err
	}
	return h.logs.Query(ctx, name, h.lines)
}

// manageService implements the "manage_service" tool.
func (h *handlers) manageService(ctx context.Context, args string) (string, error) {
	var a manageArgs
	if err := tools.DecodeArgs(args, &a); err != nil {
		return "", err
	}
	if a.Service == "" {
		return "", fmt.Errorf("%w: service must not be empty", tools.ErrMalformedArgument)
	}
	if !slices.Contains(Actions, a.Action) {
		return "", fmt.Errorf("%w: unknown action %q; expected one of %s",
			tools.ErrMalformedArgument, a.Action, strings.Join(Actions, ", "))
	}
	name := systemd.NormalizeUnit(a.Service)

	mgr, err := h.resolver.ResolveManager(ctx)
	if err != nil {
		return "", err
	}

	var enqueue func(context.Context, string, string) (dbus.ObjectPath, error)
	switch a.Action {
	case "start":
		enqueue = mgr.StartUnit
	case "stop":
		enqueue = mgr.StopUnit
	case "restart":
		enqueue = mgr.RestartUnit
	case "reload":
		enqueue = mgr.ReloadUnit
	default:
		return "", fmt.Errorf("%w: unknown action %q", tools.ErrMalformedArgument, a.Action)
	}

	job, err := enqueue(ctx, name, systemd.JobModeReplace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Action %s sent for %s. Job: %s", a.Action, name, job), nil
}
