package mcpserver

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	journalmock "github.com/MrWong99/systemd-mcp/internal/journal/mock"
	"github.com/MrWong99/systemd-mcp/internal/mcp"
	"github.com/MrWong99/systemd-mcp/internal/mcp/dispatch"
	"github.com/MrWong99/systemd-mcp/internal/mcp/tools/servicectl"
	"github.com/MrWong99/systemd-mcp/internal/observe"
	"github.com/MrWong99/systemd-mcp/internal/systemd"
	"github.com/MrWong99/systemd-mcp/internal/systemd/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newTestServer builds a Server over the real service tools backed by r.
func newTestServer(t *testing.T, cfg mcp.ServerConfig, r systemd.Resolver) *Server {
	t.Helper()
	m := testMetrics(t)
	d, err := dispatch.New(servicectl.NewTools(r, &journalmock.Querier{Output: "-- No entries --\n"}, 0), dispatch.WithMetrics(m))
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	s, err := New(cfg, d, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// connect wires a client to s over in-memory transports.
func connect(t *testing.T, s *Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	ct, st := mcpsdk.NewInMemoryTransports()

	ss, err := s.Connect(ctx, st)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func stdioConfig() mcp.ServerConfig {
	return mcp.ServerConfig{Name: "systemd-manager", Version: "1.1.0", Transport: mcp.TransportStdio}
}

func resultText(t *testing.T, res *mcpsdk.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("got %d content items, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *TextContent", res.Content[0])
	}
	return tc.Text
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()
	d, err := dispatch.New(nil, dispatch.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	cfg := mcp.ServerConfig{Name: "systemd-manager", Transport: mcp.TransportStreamableHTTP}
	if _, err := New(cfg, d); err == nil {
		t.Error("expected error for streamable-http without listen address")
	}
}

func TestListTools_CatalogOrderAndSchemas(t *testing.T) {
	t.Parallel()
	r := &mock.Resolver{Err: systemd.ErrBusUnavailable}
	cs := connect(t, newTestServer(t, stdioConfig(), r))

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	want := []string{"get_service_state", "list_failed_services", "get_service_logs", "manage_service"}
	if len(res.Tools) != len(want) {
		t.Fatalf("got %d tools, want %d", len(res.Tools), len(want))
	}
	for i, name := range want {
		if res.Tools[i].Name != name {
			t.Errorf("tool[%d] = %q, want %q", i, res.Tools[i].Name, name)
		}
		if res.Tools[i].InputSchema == nil {
			t.Errorf("tool %q has no input schema", name)
		}
	}
	if !res.Tools[0].Annotations.ReadOnlyHint {
		t.Error("get_service_state should be read-only")
	}
	if h := res.Tools[3].Annotations.DestructiveHint; h == nil || !*h {
		t.Error("manage_service should be destructive")
	}
	if r.Calls() != 0 {
		t.Error("listing tools must not touch the bus")
	}
}

func TestCallTool_Success(t *testing.T) {
	t.Parallel()
	m := &mock.Manager{
		UnitPaths:  map[string]dbus.ObjectPath{"sshd.service": "/org/freedesktop/systemd1/unit/sshd_2eservice"},
		Properties: map[string]any{"ActiveState": "active"},
	}
	cs := connect(t, newTestServer(t, stdioConfig(), &mock.Resolver{Manager: m}))

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "get_service_state",
		Arguments: map[string]any{"service": "sshd"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %q", resultText(t, res))
	}
	if got := resultText(t, res); got != "Unit sshd.service is active" {
		t.Errorf("text = %q", got)
	}
}

func TestCallTool_UnknownToolIsErrorResult(t *testing.T) {
	t.Parallel()
	r := &mock.Resolver{Manager: &mock.Manager{}}
	cs := connect(t, newTestServer(t, stdioConfig(), r))

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: "reboot_host"})
	if err != nil {
		t.Fatalf("CallTool returned protocol error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected isError result")
	}
	if got := resultText(t, res); !strings.Contains(got, "reboot_host") {
		t.Errorf("text = %q, want tool name", got)
	}
	if r.Calls() != 0 {
		t.Error("unknown tool must not touch the bus")
	}
}

func TestCallTool_InvalidActionRejected(t *testing.T) {
	t.Parallel()
	m := &mock.Manager{JobPath: "/org/freedesktop/systemd1/job/1"}
	cs := connect(t, newTestServer(t, stdioConfig(), &mock.Resolver{Manager: m}))

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "manage_service",
		Arguments: map[string]any{"service": "nginx", "action": "enable"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected isError, got %q", resultText(t, res))
	}
	if len(m.Calls()) != 0 {
		t.Errorf("manager was called: %+v", m.Calls())
	}
}

func TestServeListener_StreamableHTTP(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	cfg := mcp.ServerConfig{
		Name:       "systemd-manager",
		Version:    "1.1.0",
		Transport:  mcp.TransportStreamableHTTP,
		ListenAddr: ln.Addr().String(),
	}
	s := newTestServer(t, cfg, &mock.Resolver{Manager: &mock.Manager{}})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.ServeListener(ctx, ln) }()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(context.Background(), &mcpsdk.StreamableClientTransport{Endpoint: "http://" + ln.Addr().String()}, nil)
	if err != nil {
		cancel()
		t.Fatalf("client Connect: %v", err)
	}

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: "list_failed_services"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := resultText(t, res); got != "No failed services found." {
		t.Errorf("text = %q", got)
	}
	_ = cs.Close()

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("ServeListener: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeListener did not return after cancellation")
	}
}
