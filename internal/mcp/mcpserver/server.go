// Package mcpserver adapts a [dispatch.Dispatcher] to the Model Context
// Protocol using the official go-sdk.
//
// tools/list is answered from the dispatcher's catalog in catalog order and
// tools/call is routed through the dispatcher for every name, including names
// that are not registered. Unknown tools therefore produce the usual isError
// result instead of a JSON-RPC protocol error.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/systemd-mcp/internal/mcp"
	"github.com/MrWong99/systemd-mcp/internal/mcp/dispatch"
	"github.com/MrWong99/systemd-mcp/internal/mcp/tools"
	"github.com/MrWong99/systemd-mcp/internal/observe"
)

const (
	methodListTools = "tools/list"
	methodCallTool  = "tools/call"
)

// Server serves one dispatcher over MCP.
type Server struct {
	cfg     mcp.ServerConfig
	disp    *dispatch.Dispatcher
	sdk     *mcpsdk.Server
	metrics *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used by the HTTP middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New registers every tool of d with a go-sdk server announcing cfg's
// identity.
func New(cfg mcp.ServerConfig, d *dispatch.Dispatcher, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mcpserver: invalid config: %w", err)
	}
	s := &Server{cfg: cfg, disp: d}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)
	for _, def := range d.Definitions() {
		s.sdk.AddTool(sdkTool(def), s.handleCall)
	}
	s.sdk.AddReceivingMiddleware(s.middleware)
	return s, nil
}

// sdkTool converts a catalog definition into the SDK's tool description.
func sdkTool(def tools.Definition) *mcpsdk.Tool {
	closedWorld := false
	destructive := def.Destructive
	return &mcpsdk.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.InputSchema(),
		Annotations: &mcpsdk.ToolAnnotations{
			ReadOnlyHint:    def.ReadOnly,
			DestructiveHint: &destructive,
			OpenWorldHint:   &closedWorld,
		},
	}
}

// handleCall is the SDK tool handler for every registered tool.
func (s *Server) handleCall(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	return toSDKResult(s.disp.CallRaw(ctx, req.Params.Name, req.Params.Arguments)), nil
}

// middleware serves tools/list from the dispatcher and routes calls to
// unknown tools through it.
func (s *Server) middleware(next mcpsdk.MethodHandler) mcpsdk.MethodHandler {
	return func(ctx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
		switch method {
		case methodListTools:
			defs := s.disp.ListTools(ctx)
			res := &mcpsdk.ListToolsResult{Tools: make([]*mcpsdk.Tool, 0, len(defs))}
			for _, def := range defs {
				res.Tools = append(res.Tools, sdkTool(def))
			}
			return res, nil
		case methodCallTool:
			if call, ok := req.(*mcpsdk.CallToolRequest); ok && !s.disp.Has(call.Params.Name) {
				return toSDKResult(s.disp.CallRaw(ctx, call.Params.Name, call.Params.Arguments)), nil
			}
		}
		return next(ctx, method, req)
	}
}

func toSDKResult(r dispatch.Result) *mcpsdk.CallToolResult {
	out := &mcpsdk.CallToolResult{IsError: r.IsError}
	for _, c := range r.Content {
		out.Content = append(out.Content, &mcpsdk.TextContent{Text: c.Text})
	}
	return out
}

// Connect attaches the server to t and logs the attachment.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	ss, err := s.sdk.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpserver: connect: %w", err)
	}
	slog.Info("server connected", "transport", string(s.cfg.Transport), "name", s.cfg.Name, "version", s.cfg.Version)
	return ss, nil
}

// Handler returns the streamable HTTP handler wrapped in the observe
// middleware.
func (s *Server) Handler() http.Handler {
	h := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.sdk }, nil)
	return observe.Middleware(s.metrics)(h)
}

// Serve runs the configured transport until ctx is cancelled or the client
// goes away. A closed stdin is a normal shutdown.
func (s *Server) Serve(ctx context.Context) error {
	switch s.cfg.Transport {
	case mcp.TransportStreamableHTTP:
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("mcpserver: listen %s: %w", s.cfg.ListenAddr, err)
		}
		return s.ServeListener(ctx, ln)
	default:
		return s.serveStdio(ctx)
	}
}

func (s *Server) serveStdio(ctx context.Context) error {
	ss, err := s.Connect(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- ss.Wait() }()

	select {
	case <-ctx.Done():
		_ = ss.Close()
		<-done
		return nil
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("mcpserver: stdio session: %w", err)
		}
		slog.Info("client disconnected")
		return nil
	}
}

// ServeListener serves streamable HTTP on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("server connected", "transport", string(s.cfg.Transport), "addr", ln.Addr().String(),
		"name", s.cfg.Name, "version", s.cfg.Version)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Long-lived SSE streams keep connections busy past the grace period.
			slog.Warn("mcpserver: graceful shutdown incomplete, closing connections", "err", err)
			return srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("mcpserver: serve: %w", err)
	}
}
