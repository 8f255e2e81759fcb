// Package dispatch routes tool calls to their handlers and converts every
// outcome into a single [Result].
//
// The [Dispatcher] is the only place where tool failures are observed: an
// unknown name, a schema violation, a handler error, a deadline or a handler
// panic all become a Result with IsError set and the text "Error: <message>".
// Nothing escapes a call, so one failing call never affects the next one.
//
// Calls are executed one at a time. Each call is logged on entry with its tool
// name and arguments, and failures are logged again with the error.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/systemd-mcp/internal/mcp/tools"
	"github.com/MrWong99/systemd-mcp/internal/observe"
)

// ErrToolNotFound is returned when a call names a tool that is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrMalformedArgument is returned when call arguments violate the tool's
// input schema. It is the same sentinel handlers use.
var ErrMalformedArgument = tools.ErrMalformedArgument

// DefaultCallTimeout bounds a single call when no [WithCallTimeout] is given.
const DefaultCallTimeout = 30 * time.Second

// Content is one item of a tool response. Type is always "text".
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the response envelope of a single tool call. It always carries
// exactly one content item.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the text of the result's content item.
func (r Result) Text() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

func textResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}}
}

func errorResult(err error) Result {
	r := textResult("Error: " + err.Error())
	r.IsError = true
	return r
}

// entry pairs a registered tool with its resolved input schema.
type entry struct {
	tool   tools.Tool
	schema *jsonschema.Resolved
}

// Dispatcher holds the immutable tool catalog and executes calls against it.
type Dispatcher struct {
	// mu serialises calls so only one handler runs at a time.
	mu sync.Mutex

	order   []string
	entries map[string]entry

	timeout time.Duration
	metrics *observe.Metrics
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithCallTimeout sets the per-call deadline. Non-positive values disable it.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New builds a dispatcher for ts. The catalog order is the order of ts.
// Returns an error for duplicate names, missing handlers or a definition
// whose schema does not resolve.
func New(ts []tools.Tool, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		entries: make(map[string]entry, len(ts)),
		timeout: DefaultCallTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}

	for _, t := range ts {
		name := t.Definition.Name
		if name == "" {
			return nil, errors.New("dispatch: tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("dispatch: tool %q has no handler", name)
		}
		if _, dup := d.entries[name]; dup {
			return nil, fmt.Errorf("dispatch: tool %q registered twice", name)
		}
		resolved, err := t.Definition.InputSchema().Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("dispatch: resolve schema for %q: %w", name, err)
		}
		d.entries[name] = entry{tool: t, schema: resolved}
		d.order = append(d.order, name)
	}
	return d, nil
}

// ListTools returns the catalog in registration order and logs the request.
// It never touches the bus.
func (d *Dispatcher) ListTools(ctx context.Context) []tools.Definition {
	ctx = observe.WithDiagnostics(ctx)
	observe.Logger(ctx).InfoContext(ctx, "client requested tool list", "tools", len(d.order))
	return d.Definitions()
}

// Definitions returns the catalog without logging.
func (d *Dispatcher) Definitions() []tools.Definition {
	defs := make([]tools.Definition, 0, len(d.order))
	for _, name := range d.order {
		defs = append(defs, d.entries[name].tool.Definition)
	}
	return defs
}

// Has reports whether name is a registered tool.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.entries[name]
	return ok
}

// Call executes the named tool with string arguments.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]string) Result {
	if args == nil {
		args = map[string]string{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errorResult(fmt.Errorf("dispatch: encode arguments: %w", err))
	}
	return d.CallRaw(ctx, name, raw)
}

// CallRaw executes the named tool with JSON-encoded arguments as received on
// the wire. Empty or null arguments are treated as an empty object.
func (d *Dispatcher) CallRaw(ctx context.Context, name string, args json.RawMessage) Result {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	callID := uuid.NewString()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx = observe.WithDiagnostics(ctx)
	ctx, span := observe.StartSpan(ctx, "tool "+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", callID),
	)
	log := observe.Logger(ctx).With("call_id", callID, "tool", name)
	log.InfoContext(ctx, "executing tool", "args", string(args))

	start := time.Now()
	text, err := d.execute(ctx, name, args)
	elapsed := time.Since(start)

	if err != nil {
		d.metrics.RecordToolCall(ctx, name, "error", elapsed)
		observe.FailSpan(span, err)
		log.ErrorContext(ctx, "tool call failed", "error", err.Error(), "duration", elapsed)
		return errorResult(err)
	}
	d.metrics.RecordToolCall(ctx, name, "ok", elapsed)
	log.InfoContext(ctx, "tool call succeeded", "duration", elapsed, "bytes", len(text))
	return textResult(text)
}

// execute looks up, validates and runs one call. It never panics.
func (d *Dispatcher) execute(ctx context.Context, name string, args json.RawMessage) (text string, err error) {
	e, ok := d.entries[name]
	if !ok {
		return "", fmt.Errorf("dispatch: %w: %q", ErrToolNotFound, name)
	}

	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return "", fmt.Errorf("dispatch: %s: %w: %v", name, ErrMalformedArgument, err)
	}
	if err := e.schema.Validate(instance); err != nil {
		return "", fmt.Errorf("dispatch: %s: %w: %v", name, ErrMalformedArgument, err)
	}

	timeout := d.timeout
	if e.tool.Timeout > 0 && (timeout <= 0 || e.tool.Timeout < timeout) {
		timeout = e.tool.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool handler panicked", "tool", name, "panic", r)
			text, err = "", fmt.Errorf("dispatch: %s: handler panic: %v", name, r)
		}
	}()

	text, err = e.tool.Handler(ctx, string(args))
	if err != nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w (call timed out after %s)", err, timeout)
	}
	return text, err
}
