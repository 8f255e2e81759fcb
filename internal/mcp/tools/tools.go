// Package tools defines the shared [Tool] type used by the systemd-mcp tool
// packages. Each sub-package exports a constructor function that returns a
// slice of [Tool] values ready for registration with the dispatcher.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrMalformedArgument is returned when tool arguments are missing, empty,
// of the wrong type, or outside their allowed values.
var ErrMalformedArgument = errors.New("malformed argument")

// Tool represents a tool ready for registration with the dispatcher.
//
// Each Tool carries its caller-facing [Definition] together with the handler
// function that is invoked on a tools/call request.
type Tool struct {
	// Definition is the tool's schema including its name, description and
	// parameter list.
	Definition Definition

	// Handler executes the tool with JSON-encoded args and returns the text
	// delivered to the caller on success, or a descriptive error.
	// Implementations must respect context cancellation.
	Handler func(ctx context.Context, args string) (string, error)

	// Timeout optionally caps a single execution below the dispatcher's
	// per-call deadline. Zero means the dispatcher default applies.
	Timeout time.Duration
}

// Definition is the immutable description of a tool served on tools/list.
type Definition struct {
	Name        string
	Description string

	// Params lists the tool's string parameters in declaration order.
	Params []Param

	// ReadOnly marks tools that never change system state.
	ReadOnly bool

	// Destructive marks tools that may stop or restart services.
	Destructive bool
}

// Param is one named string argument of a tool.
type Param struct {
	Name        string
	Description string
	Required    bool

	// Enum restricts the value to the listed strings when non-empty.
	Enum []string
}

// InputSchema renders d as a JSON Schema object. Every parameter is a string;
// required parameters must also be non-empty.
func (d Definition) InputSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(d.Params)),
	}
	for _, p := range d.Params {
		ps := &jsonschema.Schema{Type: "string", Description: p.Description}
		for _, e := range p.Enum {
			ps.Enum = append(ps.Enum, e)
		}
		if p.Required {
			minLen := 1
			ps.MinLength = &minLen
			s.Required = append(s.Required, p.Name)
		}
		s.Properties[p.Name] = ps
	}
	return s
}

// DecodeArgs unmarshals the JSON-encoded args into v, wrapping decode
// failures in [ErrMalformedArgument].
func DecodeArgs(args string, v any) error {
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArgument, err)
	}
	return nil
}
