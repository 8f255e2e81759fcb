// Package mcp holds the types shared by the systemd-mcp Model Context
// Protocol server.
//
// The server exposes a fixed catalog of systemd tools. Requests arrive either
// on stdin/stdout ([TransportStdio]) or over streamable HTTP
// ([TransportStreamableHTTP]); stdout is reserved for protocol traffic in the
// stdio case, so diagnostics always go to the log sink.
//
// Lifecycle:
//
//  1. Build the tool catalog (see package servicectl).
//  2. Wrap it in a dispatcher (see package dispatch).
//  3. Hand the dispatcher to the transport adapter (see package mcpserver)
//     together with a [ServerConfig] and serve until the context ends.
package mcp

import (
	"errors"
	"fmt"
)

// ServerConfig describes the MCP server identity and how it is reached.
type ServerConfig struct {
	// Name is the implementation name announced during initialisation.
	Name string

	// Version is the implementation version announced during initialisation.
	Version string

	// Transport selects stdio or streamable HTTP.
	Transport Transport

	// ListenAddr is the TCP address served when Transport is
	// [TransportStreamableHTTP]. Ignored for stdio.
	ListenAddr string
}

// Validate reports configuration errors.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !c.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.Transport == TransportStreamableHTTP && c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required for streamable-http"))
	}
	return errors.Join(errs...)
}
