package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/systemd-mcp/internal/config"
	"github.com/MrWong99/systemd-mcp/internal/mcp"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "verbose" },
			wantErr: "server.log_level",
		},
		{
			name:    "invalid transport",
			mutate:  func(c *config.Config) { c.Server.Transport = "carrier-pigeon" },
			wantErr: "server.transport",
		},
		{
			name:    "http without listen address",
			mutate:  func(c *config.Config) { c.Server.Transport = mcp.TransportStreamableHTTP },
			wantErr: "server.listen_addr",
		},
		{
			name: "admin address collides with listen address",
			mutate: func(c *config.Config) {
				c.Server.Transport = mcp.TransportStreamableHTTP
				c.Server.ListenAddr = ":8090"
				c.Server.AdminAddr = ":8090"
			},
			wantErr: "server.admin_addr",
		},
		{
			name:    "missing name",
			mutate:  func(c *config.Config) { c.Server.Name = "" },
			wantErr: "server.name",
		},
		{
			name:    "negative call timeout",
			mutate:  func(c *config.Config) { c.Server.CallTimeout = -1 },
			wantErr: "server.call_timeout",
		},
		{
			name:    "negative bus timeout",
			mutate:  func(c *config.Config) { c.Bus.CallTimeout = -1 },
			wantErr: "bus.call_timeout",
		},
		{
			name:    "negative breaker failures",
			mutate:  func(c *config.Config) { c.Bus.Breaker.MaxFailures = -2 },
			wantErr: "bus.breaker.max_failures",
		},
		{
			name:    "journal lines too large",
			mutate:  func(c *config.Config) { c.Journal.Lines = config.MaxJournalLines + 1 },
			wantErr: "journal.lines",
		},
		{
			name:    "negative journal timeout",
			mutate:  func(c *config.Config) { c.Journal.Timeout = -1 },
			wantErr: "journal.timeout",
		},
		{
			name:   "defaults are valid",
			mutate: func(*config.Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  transport: pigeon
  log_level: loud
journal:
  lines: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"server.transport", "server.log_level", "journal.lines"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %q, got: %v", want, msg)
		}
	}
}
