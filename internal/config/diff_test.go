package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/systemd-mcp/internal/config"
	"github.com/MrWong99/systemd-mcp/internal/mcp"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level change should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.Transport = mcp.TransportStreamableHTTP
	new.Server.ListenAddr = ":8090"
	new.Bus.CallTimeout = time.Second
	new.Journal.Lines = 100

	d := config.Diff(old, new)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
	want := []string{"server.transport", "server.listen_addr", "bus", "journal"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
