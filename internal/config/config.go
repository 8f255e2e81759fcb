// Package config provides the configuration schema, loader, and hot-reload
// watcher for the systemd-mcp server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/systemd-mcp/internal/mcp"
)

// LogLevel controls log verbosity for the systemd-mcp server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for systemd-mcp.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bus     BusConfig     `yaml:"bus"`
	Journal JournalConfig `yaml:"journal"`
}

// ServerConfig holds the MCP identity, transport and logging settings.
type ServerConfig struct {
	// Name is the implementation name announced to MCP clients.
	Name string `yaml:"name"`

	// Version is the implementation version announced to MCP clients.
	Version string `yaml:"version"`

	// Transport selects stdio or streamable-http.
	Transport mcp.Transport `yaml:"transport"`

	// ListenAddr is the TCP address for the streamable-http transport
	// (e.g., "127.0.0.1:8090"). Required when Transport is streamable-http.
	ListenAddr string `yaml:"listen_addr"`

	// AdminAddr optionally serves /healthz, /readyz and /metrics. Empty
	// disables the admin listener.
	AdminAddr string `yaml:"admin_addr"`

	// LogLevel controls verbosity. Can be changed without restart.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile is the append-only diagnostic log. stdout is never used for
	// logging because it carries the stdio transport.
	LogFile string `yaml:"log_file"`

	// CallTimeout bounds a single tool call end to end.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// BusConfig configures the D-Bus connection to systemd.
type BusConfig struct {
	// Address is a D-Bus address such as "unix:path=/run/dbus/system_bus_socket".
	// Empty selects the system bus.
	Address string `yaml:"address"`

	// CallTimeout bounds a single D-Bus method call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Breaker optionally fails bus calls fast after repeated transport
	// failures. Disabled when MaxFailures is zero.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the bus circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures that open
	// the breaker. Zero disables it.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// JournalConfig configures the journal log query.
type JournalConfig struct {
	// Command is the journalctl executable (name or absolute path).
	Command string `yaml:"command"`

	// Lines is the number of trailing lines returned by get_service_logs.
	Lines int `yaml:"lines"`

	// Timeout bounds a single journalctl invocation.
	Timeout time.Duration `yaml:"timeout"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultName           = "systemd-manager"
	DefaultVersion        = "1.1.0"
	DefaultLogFile        = "/var/log/systemd-mcp/debug.log"
	DefaultCallTimeout    = 30 * time.Second
	DefaultBusTimeout     = 10 * time.Second
	DefaultBreakerReset   = 30 * time.Second
	DefaultJournalCommand = "journalctl"
	DefaultJournalLines   = 20
	DefaultJournalTimeout = 10 * time.Second
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Name == "" {
		s.Name = DefaultName
	}
	if s.Version == "" {
		s.Version = DefaultVersion
	}
	if s.Transport == "" {
		s.Transport = mcp.TransportStdio
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFile == "" {
		s.LogFile = DefaultLogFile
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = DefaultCallTimeout
	}

	if cfg.Bus.CallTimeout == 0 {
		cfg.Bus.CallTimeout = DefaultBusTimeout
	}
	if cfg.Bus.Breaker.MaxFailures > 0 && cfg.Bus.Breaker.ResetTimeout == 0 {
		cfg.Bus.Breaker.ResetTimeout = DefaultBreakerReset
	}

	j := &cfg.Journal
	if j.Command == "" {
		j.Command = DefaultJournalCommand
	}
	if j.Lines == 0 {
		j.Lines = DefaultJournalLines
	}
	if j.Timeout == 0 {
		j.Timeout = DefaultJournalTimeout
	}
}

// MCPServer returns the MCP server settings derived from c.
func (c *Config) MCPServer() mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:       c.Server.Name,
		Version:    c.Server.Version,
		Transport:  c.Server.Transport,
		ListenAddr: c.Server.ListenAddr,
	}
}
