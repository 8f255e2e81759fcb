package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/systemd-mcp/internal/mcp"
)

// MaxJournalLines caps journal.lines so a single call cannot return an
// unbounded amount of text.
const MaxJournalLines = 10000

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. A missing file yields an error wrapping
// [os.ErrNotExist]; callers that treat the file as optional should fall back
// to [Default].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	s := cfg.Server
	if s.Name == "" {
		errs = append(errs, errors.New("server.name is required"))
	}
	if s.Transport != "" && !s.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("server.transport %q is invalid; valid values: stdio, streamable-http", s.Transport))
	}
	if s.Transport == mcp.TransportStreamableHTTP && s.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required when transport is streamable-http"))
	}
	if s.AdminAddr != "" && s.AdminAddr == s.ListenAddr {
		errs = append(errs, fmt.Errorf("server.admin_addr %q must differ from server.listen_addr", s.AdminAddr))
	}
	if s.LogLevel != "" && !s.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", s.LogLevel))
	}
	if s.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.call_timeout %s must not be negative", s.CallTimeout))
	}

	// Bus
	if cfg.Bus.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("bus.call_timeout %s must not be negative", cfg.Bus.CallTimeout))
	}
	if cfg.Bus.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("bus.breaker.max_failures %d must not be negative", cfg.Bus.Breaker.MaxFailures))
	}
	if cfg.Bus.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("bus.breaker.reset_timeout %s must not be negative", cfg.Bus.Breaker.ResetTimeout))
	}

	// Journal
	if cfg.Journal.Lines < 0 || cfg.Journal.Lines > MaxJournalLines {
		errs = append(errs, fmt.Errorf("journal.lines %d is out of range [1, %d]", cfg.Journal.Lines, MaxJournalLines))
	}
	if cfg.Journal.Timeout < 0 {
		errs = append(errs, fmt.Errorf("journal.timeout %s must not be negative", cfg.Journal.Timeout))
	}

	return errors.Join(errs...)
}
