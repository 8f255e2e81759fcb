package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is the only change applied without restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the YAML keys of changed settings that only take
	// effect after the process restarts.
	RestartRequired []string
}

// Changed reports whether any setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.name", old.Server.Name != new.Server.Name)
	restart("server.version", old.Server.Version != new.Server.Version)
	restart("server.transport", old.Server.Transport != new.Server.Transport)
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.admin_addr", old.Server.AdminAddr != new.Server.AdminAddr)
	restart("server.log_file", old.Server.LogFile != new.Server.LogFile)
	restart("server.call_timeout", old.Server.CallTimeout != new.Server.CallTimeout)
	restart("bus", old.Bus != new.Bus)
	restart("journal", old.Journal != new.Journal)

	return d
}
