package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AnalysisChanged is true when extractor or plot settings differ.
	AnalysisChanged bool

	// RestartRequired lists sections that changed but only take effect on
	// the next start.
	RestartRequired []string
}

// Empty reports whether d carries no change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AnalysisChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Analysis != new.Analysis || old.Plot != new.Plot {
		d.AnalysisChanged = true
	}

	if old.Tools.FFmpeg != new.Tools.FFmpeg || old.Tools.FFprobe != new.Tools.FFprobe ||
		old.Tools.Sox != new.Tools.Sox || old.Tools.Keep() != new.Tools.Keep() {
		d.RestartRequired = append(d.RestartRequired, "tools")
	}
	if old.Batch != new.Batch {
		d.RestartRequired = append(d.RestartRequired, "batch")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Server != new.Server {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
