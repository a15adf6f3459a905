package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: segmenter tuning,
// text stream tuning, and the log level. Provider and audio format changes
// require a restart.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	SegmenterChanged  bool
	TextStreamChanged bool
	ReplayChanged     bool
}

// Changed reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SegmenterChanged || d.TextStreamChanged || d.ReplayChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Segmenter != new.Segmenter {
		d.SegmenterChanged = true
	}
	if old.TextStream != new.TextStream {
		d.TextStreamChanged = true
	}
	if old.Replay != new.Replay {
		d.ReplayChanged = true
	}

	return d
}
