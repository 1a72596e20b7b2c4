package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdsChanged is true if any intent acceptance threshold or the
	// phonetic similarity bar changed.
	ThresholdsChanged bool
	NewIntent         IntentConfig

	// CaptureChanged is true if any utterance segmentation timing changed.
	// New sessions pick the values up; sessions in progress keep theirs.
	CaptureChanged bool
	NewCapture     CaptureConfig

	// SessionChanged is true if the idle timeout or sweep interval changed.
	SessionChanged bool
	NewSession     SessionConfig
}

// Empty reports whether no hot-reloadable field changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThresholdsChanged && !d.CaptureChanged && !d.SessionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !maps.Equal(old.Intent.Thresholds, new.Intent.Thresholds) ||
		old.Intent.PhoneticSimilarityPercent != new.Intent.PhoneticSimilarityPercent {
		d.ThresholdsChanged = true
		d.NewIntent = new.Intent
	}

	if old.Capture != new.Capture {
		d.CaptureChanged = true
		d.NewCapture = new.Capture
	}

	if old.Session != new.Session {
		d.SessionChanged = true
		d.NewSession = new.Session
	}

	return d
}
