package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoicesChanged bool
	NewVoices     []VoiceEntry

	APIKeysChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart — the listener
// address, provider selection, and session backing store require a process
// restart and are intentionally not diffed here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Gateway.Voices, new.Gateway.Voices) {
		d.VoicesChanged = true
		d.NewVoices = new.Gateway.Voices
	}

	if !slices.Equal(old.Gateway.APIKeys, new.Gateway.APIKeys) {
		d.APIKeysChanged = true
	}

	return d
}
