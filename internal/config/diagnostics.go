package config

import "fmt"

// LogConfig represents the [log] section
type LogConfig struct {
	Level  string `toml:"level" mapstructure:"level"`
	Format string `toml:"format" mapstructure:"format"`
}

// Validate performs validation on the log configuration
func (l *LogConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains_slice(validLevels, l.Level) {
		return fmt.Errorf("invalid log level: %s (valid options: debug, info, warn, error)", l.Level)
	}

	validFormats := []string{"json", "console"}
	if !contains_slice(validFormats, l.Format) {
		return fmt.Errorf("invalid log format: %s (valid options: json, console)", l.Format)
	}

	return nil
}

// IsDebug returns true if debug logging is enabled
func (l *LogConfig) IsDebug() bool {
	return l.Level == "debug"
}
