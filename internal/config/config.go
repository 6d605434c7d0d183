package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for the download server.
type Config struct {
	Port         int
	DBPath       string
	TickInterval time.Duration // delay between simulated chunks
	StaleAfter   time.Duration // busy sessions older than this are reclaimed
	ReapInterval time.Duration // global reaper sweep period; 0 disables the sweep
	LogLevel     string
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/d3as).
func Load() Config {
	return Config{
		Port:         viper.GetInt("port"),
		DBPath:       viper.GetString("db_path"),
		TickInterval: viper.GetDuration("tick_interval"),
		StaleAfter:   viper.GetDuration("stale_after"),
		ReapInterval: viper.GetDuration("reap_interval"),
		LogLevel:     viper.GetString("log_level"),
	}
}

// SlogLevel maps the configured log level string onto a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
