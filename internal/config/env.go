package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings are process-level knobs taken from the environment. A .env file
// in the working directory is honored when present (loaded by the binary's
// entry point before the CLI runs).
type Settings struct {
	// DataDir holds state the service writes for itself: the counter
	// database and scratch space for derived artifacts.
	DataDir    string `env:"HOTFOLD_DATA_DIR" envDefault:"."`
	CounterDB  string `env:"HOTFOLD_COUNTER_DB"`
	ScratchDir string `env:"HOTFOLD_SCRATCH_DIR"`

	LogLevel  string `env:"HOTFOLD_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"HOTFOLD_LOG_FORMAT" envDefault:"text"`

	// MetricsAddr exposes Prometheus metrics when non-empty, e.g. ":9090".
	MetricsAddr string `env:"HOTFOLD_METRICS_ADDR"`

	// SMTPAddr is the mail relay (host:port) used by email destinations.
	// SMTPFrom is the default sender address.
	SMTPAddr string `env:"HOTFOLD_SMTP_ADDR"`
	SMTPFrom string `env:"HOTFOLD_SMTP_FROM"`

	// PollInterval is the directory scan cadence backing up filesystem
	// notifications.
	PollInterval time.Duration `env:"HOTFOLD_POLL_INTERVAL" envDefault:"1s"`

	// MaxConcurrent caps jobs processed in parallel per hotfolder.
	MaxConcurrent int `env:"HOTFOLD_MAX_CONCURRENT" envDefault:"2"`
}

// LoadSettings reads Settings from the environment and derives the paths
// that default relative to DataDir.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse environment: %w", err)
	}
	if s.CounterDB == "" {
		s.CounterDB = filepath.Join(s.DataDir, "counters.db")
	}
	if s.ScratchDir == "" {
		s.ScratchDir = filepath.Join(s.DataDir, "scratch")
	}
	if s.MaxConcurrent < 1 {
		return Settings{}, fmt.Errorf("HOTFOLD_MAX_CONCURRENT must be at least 1, got %d", s.MaxConcurrent)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return Settings{}, fmt.Errorf("HOTFOLD_LOG_FORMAT must be text or json, got %q", s.LogFormat)
	}
	return s, nil
}
