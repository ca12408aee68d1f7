// Package config loads caseflow settings from the platform-native backend
// with environment overrides.
package config

import (
	"strings"
	"time"

	"github.com/kalambet/caseflow/internal/session"
)

type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
	Session  SessionConfig
	Storage  StorageConfig
	Sim      SimConfig
	Log      LogConfig
}

type ServerConfig struct {
	BaseURL string
}

type PipelineConfig struct {
	// Stages is the comma-separated stage order; the last entry is terminal.
	Stages string
	// FailureKeywords is a comma-separated list of system-message substrings
	// that terminate a run.
	FailureKeywords string
}

type SessionConfig struct {
	// IdleTimeout is a duration string; a run with no user activity for this
	// long is cancelled.
	IdleTimeout string
}

type StorageConfig struct {
	DataDir string
}

type SimConfig struct {
	Port int
	// Pace is the duration string between scripted emissions.
	Pace string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: "http://127.0.0.1:8000",
		},
		Pipeline: PipelineConfig{
			Stages: strings.Join(session.DefaultSequence(), ","),
		},
		Session: SessionConfig{
			IdleTimeout: "10m",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Sim: SimConfig{
			Port: 8000,
			Pace: "400ms",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and applies
// environment overrides.
//
// On macOS the backend is UserDefaults (domain: com.caseflow.app). On Linux
// it is a JSON file at $XDG_CONFIG_HOME/caseflow/config.json. Environment
// variables (CASEFLOW_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Stages returns the configured stage order as a Sequence, falling back to
// the default pipeline when the setting is empty or malformed.
func (c Config) Stages() session.Sequence {
	parts := strings.Split(c.Pipeline.Stages, ",")
	var seq session.Sequence
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			seq = append(seq, s)
		}
	}
	if len(seq) < 2 {
		return session.DefaultSequence()
	}
	return seq
}

// FailureKeywords returns the configured failure keywords, or nil to use
// the engine's defaults.
func (c Config) FailureKeywords() []string {
	if strings.TrimSpace(c.Pipeline.FailureKeywords) == "" {
		return nil
	}
	var words []string
	for _, p := range strings.Split(c.Pipeline.FailureKeywords, ",") {
		if w := strings.TrimSpace(p); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// IdleTimeout parses the session idle timeout, falling back to 10 minutes.
func (c Config) IdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Session.IdleTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// SimPace parses the simulator emission delay, falling back to 400ms.
func (c Config) SimPace() time.Duration {
	d, err := time.ParseDuration(c.Sim.Pace)
	if err != nil || d < 0 {
		return 400 * time.Millisecond
	}
	return d
}
