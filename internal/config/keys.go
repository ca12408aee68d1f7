package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.base_url", typ: kString, env: "CASEFLOW_SERVER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.BaseURL },
	},
	{
		key: "pipeline.stages", typ: kString, env: "CASEFLOW_PIPELINE_STAGES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Stages = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Stages },
	},
	{
		key: "pipeline.failure_keywords", typ: kString, env: "CASEFLOW_PIPELINE_FAILURE_KEYWORDS",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.FailureKeywords = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.FailureKeywords },
	},
	{
		key: "session.idle_timeout", typ: kString, env: "CASEFLOW_SESSION_IDLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Session.IdleTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.IdleTimeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CASEFLOW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "sim.port", typ: kInt, env: "CASEFLOW_SIM_PORT",
		apply:   func(cfg *Config, v any) { cfg.Sim.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Sim.Port },
	},
	{
		key: "sim.pace", typ: kString, env: "CASEFLOW_SIM_PACE",
		apply:   func(cfg *Config, v any) { cfg.Sim.Pace = v.(string) },
		extract: func(cfg Config) any { return cfg.Sim.Pace },
	},
	{
		key: "log.level", typ: kString, env: "CASEFLOW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
