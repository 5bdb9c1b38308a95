package config

import (
	"fmt"
	"time"
)

// Settings are the runtime tunables that may change while the process runs.
// They live in a JSON file watched by Manager.
type Settings struct {
	MaxConcurrentRuns int              `json:"max_concurrent_runs"`
	MaxTrackedRuns    int              `json:"max_tracked_runs"`
	ParallelAnalysts  bool             `json:"parallel_analysts"`
	TTLSeconds        map[string]int64 `json:"ttl_seconds"`
	DefaultProvider   string           `json:"default_provider"`
	DefaultModel      string           `json:"default_model"`
}

// SettingsFrom derives the initial runtime settings from the static config.
func SettingsFrom(cfg *Config) Settings {
	ttls := make(map[string]int64)
	for k, v := range cfg.Cache.TTLs() {
		ttls[k] = int64(v / time.Second)
	}
	return Settings{
		MaxConcurrentRuns: cfg.Runner.MaxConcurrentRuns,
		MaxTrackedRuns:    cfg.Runner.MaxTrackedRuns,
		ParallelAnalysts:  cfg.Runner.ParallelAnalysts,
		TTLSeconds:        ttls,
		DefaultProvider:   cfg.LLM.DefaultProvider,
		DefaultModel:      cfg.LLM.DefaultModel,
	}
}

// TTLs converts TTLSeconds to durations, skipping non-positive values.
func (s Settings) TTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.TTLSeconds))
	for k, v := range s.TTLSeconds {
		if v > 0 {
			out[k] = time.Duration(v) * time.Second
		}
	}
	return out
}

func (s Settings) Validate() error {
	if s.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be positive")
	}
	if s.MaxTrackedRuns < s.MaxConcurrentRuns {
		return fmt.Errorf("max_tracked_runs must be >= max_concurrent_runs")
	}
	for k, v := range s.TTLSeconds {
		if v < 0 {
			return fmt.Errorf("ttl_seconds[%s] must not be negative", k)
		}
	}
	return nil
}
