package config

import (
	"fmt"
)

var supportedProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
}

// Validate checks a configuration for values the subsystem cannot run with
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if cfg.Agent.Provider != "" && !supportedProviders[cfg.Agent.Provider] {
		return fmt.Errorf("unsupported provider: %s", cfg.Agent.Provider)
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", cfg.Agent.Temperature)
	}
	if cfg.Agent.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}

	if cfg.Isolation.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if cfg.Isolation.SweepSchedule == "" && cfg.Isolation.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive when no sweep_schedule is set")
	}

	return nil
}
