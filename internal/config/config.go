package config

import (
	"encoding/json"
	"time"
)

// Config represents the context isolation subsystem configuration
type Config struct {
	// Agent holds the wrapped agent configuration
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Capabilities describes what the wrapped agent supports
	Capabilities CapabilitiesConfig `json:"capabilities" mapstructure:"capabilities"`

	// Isolation holds registry and lifecycle settings
	Isolation IsolationConfig `json:"isolation" mapstructure:"isolation"`

	// Logging holds logger configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is the base directory for runtime data
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig configures the wrapped agent
type AgentConfig struct {
	Name         string   `json:"name" mapstructure:"name"`
	Provider     string   `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey       string   `json:"api_key" mapstructure:"api_key"`
	Model        string   `json:"model" mapstructure:"model"`
	SystemPrompt string   `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int      `json:"max_tokens" mapstructure:"max_tokens"`
	Tools        []string `json:"tools" mapstructure:"tools"`
}

// CapabilitiesConfig mirrors the capability descriptor produced by framework detection
type CapabilitiesConfig struct {
	NativeIsolation   bool `json:"native_isolation" mapstructure:"native_isolation"`
	InjectableSession bool `json:"injectable_session" mapstructure:"injectable_session"`
}

// IsolationConfig holds registry and lifecycle settings
type IsolationConfig struct {
	// IdleTimeout is how long a context may sit idle before the sweeper evicts it
	IdleTimeout time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`

	// SweepInterval is the period between sweep passes when no cron schedule is set
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`

	// SweepSchedule is an optional cron expression overriding SweepInterval
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`

	// SessionDBPath is the sqlite file backing the injectable session store
	SessionDBPath string `json:"session_db_path" mapstructure:"session_db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:    "anthropic",
			Model:       "claude-3-5-sonnet-20241022",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Isolation: IsolationConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// String returns the JSON representation with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Agent.APIKey != "" {
		masked.Agent.APIKey = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return "<unprintable config>"
	}
	return string(data)
}
