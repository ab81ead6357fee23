// Package config provides the configuration schema and loader for the
// dmforge server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that unmarshals from YAML strings such as
// "30s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration, typically loaded from a YAML file with
// [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	LLM    LLMConfig    `yaml:"llm"`
	Game   GameConfig   `yaml:"game"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LLMConfig selects and configures the narration model backend.
type LLMConfig struct {
	// Provider selects the backend: "openai", "anthropic", or "ollama".
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider. The DMFORGE_API_KEY
	// environment variable overrides this field.
	APIKey string `yaml:"api_key"`

	// Model names the model to use (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// Fallback optionally names a second backend tried when the primary's
	// circuit breaker is open.
	Fallback string `yaml:"fallback"`

	// FallbackModel is the model used on the fallback backend.
	FallbackModel string `yaml:"fallback_model"`

	// TurnTimeout bounds one full action turn, streaming included.
	TurnTimeout Duration `yaml:"turn_timeout"`
}

// GameConfig holds engine tuning knobs.
type GameConfig struct {
	// SaveDir is where save files are written.
	SaveDir string `yaml:"save_dir"`

	// ContentDir optionally overlays scenario YAML bundles over the
	// embedded ones.
	ContentDir string `yaml:"content_dir"`

	// SessionTimeout evicts sessions idle longer than this.
	SessionTimeout Duration `yaml:"session_timeout"`

	// ReaperInterval is how often the session reaper wakes.
	ReaperInterval Duration `yaml:"reaper_interval"`

	// Seed forces a fixed RNG seed on every session. Zero (the default)
	// draws a fresh seed per session; set it only for reproducible tests.
	Seed int64 `yaml:"seed"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			TurnTimeout: Duration(60 * time.Second),
		},
		Game: GameConfig{
			SaveDir:        "saves",
			SessionTimeout: Duration(60 * time.Minute),
			ReaperInterval: Duration(5 * time.Minute),
		},
	}
}
