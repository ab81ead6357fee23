package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// apiKeyEnv overrides llm.api_key when set.
const apiKeyEnv = "DMFORGE_API_KEY"

// validProviders lists the known LLM backend names. Used by [Validate].
var validProviders = []string{"openai", "anthropic", "ollama"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Defaults fill any field the file leaves unset.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// API-key environment override, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment overrides onto cfg.
func applyEnv(cfg *Config) {
	if key := os.Getenv(apiKeyEnv); key != "" {
		cfg.LLM.APIKey = key
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !slices.Contains(validProviders, cfg.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider %q is invalid; valid values: %v", cfg.LLM.Provider, validProviders))
	}
	if cfg.LLM.Fallback != "" && !slices.Contains(validProviders, cfg.LLM.Fallback) {
		errs = append(errs, fmt.Errorf("llm.fallback %q is invalid; valid values: %v", cfg.LLM.Fallback, validProviders))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.LLM.TurnTimeout <= 0 {
		errs = append(errs, errors.New("llm.turn_timeout must be positive"))
	}

	if cfg.Game.SaveDir == "" {
		errs = append(errs, errors.New("game.save_dir is required"))
	}
	if cfg.Game.SessionTimeout <= 0 {
		errs = append(errs, errors.New("game.session_timeout must be positive"))
	}
	if cfg.Game.ReaperInterval <= 0 {
		errs = append(errs, errors.New("game.reaper_interval must be positive"))
	}

	return errors.Join(errs...)
}
