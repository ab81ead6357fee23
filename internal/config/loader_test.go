package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config rejected: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Game.SessionTimeout.Std() != 60*time.Minute {
		t.Errorf("session_timeout = %v", cfg.Game.SessionTimeout)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
}

func TestLoadFromReaderOverrides(t *testing.T) {
	in := `
server:
  listen_addr: ":9000"
  log_level: debug
llm:
  provider: ollama
  model: llama3
  turn_timeout: 30s
game:
  save_dir: /tmp/saves
  session_timeout: 10m
`
	cfg, err := LoadFromReader(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "llama3" || cfg.LLM.TurnTimeout.Std() != 30*time.Second {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Game.SaveDir != "/tmp/saves" || cfg.Game.SessionTimeout.Std() != 10*time.Minute {
		t.Errorf("game = %+v", cfg.Game)
	}
	// Unset field keeps its default.
	if cfg.Game.ReaperInterval.Std() != 5*time.Minute {
		t.Errorf("reaper_interval = %v", cfg.Game.ReaperInterval)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("serve:\n  port: 1\n")); err == nil {
		t.Error("unknown top-level field accepted")
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := &Config{}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("zero config validated")
	}
	for _, want := range []string{"listen_addr", "llm.provider", "llm.model", "save_dir"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidateBadLevels(t *testing.T) {
	cfg := Default()
	cfg.Server.LogLevel = "loud"
	cfg.LLM.Fallback = "carrier-pigeon"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("invalid values validated")
	}
	if !strings.Contains(err.Error(), "log_level") || !strings.Contains(err.Error(), "fallback") {
		t.Errorf("error = %q", err)
	}
}

func TestAPIKeyEnvOverride(t *testing.T) {
	t.Setenv(apiKeyEnv, "from-env")
	cfg, err := LoadFromReader(strings.NewReader("llm:\n  api_key: from-file\n  provider: openai\n  model: gpt-4o-mini\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("api_key = %q, want env override", cfg.LLM.APIKey)
	}
}
