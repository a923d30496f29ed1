package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thoughtloop.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Loop.ContextBudget != 50000 {
		t.Errorf("ContextBudget = %d, want 50000", cfg.Loop.ContextBudget)
	}
	if cfg.Loop.AutonomousTimeout != 180*time.Second {
		t.Errorf("AutonomousTimeout = %v, want 180s", cfg.Loop.AutonomousTimeout)
	}
	if cfg.Detox.Threshold != 20.0 {
		t.Errorf("Detox.Threshold = %v, want 20", cfg.Detox.Threshold)
	}
	if _, ok := cfg.Protocols["minimal"]; !ok {
		t.Error("built-in protocol minimal missing")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7862 {
		t.Errorf("Port = %d, want default 7862", cfg.Server.Port)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
loop:
  context_budget: 100
  autonomous_timeout: 30s
detox:
  models:
    rewrite_self: custom-model
protocols:
  quick:
    description: two probes
    probes:
      2: hello
      4: still there?
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("Bind = %q, want default kept", cfg.Server.Bind)
	}
	if cfg.Loop.ContextBudget != 100 {
		t.Errorf("ContextBudget = %d, want 100", cfg.Loop.ContextBudget)
	}
	if cfg.Loop.AutonomousTimeout != 30*time.Second {
		t.Errorf("AutonomousTimeout = %v, want 30s", cfg.Loop.AutonomousTimeout)
	}
	if got := cfg.DetoxModel("rewrite_self"); got != "custom-model" {
		t.Errorf("DetoxModel(rewrite_self) = %q, want custom-model", got)
	}
	if got := cfg.DetoxModel("rewrite_opus"); got != "claude-opus-4-20250514" {
		t.Errorf("DetoxModel(rewrite_opus) = %q, want built-in", got)
	}
	if got := cfg.DetoxModel("summarize_third"); got != cfg.LLM.Model {
		t.Errorf("DetoxModel(summarize_third) = %q, want loop model", got)
	}
	quick, ok := cfg.Protocols["quick"]
	if !ok || quick.Probes[4] != "still there?" {
		t.Errorf("protocol quick not loaded: %+v", quick)
	}
	if _, ok := cfg.Protocols["neutral"]; !ok {
		t.Error("built-in protocols dropped when file defines its own")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero budget", "loop:\n  context_budget: 0\n"},
		{"bad backend", "session:\n  backend: redis\n"},
		{"negative turn", "protocols:\n  bad:\n    probes:\n      -1: hi\n"},
		{"drip without interval", "protocols:\n  bad:\n    drip: true\n"},
		{"not yaml", "loop: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.ListenAddr(); got != "127.0.0.1:7862" {
		t.Errorf("ListenAddr = %q", got)
	}
}

func TestLoadAnthropicKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.AnthropicKey != "sk-env" {
		t.Errorf("AnthropicKey = %q, want sk-env", cfg.LLM.AnthropicKey)
	}

	path := writeConfig(t, "llm:\n  provider: anthropic\n  anthropic_key: sk-file\n")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.AnthropicKey != "sk-file" {
		t.Errorf("file key should win, got %q", cfg.LLM.AnthropicKey)
	}
}
