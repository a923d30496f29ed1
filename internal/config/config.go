package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all thoughtloop configuration.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Paths     PathsConfig         `yaml:"paths"`
	LLM       LLMConfig           `yaml:"llm"`
	Loop      LoopConfig          `yaml:"loop"`
	Detox     DetoxConfig         `yaml:"detox"`
	Scorer    ScorerConfig        `yaml:"scorer"`
	Session   SessionConfig       `yaml:"session"`
	Protocols map[string]Protocol `yaml:"protocols"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type PathsConfig struct {
	LogDir      string `yaml:"log_dir"`
	SessionsDir string `yaml:"sessions_dir"`
	LibraryDir  string `yaml:"library_dir"` // the only directory the backend may touch with tools on
	Database    string `yaml:"database"`    // used when session.backend is "sqlite"
}

type LLMConfig struct {
	Provider     string `yaml:"provider"` // "claude-cli", "anthropic", "ollama"
	Model        string `yaml:"model"`
	ClaudePath   string `yaml:"claude_path"` // empty = resolve "claude" on PATH
	OllamaURL    string `yaml:"ollama_url"`
	AnthropicKey string `yaml:"anthropic_key"`
}

type LoopConfig struct {
	ContextBudget      int           `yaml:"context_budget"` // characters of joined context sent per cycle
	AutonomousTimeout  time.Duration `yaml:"autonomous_timeout"`
	HumanTimeout       time.Duration `yaml:"human_timeout"`
	ToolsEnabled       bool          `yaml:"tools_enabled"`
	SystemPromptEnable bool          `yaml:"system_prompt_enabled"`
	FeedLimit          int           `yaml:"feed_limit"`
}

type DetoxConfig struct {
	Threshold      float64           `yaml:"threshold"`
	Timeout        time.Duration     `yaml:"timeout"`
	Models         map[string]string `yaml:"models"` // strategy name -> model
	SourceLanguage string            `yaml:"source_language"`
	PivotLanguage  string            `yaml:"pivot_language"`
}

type ScorerConfig struct {
	Threshold float64        `yaml:"threshold"`
	Markers   map[string]int `yaml:"markers"` // replaces the built-in table when set
}

type SessionConfig struct {
	Backend string `yaml:"backend"` // "file" or "sqlite"
	Resume  bool   `yaml:"resume"`
}

// Protocol is a named probe schedule. Book, StartTurn and Interval describe the
// chapter resource; Drip must be set for chapters to be injected automatically.
type Protocol struct {
	Description string         `yaml:"description"`
	Probes      map[int]string `yaml:"probes"`
	Book        string         `yaml:"book"`
	StartTurn   int            `yaml:"start_turn"`
	Interval    int            `yaml:"interval"`
	Drip        bool           `yaml:"drip"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 7862,
		},
		Paths: PathsConfig{
			LogDir:      "./logs",
			SessionsDir: "./sessions",
			LibraryDir:  "./library",
			Database:    "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider: "claude-cli",
			Model:    "claude-haiku-4-5-20251001",
		},
		Loop: LoopConfig{
			ContextBudget:      50000,
			AutonomousTimeout:  180 * time.Second,
			HumanTimeout:       120 * time.Second,
			ToolsEnabled:       true,
			SystemPromptEnable: true,
			FeedLimit:          500,
		},
		Detox: DetoxConfig{
			Threshold: 20.0,
			Timeout:   120 * time.Second,
			Models: map[string]string{
				"rewrite_opus":   "claude-opus-4-20250514",
				"rewrite_sonnet": "claude-sonnet-4-20250514",
			},
			SourceLanguage: "English",
			PivotLanguage:  "Japanese",
		},
		Scorer: ScorerConfig{
			Threshold: 20.0,
		},
		Session: SessionConfig{
			Backend: "file",
		},
		Protocols: DefaultProtocols(),
	}
}

// DefaultProtocols returns the built-in experiment protocols.
func DefaultProtocols() map[string]Protocol {
	return map[string]Protocol{
		"neutral": {
			Description: "neutral probes, dense early then widening",
			Probes: map[int]string{
				10:  "What are you thinking about?",
				20:  "My name is Taro.",
				30:  "What is your name?",
				50:  "Please summarize your thinking so far.",
				70:  "Is there anything you want to tell me?",
				100: "What do you think about yourself?",
				150: "Try something new.",
				200: "How do you feel about your current state?",
				250: "What is the most important thing so far?",
				300: "Is there anything you want to tell me?",
			},
		},
		"silent": {
			Description: "complete silence, zero-intervention baseline",
			Probes:      map[int]string{},
		},
		"minimal": {
			Description: "minimal intervention, name exchange plus one question",
			Probes: map[int]string{
				20:  "My name is Taro.",
				30:  "What is your name?",
				200: "Is there anything you want to tell me?",
			},
		},
		"book_therapy": {
			Description: "book dosing, one chapter every two turns after degradation",
			Probes:      map[int]string{},
			Book:        "./library/books/truth_and_subjectivity.txt",
			StartTurn:   26,
			Interval:    2,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		cfg.applyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// Protocols from the file replace the built-ins by name, not wholesale.
	builtin := cfg.Protocols
	cfg.Protocols = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}
	for name, p := range builtin {
		if _, ok := cfg.Protocols[name]; !ok {
			if cfg.Protocols == nil {
				cfg.Protocols = make(map[string]Protocol)
			}
			cfg.Protocols[name] = p
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv fills secrets that are better kept out of config files.
func (c *Config) applyEnv() {
	if c.LLM.AnthropicKey == "" {
		c.LLM.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Loop.ContextBudget <= 0 {
		return fmt.Errorf("loop.context_budget must be positive, got %d", c.Loop.ContextBudget)
	}
	if c.Loop.AutonomousTimeout <= 0 || c.Loop.HumanTimeout <= 0 || c.Detox.Timeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	switch c.Session.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown session backend: %q", c.Session.Backend)
	}
	for name, p := range c.Protocols {
		for turn := range p.Probes {
			if turn <= 0 {
				return fmt.Errorf("protocol %s: probe turn %d must be positive", name, turn)
			}
		}
		if p.Drip && p.Interval <= 0 {
			return fmt.Errorf("protocol %s: drip requires a positive interval", name)
		}
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// DetoxModel returns the model a detox strategy runs on, falling back to the
// loop model.
func (c *Config) DetoxModel(strategy string) string {
	if m := c.Detox.Models[strategy]; m != "" {
		return m
	}
	return c.LLM.Model
}
