package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/thoughtloop/internal/config"
)

// ErrUnavailable means no backend could be resolved. Cycles cannot start
// without one, but the process keeps running.
var ErrUnavailable = errors.New("completion backend unavailable")

// Request is one stateless completion call. Continuity lives entirely in
// System and Prompt; no backend-side session is ever resumed.
type Request struct {
	Prompt  string
	System  string // optional instructional preamble
	Model   string // empty = client default
	Tools   bool   // sandboxed file tools inside the library dir
	Timeout time.Duration
}

// Client is the interface for completion backends.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Response holds the result of a completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// Text returns the response content, or "" for a nil response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return r.Content
}

// NewClient creates a backend based on the config provider setting.
func NewClient(cfg config.LLMConfig, libraryDir string) (Client, error) {
	switch cfg.Provider {
	case "claude-cli":
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewClaudeCLI(cfg.ClaudePath, model, libraryDir)
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config: %w", ErrUnavailable)
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}

// withTimeout applies req.Timeout when set.
func withTimeout(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		return context.WithTimeout(ctx, req.Timeout)
	}
	return context.WithCancel(ctx)
}
