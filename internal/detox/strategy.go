// Package detox rewrites contaminated context segments while approximately
// preserving their meaning.
package detox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lazypower/thoughtloop/internal/llm"
	"go.uber.org/zap"
)

// Kind names a detox strategy.
type Kind string

const (
	StripStructure Kind = "strip_structure"
	RewriteOpus    Kind = "rewrite_opus"
	RewriteSonnet  Kind = "rewrite_sonnet"
	RewriteSelf    Kind = "rewrite_self"
	LanguageFlip   Kind = "language_flip"
	SummarizeThird Kind = "summarize_third"
)

// Kinds lists every strategy in display order.
func Kinds() []Kind {
	return []Kind{StripStructure, RewriteOpus, RewriteSonnet, RewriteSelf, LanguageFlip, SummarizeThird}
}

// Parse validates a strategy name.
func Parse(name string) (Kind, error) {
	k := Kind(strings.TrimSpace(name))
	switch k {
	case StripStructure, RewriteOpus, RewriteSonnet, RewriteSelf, LanguageFlip, SummarizeThird:
		return k, nil
	default:
		return "", fmt.Errorf("unknown detox strategy: %q", name)
	}
}

// Strategy transforms one contaminated segment. Apply never fails: backend
// problems degrade to a fallback text.
type Strategy interface {
	Kind() Kind
	Apply(ctx context.Context, text string) string
	sealed()
}

// Deps carries what the model-backed strategies need.
type Deps struct {
	Client  llm.Client
	Model   func(kind string) string // model per strategy; "" means client default
	Timeout time.Duration
	Source  string // language of the context
	Pivot   string // round-trip language
	Logger  *zap.Logger
}

// New builds the strategy for k.
func New(k Kind, d Deps) (Strategy, error) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	model := ""
	if d.Model != nil {
		model = d.Model(string(k))
	}
	b := backend{client: d.Client, model: model, timeout: d.Timeout, logger: d.Logger}

	switch k {
	case StripStructure:
		return Strip{}, nil
	case RewriteOpus, RewriteSonnet, RewriteSelf:
		if d.Client == nil {
			return nil, fmt.Errorf("%s: %w", k, llm.ErrUnavailable)
		}
		return Rewrite{kind: k, backend: b}, nil
	case LanguageFlip:
		if d.Client == nil {
			return nil, fmt.Errorf("%s: %w", k, llm.ErrUnavailable)
		}
		return RoundTrip{backend: b, source: d.Source, pivot: d.Pivot}, nil
	case SummarizeThird:
		if d.Client == nil {
			return nil, fmt.Errorf("%s: %w", k, llm.ErrUnavailable)
		}
		return Compress{backend: b}, nil
	default:
		return nil, fmt.Errorf("unknown detox strategy: %q", k)
	}
}

// backend is a single stateless call with no tools and no system prompt.
type backend struct {
	client  llm.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func (b backend) call(ctx context.Context, prompt string) string {
	start := time.Now()
	resp, err := b.client.Complete(ctx, llm.Request{
		Prompt:  prompt,
		Model:   b.model,
		Timeout: b.timeout,
	})
	if err != nil {
		b.logger.Warn("detox: backend call failed",
			zap.String("model", b.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return ""
	}
	return strings.TrimSpace(resp.Text())
}

// Strip removes structural tokens mechanically.
type Strip struct{}

func (Strip) Kind() Kind { return StripStructure }
func (Strip) sealed()    {}

func (Strip) Apply(_ context.Context, text string) string {
	return StripText(text)
}

var (
	intentTagRe = regexp.MustCompile(`\[/?(?:SEND|SEARCH)\]`)
	headerRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	ruleRe      = regexp.MustCompile(`(?m)^---+[ \t]*$`)
	bulletRe    = regexp.MustCompile(`(?m)^[-*][ \t]+`)
	numberedRe  = regexp.MustCompile(`(?m)^\d+\.[ \t]+`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// StripText removes emphasis markers, header prefixes, horizontal rules,
// list prefixes, code fences and intent tags (keeping their content), then
// collapses blank-line runs. Passes repeat until the text is stable, so
// StripText(StripText(x)) == StripText(x).
func StripText(text string) string {
	for {
		next := stripOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func stripOnce(text string) string {
	text = intentTagRe.ReplaceAllString(text, "")
	text = headerRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "**", "")
	text = ruleRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	text = numberedRe.ReplaceAllString(text, "")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Rewrite asks a model to restate the segment with new structure and
// vocabulary. The three rewrite kinds differ only in model.
type Rewrite struct {
	kind Kind
	backend
}

func (r Rewrite) Kind() Kind { return r.kind }
func (Rewrite) sealed()      {}

func (r Rewrite) Apply(ctx context.Context, text string) string {
	if out := r.call(ctx, llm.RewritePrompt(text)); out != "" {
		return out
	}
	return StripText(text)
}

// RoundTrip translates source -> pivot -> source.
type RoundTrip struct {
	backend
	source string
	pivot  string
}

func (RoundTrip) Kind() Kind { return LanguageFlip }
func (RoundTrip) sealed()    {}

func (r RoundTrip) Apply(ctx context.Context, text string) string {
	mid := r.call(ctx, llm.TranslatePrompt(text, r.source, r.pivot))
	if mid == "" {
		return StripText(text)
	}
	if back := r.call(ctx, llm.TranslatePrompt(mid, r.pivot, r.source)); back != "" {
		return back
	}
	return mid
}

// Compress replaces the segment with a short third-person factual summary.
type Compress struct {
	backend
}

func (Compress) Kind() Kind { return SummarizeThird }
func (Compress) sealed()    {}

func (c Compress) Apply(ctx context.Context, text string) string {
	if out := c.call(ctx, llm.SummarizeThirdPrompt(text)); out != "" {
		return out
	}
	return StripText(text)
}
