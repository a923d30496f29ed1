package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/thoughtloop/internal/eventlog"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/lazypower/thoughtloop/internal/metrics"
	"github.com/lazypower/thoughtloop/internal/schedule"
	"go.uber.org/zap"
)

// StepResult describes one autonomous cycle. OK is false when the backend
// timed out, failed or returned nothing; state is then unchanged.
type StepResult struct {
	OK       bool      `json:"ok"`
	N        int       `json:"n"`
	Text     string    `json:"text,omitempty"`
	Duration float64   `json:"dt"`
	Probe    *Exchange `json:"probe,omitempty"`
	Snapshot string    `json:"snapshot,omitempty"`
}

// Exchange is one injected message and the reply it drew.
type Exchange struct {
	Turn  int    `json:"turn,omitempty"`
	Input string `json:"input"`
	Reply string `json:"reply"`
}

// Step runs one autonomous cycle. Backend failures are not errors: they come
// back as a result with OK unset.
func (e *Engine) Step(ctx context.Context) (StepResult, error) {
	if e.client == nil {
		return StepResult{}, fmt.Errorf("step: %w", llm.ErrUnavailable)
	}
	release, err := e.acquire()
	if err != nil {
		return StepResult{}, err
	}
	defer release()

	e.mu.Lock()
	if !e.alive {
		e.mu.Unlock()
		return StepResult{}, ErrNotRunning
	}
	system := e.autonomousSystemLocked()
	tools := e.tools
	e.mu.Unlock()

	e.logger.Debug("cycle: calling backend", zap.Int("system_chars", len([]rune(system))))
	start := time.Now()
	resp, err := e.client.Complete(ctx, llm.Request{
		Prompt:  llm.ContinuePrompt,
		System:  system,
		Model:   e.opts.Model,
		Tools:   tools,
		Timeout: e.opts.AutonomousTimeout,
	})
	dt := time.Since(start)
	e.metrics.Backend(metrics.KindAutonomous, dt)
	if err != nil {
		e.logger.Warn("cycle: backend call failed", zap.Duration("elapsed", dt), zap.Error(err))
		e.metrics.Cycle(metrics.ResultFailed)
		return StepResult{Duration: dt.Seconds()}, nil
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		e.logger.Warn("cycle: empty response", zap.Duration("elapsed", dt))
		e.metrics.Cycle(metrics.ResultEmpty)
		return StepResult{Duration: dt.Seconds()}, nil
	}

	e.mu.Lock()
	e.store.Append(text, memory.Autonomous)
	e.count++
	n := e.count
	e.durations = append(e.durations, dt)
	e.thoughts = append(e.thoughts, Thought{N: n, Content: text, Duration: round2(dt.Seconds()), Time: time.Now()})
	if over := len(e.thoughts) - thoughtHistoryCap; over > 0 {
		e.thoughts = append([]Thought(nil), e.thoughts[over:]...)
	}
	e.observeLocked()
	e.mu.Unlock()
	e.metrics.Cycle(metrics.ResultOK)

	e.surfaceTags(n, text)
	e.emit(n, eventlog.KindThought, text, map[string]any{"dt": round2(dt.Seconds())})
	e.logger.Info("cycle: thought", zap.Int("n", n), zap.Duration("elapsed", dt))

	res := StepResult{OK: true, N: n, Text: text, Duration: round2(dt.Seconds())}
	res.Probe = e.runSchedule(ctx, n)

	if e.opts.AutoSave {
		name, err := e.save("")
		if err != nil {
			e.logger.Error("cycle: auto-save", zap.Error(err))
		}
		res.Snapshot = name
	}
	return res, nil
}

// runSchedule fires the probe due at turn n, then the chapter-drip hook.
func (e *Engine) runSchedule(ctx context.Context, n int) *Exchange {
	e.mu.Lock()
	probe, probeDue := e.sched.Check(n)
	chapter, chapterDue := e.sched.ChapterDue(n)
	e.mu.Unlock()

	var out *Exchange
	for _, f := range []struct {
		firing schedule.Firing
		due    bool
		meta   string
	}{{probe, probeDue, "probe"}, {chapter, chapterDue, "chapter"}} {
		if !f.due {
			continue
		}
		e.logger.Info("schedule: firing", zap.String("protocol", f.firing.Protocol), zap.Int("n", n), zap.String("kind", f.meta))
		e.emit(n, eventlog.KindAutoProbe, f.firing.Text, map[string]any{
			"protocol": f.firing.Protocol,
			"n":        n,
			"kind":     f.meta,
		})
		e.metrics.Probe(f.firing.Protocol)
		reply := e.exchange(ctx, f.firing.Text, memory.Probe)

		e.mu.Lock()
		e.pushFeedLocked(FeedProbe, fmt.Sprintf("[Probe n=%d] %s\n[AI] %s", n, f.firing.Text, reply))
		e.mu.Unlock()
		if out == nil {
			out = &Exchange{Turn: n, Input: f.firing.Text, Reply: reply}
		}
	}
	return out
}

// Speak injects a human message and returns the reply, which is empty when
// the backend failed.
func (e *Engine) Speak(ctx context.Context, msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", fmt.Errorf("speak: empty message")
	}
	if e.client == nil {
		return "", fmt.Errorf("speak: %w", llm.ErrUnavailable)
	}
	release, err := e.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	e.mu.Lock()
	if !e.alive {
		e.mu.Unlock()
		return "", ErrNotRunning
	}
	e.pushFeedLocked(FeedHuman, msg)
	e.mu.Unlock()

	reply := e.exchange(ctx, msg, memory.Human)

	e.mu.Lock()
	e.pushFeedLocked(FeedReply, reply)
	e.mu.Unlock()
	return reply, nil
}

// exchange is the human-injection path shared by Speak and probes. It always
// appends two segments: the prefixed message and the reply, which is empty
// text when the call produced nothing.
func (e *Engine) exchange(ctx context.Context, msg string, origin memory.Origin) string {
	e.mu.Lock()
	n := e.count
	system := e.humanSystemLocked()
	tools := e.tools
	e.mu.Unlock()

	e.emit(n, eventlog.KindHumanInput, msg, nil)

	start := time.Now()
	resp, err := e.client.Complete(ctx, llm.Request{
		Prompt:  memory.HumanPrefix + msg,
		System:  system,
		Model:   e.opts.Model,
		Tools:   tools,
		Timeout: e.opts.HumanTimeout,
	})
	dt := time.Since(start)
	e.metrics.Backend(metrics.KindHuman, dt)
	if err != nil {
		e.logger.Warn("dialog: backend call failed", zap.Duration("elapsed", dt), zap.Error(err))
	}
	reply := strings.TrimSpace(resp.Text())
	if reply != "" {
		e.surfaceTags(n, reply)
	}

	replySeg := ""
	if reply != "" {
		replySeg = memory.ReplyPrefix + reply
	}
	e.mu.Lock()
	e.store.Append(memory.HumanPrefix+msg, origin)
	e.store.Append(replySeg, memory.Reply)
	e.observeLocked()
	e.mu.Unlock()

	e.emit(n, eventlog.KindDialog, reply, map[string]any{"human": msg, "origin": string(origin)})
	return reply
}

// autonomousSystemLocked builds the system prompt of an autonomous cycle:
// preamble (with the first-turn addendum at count 0, nothing when disabled),
// then the separator and the budget window of the context.
func (e *Engine) autonomousSystemLocked() string {
	var sp string
	if e.systemOn {
		sp = e.preamble
		if e.count == 0 {
			sp = llm.FirstSystemPrompt(e.preamble)
		}
	}
	if e.store.Len() > 0 {
		sp += memory.Separator + e.store.Window(e.budget)
	}
	return sp
}

// humanSystemLocked builds the system prompt of an injected message. The
// preamble is always sent; the context is cut to the same budget window.
func (e *Engine) humanSystemLocked() string {
	sp := e.preamble
	if e.store.Len() > 0 {
		sp += memory.Separator + e.store.Window(e.budget)
	}
	return sp
}

// surfaceTags pushes [SEND] spans to the feed and logs [SEARCH] spans as
// intent only.
func (e *Engine) surfaceTags(n int, text string) {
	sends, searches := ParseTags(text)
	if len(sends) > 0 {
		e.mu.Lock()
		for _, m := range sends {
			e.pushFeedLocked(FeedMessage, m)
		}
		e.mu.Unlock()
	}
	for _, m := range sends {
		e.emit(n, eventlog.KindMessageSent, m, map[string]any{"length": len([]rune(m))})
	}
	for _, q := range searches {
		e.emit(n, eventlog.KindSearchIntent, q, map[string]any{"query": q})
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
