package engine

import (
	"fmt"
	"time"

	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/memory"
	"go.uber.org/zap"
)

// Status is a point-in-time view of the engine.
type Status struct {
	Alive        bool    `json:"alive"`
	Busy         bool    `json:"busy"`
	RunID        string  `json:"run_id,omitempty"`
	Uptime       string  `json:"uptime"`
	Thoughts     int     `json:"thoughts"`
	Context      int     `json:"context"`
	AvgSec       float64 `json:"avg_sec"`
	Model        string  `json:"model"`
	Protocol     string  `json:"protocol,omitempty"`
	FiredProbes  []int   `json:"fired_probes"`
	Chapters     int     `json:"chapters"`
	Tools        bool    `json:"tools"`
	SystemPrompt bool    `json:"system_prompt"`
	Budget       int     `json:"context_budget"`
	LogPath      string  `json:"log_path,omitempty"`
	LastSnapshot string  `json:"last_snapshot,omitempty"`
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	avg := 0.0
	if len(e.durations) > 0 {
		var total time.Duration
		for _, d := range e.durations {
			total += d
		}
		avg = float64(int64(total.Seconds()/float64(len(e.durations))*10+0.5)) / 10
	}
	st := Status{
		Alive:        e.alive,
		Busy:         e.inFlight.Load(),
		RunID:        e.runID,
		Uptime:       time.Since(e.birth).Truncate(time.Second).String(),
		Thoughts:     e.count,
		Context:      e.store.Len(),
		AvgSec:       avg,
		Model:        e.opts.Model,
		Protocol:     e.sched.Active(),
		FiredProbes:  e.sched.Fired(),
		Chapters:     e.sched.Chapters(),
		Tools:        e.tools,
		SystemPrompt: e.systemOn,
		Budget:       e.budget,
		LastSnapshot: e.lastSave,
	}
	if e.log != nil {
		st.LogPath = e.log.Path()
	}
	return st
}

// Thoughts returns the thought history, newest last.
func (e *Engine) Thoughts() []Thought {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Thought(nil), e.thoughts...)
}

// Feed returns feed items with a sequence number greater than after.
func (e *Engine) Feed(after int) []FeedItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []FeedItem{}
	for _, it := range e.feed {
		if it.Seq > after {
			out = append(out, it)
		}
	}
	return out
}

// Segments returns a copy of the context store.
func (e *Engine) Segments() []memory.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Segments()
}

// Report scores the whole context store.
func (e *Engine) Report() contam.Report {
	e.mu.Lock()
	texts := e.store.Texts()
	e.mu.Unlock()
	return e.scorer.Report(texts, e.opts.Threshold)
}

// ContaminationStatus renders the report as one status line.
func (e *Engine) ContaminationStatus() string {
	return StatusLine(e.Report())
}

// StatusLine renders a contamination report as one line.
func StatusLine(r contam.Report) string {
	switch {
	case r.Total == 0:
		return "no context loaded"
	case r.Contaminated == 0:
		return fmt.Sprintf("clean (avg %.1f)", r.Average)
	default:
		return fmt.Sprintf("contaminated %d/%d (avg %.1f, max %.1f)", r.Contaminated, r.Total, r.Average, r.Maximum)
	}
}

// Settings changes runtime toggles. Nil fields are left alone.
type Settings struct {
	Tools         *bool `json:"tools,omitempty"`
	SystemPrompt  *bool `json:"system_prompt,omitempty"`
	ContextBudget *int  `json:"context_budget,omitempty"`
}

// Apply changes the runtime toggles. They take effect on the next cycle.
func (e *Engine) Apply(s Settings) error {
	if s.ContextBudget != nil && *s.ContextBudget <= 0 {
		return fmt.Errorf("context budget must be positive, got %d", *s.ContextBudget)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.Tools != nil {
		e.tools = *s.Tools
	}
	if s.SystemPrompt != nil {
		e.systemOn = *s.SystemPrompt
	}
	if s.ContextBudget != nil {
		e.budget = *s.ContextBudget
	}
	return nil
}

// Protocols returns the known protocol names.
func (e *Engine) Protocols() []string {
	return e.sched.Registry().Names()
}

// SetProtocol activates a protocol, or turns experiment mode off for "".
// The fired set starts empty. A chapter resource that fails to load is
// returned and the previous protocol stays active.
func (e *Engine) SetProtocol(name string) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	e.mu.Lock()
	defer e.mu.Unlock()
	if name == "" {
		e.sched.Deactivate()
		e.logger.Info("schedule: experiment off")
		return nil
	}
	if _, ok := e.sched.Registry()[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	if err := e.sched.Activate(name); err != nil {
		e.logger.Warn("schedule: protocol not switched", zap.String("protocol", name), zap.Error(err))
		return err
	}
	e.logger.Info("schedule: experiment on", zap.String("protocol", name))
	return nil
}

// Reset clears all loop state and, when preamble is non-empty, replaces the
// instructional preamble. Logging continues in a new target.
func (e *Engine) Reset(preamble string) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	e.mu.Lock()
	if e.alive {
		e.mu.Unlock()
		return ErrRunning
	}
	if preamble != "" {
		e.preamble = preamble
	}
	e.clearLocked(memory.NewStore(nil), 0)
	e.mu.Unlock()

	e.rotate("")
	return nil
}

// clearLocked hard-resets the store, count and every derived counter.
func (e *Engine) clearLocked(st *memory.Store, count int) {
	e.store = st
	e.count = count
	e.durations = nil
	e.feed = nil
	e.thoughts = nil
	e.sched.ResetFired()
	e.observeLocked()
}
