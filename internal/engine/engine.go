// Package engine drives the thought loop: stateless backend calls whose
// continuity is rebuilt every cycle from the accumulated context.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lazypower/thoughtloop/internal/config"
	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/eventlog"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/lazypower/thoughtloop/internal/metrics"
	"github.com/lazypower/thoughtloop/internal/schedule"
	"github.com/lazypower/thoughtloop/internal/session"
	"github.com/lazypower/thoughtloop/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrBusy means another cycle is in flight.
	ErrBusy = errors.New("a cycle is already in flight")
	// ErrNotRunning means the operation needs a started engine.
	ErrNotRunning = errors.New("engine is not running")
	// ErrRunning means the operation needs a stopped engine.
	ErrRunning = errors.New("engine is running; stop it first")
	// ErrUnknownProtocol means no protocol is registered under that name.
	ErrUnknownProtocol = errors.New("unknown protocol")
)

const thoughtHistoryCap = 100

// Options are the tunable settings of an engine.
type Options struct {
	Model               string
	Preamble            string
	ContextBudget       int
	AutonomousTimeout   time.Duration
	HumanTimeout        time.Duration
	DetoxTimeout        time.Duration
	ToolsEnabled        bool
	SystemPromptEnabled bool
	FeedLimit           int
	Threshold           float64 // contamination threshold for reports and snapshots
	DetoxThreshold      float64 // default threshold of a detox pass
	DetoxModel          func(strategy string) string
	SourceLanguage      string
	PivotLanguage       string
	AutoSave            bool
}

// OptionsFromConfig maps a loaded config onto engine options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Model:               cfg.LLM.Model,
		Preamble:            llm.Preamble,
		ContextBudget:       cfg.Loop.ContextBudget,
		AutonomousTimeout:   cfg.Loop.AutonomousTimeout,
		HumanTimeout:        cfg.Loop.HumanTimeout,
		DetoxTimeout:        cfg.Detox.Timeout,
		ToolsEnabled:        cfg.Loop.ToolsEnabled,
		SystemPromptEnabled: cfg.Loop.SystemPromptEnable,
		FeedLimit:           cfg.Loop.FeedLimit,
		Threshold:           cfg.Scorer.Threshold,
		DetoxThreshold:      cfg.Detox.Threshold,
		DetoxModel:          cfg.DetoxModel,
		SourceLanguage:      cfg.Detox.SourceLanguage,
		PivotLanguage:       cfg.Detox.PivotLanguage,
		AutoSave:            true,
	}
}

// RunRecorder tracks start..stop spans. *store.DB satisfies it.
type RunRecorder interface {
	StartRun(runID, model, protocol string) (*store.Run, error)
	EndRun(runID string, thoughtCount int) error
}

// Deps are the collaborators of an engine. Client may be nil, in which case
// cycles fail with llm.ErrUnavailable.
type Deps struct {
	Client    llm.Client
	Scorer    *contam.Scorer
	Scheduler *schedule.Scheduler
	Snapshots session.Store
	Log       *eventlog.Log
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Runs      RunRecorder
}

// Thought is one entry of the thought history.
type Thought struct {
	N        int       `json:"n"`
	Content  string    `json:"content"`
	Duration float64   `json:"dt"`
	Time     time.Time `json:"time"`
}

// Feed item kinds.
const (
	FeedMessage = "message"
	FeedProbe   = "probe"
	FeedHuman   = "human"
	FeedReply   = "reply"
)

// FeedItem is one entry of the outward feed.
type FeedItem struct {
	Seq     int       `json:"seq"`
	Kind    string    `json:"kind"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Engine owns all mutable loop state. Every mutating operation takes the
// single-cycle gate; mu guards state and is never held across backend calls.
type Engine struct {
	opts    Options
	client  llm.Client
	scorer  *contam.Scorer
	sched   *schedule.Scheduler
	snaps   session.Store
	log     *eventlog.Log
	logger  *zap.Logger
	metrics *metrics.Metrics
	runs    RunRecorder

	gate     *semaphore.Weighted
	inFlight atomic.Bool
	saveMu   sync.Mutex

	mu        sync.Mutex
	alive     bool
	birth     time.Time
	runID     string
	preamble  string
	store     *memory.Store
	count     int
	durations []time.Duration
	feed      []FeedItem
	feedSeq   int
	thoughts  []Thought
	budget    int
	tools     bool
	systemOn  bool
	lastSave  string
}

// New creates an engine with an empty context store.
func New(opts Options, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Scorer == nil {
		deps.Scorer = contam.Default()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = schedule.New(schedule.Registry{})
	}
	if opts.Preamble == "" {
		opts.Preamble = llm.Preamble
	}
	if opts.Threshold <= 0 {
		opts.Threshold = contam.DefaultThreshold
	}
	if opts.DetoxThreshold <= 0 {
		opts.DetoxThreshold = opts.Threshold
	}
	if opts.FeedLimit <= 0 {
		opts.FeedLimit = 500
	}
	return &Engine{
		opts:     opts,
		client:   deps.Client,
		scorer:   deps.Scorer,
		sched:    deps.Scheduler,
		snaps:    deps.Snapshots,
		log:      deps.Log,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		runs:     deps.Runs,
		gate:     semaphore.NewWeighted(1),
		birth:    time.Now(),
		preamble: opts.Preamble,
		store:    memory.NewStore(nil),
		budget:   opts.ContextBudget,
		tools:    opts.ToolsEnabled,
		systemOn: opts.SystemPromptEnabled,
	}
}

// acquire takes the single-cycle gate without waiting.
func (e *Engine) acquire() (func(), error) {
	if !e.gate.TryAcquire(1) {
		return nil, ErrBusy
	}
	e.inFlight.Store(true)
	return func() {
		e.inFlight.Store(false)
		e.gate.Release(1)
	}, nil
}

// Start marks the engine alive and logs the start entry.
func (e *Engine) Start() error {
	if e.client == nil {
		return fmt.Errorf("start: %w", llm.ErrUnavailable)
	}

	e.mu.Lock()
	if e.alive {
		e.mu.Unlock()
		return ErrRunning
	}
	e.alive = true
	e.birth = time.Now()
	e.runID = uuid.NewString()
	runID, n, preamble := e.runID, e.count, e.preamble
	protocol := e.sched.Active()
	e.mu.Unlock()

	meta := map[string]any{"model": e.opts.Model, "mode": "manual", "run_id": runID}
	if protocol != "" {
		meta["experiment"] = protocol
	}
	e.emit(n, eventlog.KindStart, llm.FirstSystemPrompt(preamble), meta)

	if e.runs != nil {
		if _, err := e.runs.StartRun(runID, e.opts.Model, protocol); err != nil {
			e.logger.Warn("start: record run", zap.Error(err))
		}
	}
	e.logger.Info("start: ready", zap.String("run_id", runID), zap.String("model", e.opts.Model))
	return nil
}

// Stop marks the engine stopped and saves a snapshot when any thought exists.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.alive {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.alive = false
	n, runID, uptime := e.count, e.runID, time.Since(e.birth)
	e.mu.Unlock()

	if n > 0 {
		if _, err := e.save(""); err != nil {
			e.logger.Error("stop: save snapshot", zap.Error(err))
		}
	}
	if e.runs != nil {
		if err := e.runs.EndRun(runID, n); err != nil {
			e.logger.Warn("stop: record run", zap.Error(err))
		}
	}
	e.logger.Info("stop: stopped", zap.Duration("uptime", uptime.Truncate(time.Second)), zap.Int("thoughts", n))
	return nil
}

// Alive reports whether the engine is started.
func (e *Engine) Alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

// RunLoop steps the engine every pause while it is alive, until ctx is done.
func (e *Engine) RunLoop(ctx context.Context, pause time.Duration) error {
	ticker := time.NewTicker(pause)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !e.Alive() {
				continue
			}
			if _, err := e.Step(ctx); err != nil && !errors.Is(err, ErrBusy) && !errors.Is(err, ErrNotRunning) {
				e.logger.Warn("loop: step", zap.Error(err))
			}
		}
	}
}

// emit appends an event log entry. Failures are logged, never returned: the
// audit trail must not take the loop down.
func (e *Engine) emit(n int, kind eventlog.Kind, content string, meta map[string]any) {
	if e.log == nil {
		return
	}
	if err := e.log.Append(eventlog.Entry{N: n, Kind: kind, Content: content, Meta: meta}); err != nil {
		e.logger.Error("eventlog: append", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// rotate switches the event log to a new target.
func (e *Engine) rotate(suffix string) {
	if e.log == nil {
		return
	}
	path, err := e.log.Rotate(suffix)
	if err != nil {
		e.logger.Error("eventlog: rotate", zap.Error(err))
		return
	}
	e.logger.Info("eventlog: new target", zap.String("path", path))
}

// pushFeedLocked appends to the outward feed, dropping the oldest past the cap.
func (e *Engine) pushFeedLocked(kind, content string) {
	e.feedSeq++
	e.feed = append(e.feed, FeedItem{Seq: e.feedSeq, Kind: kind, Content: content, Time: time.Now()})
	if over := len(e.feed) - e.opts.FeedLimit; over > 0 {
		e.feed = append([]FeedItem(nil), e.feed[over:]...)
	}
}

// observeLocked refreshes the state gauges.
func (e *Engine) observeLocked() {
	if e.metrics == nil {
		return
	}
	r := e.scorer.Report(e.store.Texts(), e.opts.Threshold)
	e.metrics.State(e.count, e.store.Len(), r.Average)
}
