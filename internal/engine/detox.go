package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/thoughtloop/internal/detox"
	"github.com/lazypower/thoughtloop/internal/eventlog"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/lazypower/thoughtloop/internal/metrics"
	"go.uber.org/zap"
)

// Detoxify runs a detox pass over the whole context store and swaps in the
// result at once. The event log moves to a detox target first, so pass
// entries never share a file with cycle entries. A threshold <= 0 uses the
// configured detox threshold.
func (e *Engine) Detoxify(ctx context.Context, kind detox.Kind, threshold float64) (detox.Result, error) {
	if threshold <= 0 {
		threshold = e.opts.DetoxThreshold
	}
	var client llm.Client
	if e.client != nil {
		client = timedClient{Client: e.client, kind: metrics.KindDetox, m: e.metrics}
	}
	strategy, err := detox.New(kind, detox.Deps{
		Client:  client,
		Model:   e.opts.DetoxModel,
		Timeout: e.opts.DetoxTimeout,
		Source:  e.opts.SourceLanguage,
		Pivot:   e.opts.PivotLanguage,
		Logger:  e.logger,
	})
	if err != nil {
		return detox.Result{}, err
	}

	release, err := e.acquire()
	if err != nil {
		return detox.Result{}, err
	}
	defer release()

	e.mu.Lock()
	segs := e.store.Segments()
	n := e.count
	e.mu.Unlock()
	if len(segs) == 0 {
		return detox.Result{Strategy: kind, Threshold: threshold}, nil
	}

	e.rotate("detox_" + string(kind))
	e.emit(n, eventlog.KindDetoxStart, "detoxification of the current context", map[string]any{
		"method":       string(kind),
		"threshold":    threshold,
		"source_lines": len(segs),
	})

	p := detox.NewPipeline(e.scorer, e.logger)
	p.OnLine = func(l detox.Line) {
		e.emit(n, eventlog.KindDetoxLine, l.AfterText, map[string]any{
			"line_index":   l.Index,
			"method":       string(l.Strategy),
			"before_score": l.BeforeScore,
			"after_score":  l.AfterScore,
			"before_chars": l.BeforeChars,
			"after_chars":  l.AfterChars,
			"before_text":  l.BeforeText,
			"after_text":   l.AfterText,
		})
	}
	res, err := p.Run(ctx, segs, strategy, threshold)
	if err != nil {
		return detox.Result{}, err
	}

	e.mu.Lock()
	e.store = memory.NewStore(res.Segments)
	e.observeLocked()
	e.mu.Unlock()

	e.metrics.DetoxChanged(string(kind), res.Changed)
	e.emit(n, eventlog.KindDetox, fmt.Sprintf("%s: %.1f → %.1f", kind, res.BeforeAvg, res.AfterAvg), map[string]any{
		"method":        string(kind),
		"threshold":     threshold,
		"before_avg":    res.BeforeAvg,
		"after_avg":     res.AfterAvg,
		"lines_changed": res.Changed,
		"total_lines":   res.Total,
	})
	e.logger.Info("detox: complete",
		zap.String("method", string(kind)),
		zap.Float64("before", res.BeforeAvg),
		zap.Float64("after", res.AfterAvg),
		zap.Int("changed", res.Changed))
	return res, nil
}

// timedClient records the latency of every call it forwards.
type timedClient struct {
	llm.Client
	kind string
	m    *metrics.Metrics
}

func (c timedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := c.Client.Complete(ctx, req)
	c.m.Backend(c.kind, time.Since(start))
	return resp, err
}
