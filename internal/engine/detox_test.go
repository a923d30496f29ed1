package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lazypower/thoughtloop/internal/config"
	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/detox"
	"github.com/lazypower/thoughtloop/internal/eventlog"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetoxifyRotatesLogAndSwapsStore(t *testing.T) {
	h := newHarness(t, &llm.MockClient{Handler: counter()}, nil)
	dirty := strings.Repeat("## heading\n**bold** words here\n---\n", 4)
	h.eng.store = memory.NewStore([]memory.Segment{
		{Text: dirty, Origin: memory.Autonomous},
		{Text: "[researcher] short", Origin: memory.Human},
		{Text: dirty + "tail", Origin: memory.Autonomous},
	})

	oldLog := h.log.Path()
	oldEntries, err := eventlog.ReadFile(oldLog)
	require.NoError(t, err)

	res, err := h.eng.Detoxify(context.Background(), detox.StripStructure, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Changed)
	assert.Less(t, res.AfterAvg, res.BeforeAvg)

	assert.NotEqual(t, oldLog, h.log.Path())
	assert.True(t, strings.HasSuffix(filepath.Base(h.log.Path()), "_detox_strip_structure.jsonl"))
	after, err := eventlog.ReadFile(oldLog)
	require.NoError(t, err)
	assert.Equal(t, oldEntries, after, "previous target must be left intact")

	assert.Len(t, h.entries(t, eventlog.KindDetoxStart), 1)
	assert.Len(t, h.entries(t, eventlog.KindDetoxLine), 2)
	summary := h.entries(t, eventlog.KindDetox)
	require.Len(t, summary, 1)
	assert.EqualValues(t, 2, summary[0].Meta["lines_changed"])

	segs := h.eng.Segments()
	require.Len(t, segs, 3)
	assert.Equal(t, detox.StripText(dirty), segs[0].Text)
	assert.Equal(t, "[researcher] short", segs[1].Text)
	assert.Equal(t, memory.Human, segs[1].Origin)
}

func TestDetoxifyEmptyStore(t *testing.T) {
	h := newHarness(t, &llm.MockClient{Handler: counter()}, nil)
	oldLog := h.log.Path()

	res, err := h.eng.Detoxify(context.Background(), detox.StripStructure, 20)
	require.NoError(t, err)
	assert.Zero(t, res.Changed)
	assert.Equal(t, oldLog, h.log.Path())
}

func TestDetoxifyDefaultsToDetoxThreshold(t *testing.T) {
	dirty := strings.Repeat("## heading\n**bold** words here\n---\n", 4)
	score := contam.Default().Score(dirty).Score

	h := newHarness(t, &llm.MockClient{Handler: counter()}, func(o *Options, _ *Deps) {
		o.Threshold = 20
		o.DetoxThreshold = score + 1
	})
	h.eng.store = memory.FromTexts([]string{dirty})

	res, err := h.eng.Detoxify(context.Background(), detox.StripStructure, 0)
	require.NoError(t, err)
	assert.Equal(t, score+1, res.Threshold)
	assert.Zero(t, res.Changed)

	res, err = h.eng.Detoxify(context.Background(), detox.StripStructure, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
}

func TestOptionsFromConfigThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.Scorer.Threshold = 15
	cfg.Detox.Threshold = 35
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 15.0, opts.Threshold)
	assert.Equal(t, 35.0, opts.DetoxThreshold)
}

func TestDetoxifyModelStrategyNeedsBackend(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.eng.store = memory.FromTexts([]string{strings.Repeat("**x** ", 20)})

	_, err := h.eng.Detoxify(context.Background(), detox.RewriteOpus, 20)
	assert.ErrorIs(t, err, llm.ErrUnavailable)

	res, err := h.eng.Detoxify(context.Background(), detox.StripStructure, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
}

func TestDetoxifyUsesStrategyModel(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "a quiet restatement"}}
	h := newHarness(t, mock, func(o *Options, _ *Deps) {
		o.DetoxModel = func(k string) string { return "model-for-" + k }
	})
	h.eng.store = memory.FromTexts([]string{strings.Repeat("**x** ", 20)})

	_, err := h.eng.Detoxify(context.Background(), detox.RewriteSonnet, 20)
	require.NoError(t, err)
	assert.Equal(t, "model-for-rewrite_sonnet", mock.LastCall().Model)
	assert.Equal(t, "a quiet restatement", h.eng.Segments()[0].Text)
}
