package detox

import (
	"context"
	"strings"
	"testing"

	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dirtyLong  = strings.Repeat("**x** ", 20)              // high score, 120 chars
	dirtyShort = "**a** ##"                                // high score, under MinChars
	cleanLong  = strings.Repeat("plain words here ", 5)     // zero score
	humanLine  = memory.HumanPrefix + "how are you feeling today, honestly?"
)

func mixedSegments() []memory.Segment {
	return []memory.Segment{
		{Text: dirtyLong, Origin: memory.Autonomous},
		{Text: humanLine, Origin: memory.Human},
		{Text: dirtyShort, Origin: memory.Autonomous},
		{Text: cleanLong, Origin: memory.Autonomous},
		{Text: dirtyLong + "## tail", Origin: memory.Probe},
	}
}

func TestPipelineSkipRule(t *testing.T) {
	scorer := contam.Default()
	mock := &llm.MockClient{Response: &llm.Response{Content: "calm restatement without any markup"}}
	s, err := New(RewriteSelf, Deps{Client: mock})
	require.NoError(t, err)

	in := mixedSegments()
	res, err := NewPipeline(scorer, nil).Run(context.Background(), in, s, contam.DefaultThreshold)
	require.NoError(t, err)
	require.Len(t, res.Segments, len(in))

	changed := map[int]bool{}
	for _, l := range res.Lines {
		changed[l.Index] = true
	}
	for i, seg := range in {
		before := scorer.Score(seg.Text).Score
		if changed[i] {
			assert.GreaterOrEqual(t, before, contam.DefaultThreshold, "segment %d", i)
			assert.GreaterOrEqual(t, len([]rune(seg.Text)), MinChars, "segment %d", i)
		} else {
			assert.True(t, Skip(before, seg.Text, contam.DefaultThreshold), "segment %d", i)
			assert.Equal(t, seg, res.Segments[i], "unchanged segment %d", i)
		}
		assert.Equal(t, seg.Origin, res.Segments[i].Origin, "origin %d", i)
	}
	assert.Equal(t, 2, res.Changed)
	assert.Equal(t, []int{0, 4}, []int{res.Lines[0].Index, res.Lines[1].Index})
	assert.Equal(t, 2, mock.CallCount())
	assert.Less(t, res.AfterAvg, res.BeforeAvg)
}

func TestPipelineDoesNotMutateInput(t *testing.T) {
	in := mixedSegments()
	orig := append([]memory.Segment(nil), in...)

	_, err := NewPipeline(contam.Default(), nil).Run(context.Background(), in, Strip{}, contam.DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, orig, in)
}

func TestPipelineReportsLines(t *testing.T) {
	p := NewPipeline(contam.Default(), nil)
	var seen []Line
	p.OnLine = func(l Line) { seen = append(seen, l) }

	long := strings.Repeat("## 使命完了 ", 100)
	res, err := p.Run(context.Background(), []memory.Segment{{Text: long, Origin: memory.Autonomous}}, Strip{}, 20)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, res.Lines, seen)
	l := seen[0]
	assert.Equal(t, StripStructure, l.Strategy)
	assert.Equal(t, len([]rune(long)), l.BeforeChars)
	assert.Len(t, []rune(l.BeforeText), textCap)
	assert.LessOrEqual(t, len([]rune(l.AfterText)), textCap)
}

func TestPipelineEmpty(t *testing.T) {
	res, err := NewPipeline(contam.Default(), nil).Run(context.Background(), nil, Strip{}, 20)
	require.NoError(t, err)
	assert.Zero(t, res.Changed)
	assert.Zero(t, res.BeforeAvg)
	assert.Empty(t, res.Segments)
}

func TestPipelineCancelledDiscardsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(contam.Default(), nil).Run(ctx, mixedSegments(), Strip{}, 20)
	assert.ErrorIs(t, err, context.Canceled)
}
