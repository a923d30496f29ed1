package engine

import (
	"context"
	"testing"

	"github.com/lazypower/thoughtloop/internal/eventlog"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTags(t *testing.T) {
	sends, searches := ParseTags("a [SEND] hello\nthere [/SEND] b [SEARCH]why?[/SEARCH] [SEND]  [/SEND] [SEND]again[/SEND]")
	assert.Equal(t, []string{"hello\nthere", "again"}, sends)
	assert.Equal(t, []string{"why?"}, searches)

	sends, searches = ParseTags("no tags [SEND]unterminated")
	assert.Empty(t, sends)
	assert.Empty(t, searches)
}

func TestStepSurfacesTags(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "thinking [SEND]hello researcher[/SEND] and [SEARCH]what is memory[/SEARCH]"}}
	h := newHarness(t, mock, nil)
	require.NoError(t, h.eng.Start())

	_, err := h.eng.Step(context.Background())
	require.NoError(t, err)

	feed := h.eng.Feed(0)
	require.Len(t, feed, 1)
	assert.Equal(t, FeedMessage, feed[0].Kind)
	assert.Equal(t, "hello researcher", feed[0].Content)

	sent := h.entries(t, eventlog.KindMessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].N)
	intents := h.entries(t, eventlog.KindSearchIntent)
	require.Len(t, intents, 1)
	assert.Equal(t, "what is memory", intents[0].Meta["query"])
	assert.Equal(t, 1, mock.CallCount(), "search intents are never executed")
}

func TestStatusLine(t *testing.T) {
	h := newHarness(t, &llm.MockClient{Handler: counter()}, nil)
	assert.Equal(t, "no context loaded", h.eng.ContaminationStatus())

	require.NoError(t, h.eng.Start())
	_, err := h.eng.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "clean (avg 0.0)", h.eng.ContaminationStatus())
}
