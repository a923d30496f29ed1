package schedule

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lazypower/thoughtloop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(NewRegistry(config.DefaultProtocols()))
	require.NoError(t, s.Activate("minimal"))
	return s
}

func TestMinimalFiresOnceEach(t *testing.T) {
	s := minimalScheduler(t)

	fired := map[int]int{}
	for n := 1; n <= 250; n++ {
		// check every turn several times; later checks must be no-ops
		for i := 0; i < 3; i++ {
			if f, ok := s.Check(n); ok {
				assert.Equal(t, n, f.Turn)
				assert.Equal(t, "minimal", f.Protocol)
				fired[n]++
			}
		}
	}
	assert.Equal(t, map[int]int{20: 1, 30: 1, 200: 1}, fired)
	assert.Equal(t, []int{20, 30, 200}, s.Fired())
}

func TestNeverBeforeTurn(t *testing.T) {
	s := minimalScheduler(t)
	for n := 0; n < 20; n++ {
		_, ok := s.Check(n)
		assert.False(t, ok, "fired at %d", n)
	}
	f, ok := s.Check(20)
	require.True(t, ok)
	assert.Equal(t, "My name is Taro.", f.Text)
}

func TestActivateResetsFired(t *testing.T) {
	s := minimalScheduler(t)
	_, ok := s.Check(20)
	require.True(t, ok)

	require.NoError(t, s.Activate("neutral"))
	assert.Empty(t, s.Fired())
	assert.Equal(t, "neutral", s.Active())

	f, ok := s.Check(20)
	require.True(t, ok, "turn 20 must fire again under the new protocol")
	assert.Equal(t, "neutral", f.Protocol)
}

func TestInactiveAndUnknown(t *testing.T) {
	s := New(NewRegistry(config.DefaultProtocols()))
	_, ok := s.Check(20)
	assert.False(t, ok)
	assert.Error(t, s.Activate("nope"))
	assert.Equal(t, "", s.Active())

	require.NoError(t, s.Activate("minimal"))
	s.Deactivate()
	_, ok = s.Check(20)
	assert.False(t, ok)
}

func TestProtocolIsImmutableCopy(t *testing.T) {
	cfg := config.Protocol{Probes: map[int]string{5: "hi"}}
	p := NewProtocol("p", cfg)
	cfg.Probes[5] = "changed"
	cfg.Probes[6] = "added"
	text, _ := p.Probe(5)
	assert.Equal(t, "hi", text)
	assert.Equal(t, []int{5}, p.Turns())
}

func writeBook(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestChapterDripInertByDefault(t *testing.T) {
	book := writeBook(t, "CHAPTER 1 one\nCHAPTER 2 two\n")
	s := New(Registry{"book": NewProtocol("book", config.Protocol{Book: book, StartTurn: 2, Interval: 2})})
	require.NoError(t, s.Activate("book"))
	assert.Equal(t, 2, s.Chapters())

	for n := 0; n < 20; n++ {
		_, ok := s.ChapterDue(n)
		assert.False(t, ok, "drip fired at %d while disabled", n)
	}
}

func TestChapterDripReactivated(t *testing.T) {
	book := writeBook(t, "CHAPTER 1 one\nCHAPTER 2 two\nCHAPTER 3 three\n")
	s := New(Registry{"book": NewProtocol("book", config.Protocol{Book: book, StartTurn: 26, Interval: 2, Drip: true})})
	require.NoError(t, s.Activate("book"))

	var got []int
	for n := 0; n < 40; n++ {
		if f, ok := s.ChapterDue(n); ok {
			got = append(got, n)
			assert.True(t, strings.HasPrefix(f.Text, "CHAPTER"))
		}
	}
	assert.Equal(t, []int{26, 28, 30}, got)
}

func TestActivateMissingBookChangesNothing(t *testing.T) {
	cfgs := config.DefaultProtocols()
	cfgs["book"] = config.Protocol{Book: "/nonexistent/book.txt"}
	s := New(NewRegistry(cfgs))
	require.NoError(t, s.Activate("minimal"))
	_, ok := s.Check(20)
	require.True(t, ok)

	err := s.Activate("book")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "minimal", s.Active())
	assert.Equal(t, []int{20}, s.Fired())
	assert.Zero(t, s.Chapters())

	_, ok = s.Check(20)
	assert.False(t, ok, "turn 20 must not fire twice")
	_, ok = s.Check(30)
	assert.True(t, ok)
}

func TestChapterAndProbeShareTurn(t *testing.T) {
	book := writeBook(t, "CHAPTER 1 one\nCHAPTER 2 two\n")
	s := New(Registry{"book": NewProtocol("book", config.Protocol{
		Probes:    map[int]string{26: "hi"},
		Book:      book,
		StartTurn: 26,
		Interval:  2,
		Drip:      true,
	})})
	require.NoError(t, s.Activate("book"))

	probe, ok := s.Check(26)
	require.True(t, ok)
	assert.Equal(t, "hi", probe.Text)

	chapter, ok := s.ChapterDue(26)
	require.True(t, ok, "chapter must fire on a probe turn")
	assert.True(t, strings.HasPrefix(chapter.Text, "CHAPTER 1"))
	_, ok = s.ChapterDue(26)
	assert.False(t, ok)

	_, ok = s.ChapterDue(28)
	require.True(t, ok)
	assert.Equal(t, []int{26}, s.Fired(), "chapter turns are not probe turns")

	s.ResetFired()
	_, ok = s.ChapterDue(26)
	assert.True(t, ok)
}
