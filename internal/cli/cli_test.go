package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lazypower/thoughtloop/internal/config"
	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/eventlog"
	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/lazypower/thoughtloop/internal/session"
	"github.com/lazypower/thoughtloop/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteScore(t *testing.T) {
	text := "## Heading\n**bold** text" + memory.Separator + "plain words without markers at all"
	var buf bytes.Buffer
	writeScore(&buf, contam.Default(), text, 20, true)

	out := buf.String()
	assert.Contains(t, out, "score: ")
	assert.Contains(t, out, `"**"`)
	assert.Contains(t, out, "[0]")
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "contaminated 1/2")
}

func TestWriteProtocols(t *testing.T) {
	var buf bytes.Buffer
	writeProtocols(&buf, config.DefaultProtocols())

	out := buf.String()
	for name := range config.DefaultProtocols() {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "probes at [20 30 200]")
	assert.Contains(t, out, "book ./library/books/truth_and_subjectivity.txt from turn 26 every 2")
	assert.Less(t, strings.Index(out, "book_therapy"), strings.Index(out, "silent"))
}

func TestLogSummary(t *testing.T) {
	dir := t.TempDir()
	log, err := eventlog.Open(dir, "")
	require.NoError(t, err)
	require.NoError(t, log.Append(eventlog.Entry{N: 0, Kind: eventlog.KindStart, Content: "preamble"}))
	require.NoError(t, log.Append(eventlog.Entry{N: 1, Kind: eventlog.KindThought, Content: "one"}))
	require.NoError(t, log.Append(eventlog.Entry{N: 2, Kind: eventlog.KindThought, Content: "two"}))
	first := log.Path()
	_, err = log.Rotate("detox_strip_structure")
	require.NoError(t, err)
	require.NoError(t, log.Close())

	newest, err := newestLog(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, newest)
	assert.True(t, strings.HasSuffix(newest, "_detox_strip_structure.jsonl"))

	entries, err := eventlog.ReadFile(first)
	require.NoError(t, err)
	var buf bytes.Buffer
	writeLogSummary(&buf, first, eventlog.Summarize(entries))
	out := buf.String()
	assert.Contains(t, out, "entries:      3")
	assert.Contains(t, out, "last thought: 2")
	assert.Contains(t, out, "thought        2")

	_, err = newestLog(t.TempDir())
	assert.Error(t, err)
}

func TestOpenSnapshotsBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.SessionsDir = filepath.Join(t.TempDir(), "sessions")

	st, err := openSnapshots(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &session.FileStore{}, st)

	cfg.Session.Backend = "sqlite"
	_, err = openSnapshots(cfg, nil)
	assert.Error(t, err)

	db, err := store.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	st, err = openSnapshots(cfg, db)
	require.NoError(t, err)
	assert.IsType(t, &store.SnapshotStore{}, st)
}

func TestDetoxCommandSavesResult(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "thoughtloop.yaml")
	sessions := filepath.Join(dir, "sessions")
	require.NoError(t, os.WriteFile(cfgPath, []byte("paths:\n  sessions_dir: "+sessions+"\n  database: "+filepath.Join(dir, "t.db")+"\n"), 0644))

	fs, err := session.NewFileStore(sessions)
	require.NoError(t, err)
	dirty := strings.Repeat("## heading\n**bold** words here\n---\n", 4)
	src := session.Capture(memory.FromTexts([]string{dirty, "short"}), 2, "claude-haiku-4-5-20251001", "", contam.Default(), 20)
	name, err := fs.Save(src)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{"--config", cfgPath, "detox", name, "--method", "strip_structure"})
	require.NoError(t, rootCmd.Execute())

	infos, err := fs.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, strings.HasSuffix(infos[0].Name, "_after_detox_strip_structure"), infos[0].Name)

	out, err := fs.Load(infos[0].Name)
	require.NoError(t, err)
	require.Len(t, out.Segments, 2)
	assert.NotContains(t, out.Segments[0].Text, "**")
	assert.Equal(t, "short", out.Segments[1].Text)
	assert.Equal(t, 2, out.ThoughtCount)
	assert.Less(t, out.Contamination.AvgScore, src.Contamination.AvgScore)

	again, err := fs.Load(name)
	require.NoError(t, err)
	assert.Equal(t, src.Segments, again.Segments)
}
