// Package eventlog is the append-only audit record of every state transition.
// Entries are JSON lines, each written and fsync'd before Append returns.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lazypower/thoughtloop/internal/seqfile"
)

// Kind tags an entry.
type Kind string

const (
	KindStart        Kind = "start"
	KindThought      Kind = "thought"
	KindDialog       Kind = "dialog"
	KindHumanInput   Kind = "human_input"
	KindMessageSent  Kind = "message_sent"
	KindSearchIntent Kind = "search_intent"
	KindAutoProbe    Kind = "auto_probe"
	KindDetoxStart   Kind = "detox_start"
	KindDetoxLine    Kind = "detoxify_line"
	KindDetox        Kind = "detoxify"
)

// Entry is one log line. N is the thought count at the time of writing.
type Entry struct {
	N       int            `json:"n"`
	Kind    Kind           `json:"k"`
	Content string         `json:"c"`
	Time    time.Time      `json:"t"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Log appends entries to one target file at a time. Rotate switches to a new,
// distinctly numbered target; earlier targets are never reopened.
type Log struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	f    *os.File
	path string
}

// Open creates dir if needed and starts a new target named
// NNN_YYYY-MM-DD[_suffix].jsonl.
func Open(dir, suffix string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	l := &Log{dir: dir, now: time.Now}
	if _, err := l.Rotate(suffix); err != nil {
		return nil, err
	}
	return l, nil
}

// Rotate closes the current target and opens the next one.
func (l *Log) Rotate(suffix string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := seqfile.Next(l.dir)
	if err != nil {
		return "", fmt.Errorf("number log: %w", err)
	}
	path := filepath.Join(l.dir, seqfile.Name(n, l.now(), ".jsonl", suffix))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("open log %s: %w", path, err)
	}
	if l.f != nil {
		l.f.Close()
	}
	l.f = f
	l.path = path
	return path, nil
}

// Append writes one entry and syncs it to disk.
func (l *Log) Append(e Entry) error {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("append %s: log closed", e.Kind)
	}
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", e.Kind, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}

// Path returns the current target.
func (l *Log) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close closes the current target.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
