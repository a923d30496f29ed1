package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReadFile reads a log target. Malformed lines are skipped; a log cut short by
// a crash still yields every complete entry.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.Kind == "" {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return entries, nil
}

// Summary describes a log target for audit.
type Summary struct {
	Entries     int
	Counts      map[Kind]int
	LastThought int // highest N seen on a thought entry
	First       time.Time
	Last        time.Time
}

// Summarize counts entries by kind.
func Summarize(entries []Entry) Summary {
	s := Summary{Entries: len(entries), Counts: make(map[Kind]int)}
	for i, e := range entries {
		s.Counts[e.Kind]++
		if e.Kind == KindThought && e.N > s.LastThought {
			s.LastThought = e.N
		}
		if i == 0 {
			s.First = e.Time
		}
		s.Last = e.Time
	}
	return s
}
