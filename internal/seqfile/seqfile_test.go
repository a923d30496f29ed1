package seqfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNextEmptyAndMissing(t *testing.T) {
	n, err := Next(t.TempDir())
	if err != nil || n != 1 {
		t.Errorf("Next(empty) = %d, %v; want 1", n, err)
	}
	n, err = Next(filepath.Join(t.TempDir(), "missing"))
	if err != nil || n != 1 {
		t.Errorf("Next(missing) = %d, %v; want 1", n, err)
	}
}

func TestNextSkipsGapsAndJunk(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"001_a.json", "007_b.json", "notes.txt", "12_short.json", "abc_x.json"} {
		os.WriteFile(filepath.Join(dir, name), nil, 0644)
	}
	n, err := Next(dir)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if n != 8 {
		t.Errorf("Next = %d, want 8", n)
	}
}

func TestName(t *testing.T) {
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		parts []string
		want  string
	}{
		{nil, "003_2026-10-19.jsonl"},
		{[]string{"detox", "", "strip_structure"}, "003_2026-10-19_detox_strip_structure.jsonl"},
	}
	for _, tt := range tests {
		if got := Name(3, ts, ".jsonl", tt.parts...); got != tt.want {
			t.Errorf("Name = %q, want %q", got, tt.want)
		}
	}
	if n, ok := Number("1234_x.json"); !ok || n != 1234 {
		t.Errorf("Number(1234_x) = %d, %v", n, ok)
	}
}
