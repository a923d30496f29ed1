// Package seqfile numbers files in a directory: NNN_YYYY-MM-DD_rest.ext,
// where NNN is one more than the largest number already present.
package seqfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Next returns max(existing numbers)+1 for files in dir, or 1 when none exist.
// Gaps left by deletions are not reused. A missing dir counts as empty.
func Next(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}
	highest := 0
	for _, e := range entries {
		if n, ok := Number(e.Name()); ok && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// Number parses the leading sequence number of a file name.
func Number(name string) (int, bool) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok || len(prefix) < 3 {
		return 0, false
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Name formats a sequenced file name. Empty parts are skipped.
func Name(n int, t time.Time, ext string, parts ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%03d_%s", n, t.Format("2006-01-02"))
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteByte('_')
		b.WriteString(p)
	}
	b.WriteString(ext)
	return b.String()
}
