package schedule

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	chunkChars      = 15000
	headerDedupeLen = 30
)

// chapterRe matches body-text chapter headers. Scanned books spell numbers
// badly ("CHAPTER ll", "CHAPTER 2O"), so any token after the keyword counts.
var chapterRe = regexp.MustCompile(`CHAPTER\s+\S+`)

// LoadChapters reads a text resource and splits it into chapters.
func LoadChapters(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read book: %w", err)
	}
	return SplitChapters(string(data)), nil
}

// SplitChapters splits text on chapter headers. Text before the first header
// (title pages, table of contents) is dropped. Chapters whose leading header
// text repeats an earlier one are scan duplicates and are skipped. With no
// headers at all the text is cut into fixed-size chunks.
func SplitChapters(text string) []string {
	locs := chapterRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return chunk(text, chunkChars)
	}

	chapters := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		chapters = append(chapters, text[loc[0]:end])
	}
	if len(chapters) < 2 {
		return chapters
	}

	seen := make(map[string]bool)
	unique := chapters[:0]
	for _, ch := range chapters {
		key := strings.TrimSpace(headPrefix(ch, headerDedupeLen))
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, ch)
	}
	return unique
}

func chunk(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		out = append(out, string(runes[i:min(i+size, len(runes))]))
	}
	return out
}

func headPrefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
