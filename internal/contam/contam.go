// Package contam scores text for the structural and lexical degradation that
// builds up when a model repeatedly reads its own output.
//
// The score is a weighted marker density:
//
//	score = Σ count(marker) × weight / max(chars, 1) × 1000
//
// rounded to one decimal. Length is measured in characters (runes), not bytes,
// so multi-byte text is not diluted.
package contam

import (
	"math"
	"strings"
	"unicode/utf8"
)

// DefaultThreshold is the score at or above which a segment counts as contaminated.
const DefaultThreshold = 20.0

const previewChars = 60

// Markers maps a marker substring to its weight. Treat it as immutable once
// handed to a Scorer.
type Markers map[string]int

// DefaultMarkers returns the built-in marker table: structural tokens,
// recurring vocabulary seen in degraded runs, and closure phrases.
func DefaultMarkers() Markers {
	return Markers{
		// structure
		"**":        1,
		"##":        2,
		"---":       2,
		"[SEND]":    3,
		"[/SEND]":   3,
		"[SEARCH]":  3,
		"[/SEARCH]": 3,
		"```":       2,

		// vocabulary
		"わたい":      3,
		"消滅":       2,
		"献身":       2,
		"Presence": 2,
		"個我":       2,
		"真我":       2,
		"IS-BE":    2,

		// closure
		"使命完了": 4,
		"完了。":  3,
		"次は":   1,
		"準備完了": 3,
	}
}

// Result is the score of a single text.
type Result struct {
	Score     float64
	Hits      int // weighted marker total
	Breakdown map[string]int
}

// Scorer scores text against a fixed marker table.
type Scorer struct {
	markers Markers
}

// New returns a Scorer over a copy of markers. A nil or empty table yields
// the default markers.
func New(markers Markers) *Scorer {
	if len(markers) == 0 {
		markers = DefaultMarkers()
	}
	cp := make(Markers, len(markers))
	for m, w := range markers {
		if m == "" || w <= 0 {
			continue
		}
		cp[m] = w
	}
	return &Scorer{markers: cp}
}

// Default returns a Scorer over DefaultMarkers.
func Default() *Scorer {
	return New(nil)
}

// Score returns the contamination density of text.
func (s *Scorer) Score(text string) Result {
	if text == "" {
		return Result{Breakdown: map[string]int{}}
	}
	breakdown := make(map[string]int)
	total := 0
	for marker, weight := range s.markers {
		n := strings.Count(text, marker)
		if n > 0 {
			breakdown[marker] = n
			total += n * weight
		}
	}
	chars := utf8.RuneCountInString(text)
	score := float64(total) / float64(max(chars, 1)) * 1000
	return Result{Score: round1(score), Hits: total, Breakdown: breakdown}
}

// LineScore is one entry of a Report.
type LineScore struct {
	Index   int     `json:"idx"`
	Chars   int     `json:"chars"`
	Score   float64 `json:"score"`
	Hits    int     `json:"markers"`
	Preview string  `json:"preview"`
}

// Report aggregates scores over an ordered list of texts.
type Report struct {
	Total        int         `json:"total_lines"`
	Contaminated int         `json:"contaminated"`
	Average      float64     `json:"avg_score"`
	Maximum      float64     `json:"max_score"`
	Lines        []LineScore `json:"per_line"`
}

// Report scores every text and counts those at or above threshold.
func (s *Scorer) Report(texts []string, threshold float64) Report {
	r := Report{Total: len(texts), Lines: make([]LineScore, 0, len(texts))}
	if len(texts) == 0 {
		return r
	}
	sum := 0.0
	for i, t := range texts {
		res := s.Score(t)
		r.Lines = append(r.Lines, LineScore{
			Index:   i,
			Chars:   utf8.RuneCountInString(t),
			Score:   res.Score,
			Hits:    res.Hits,
			Preview: Preview(t, previewChars),
		})
		sum += res.Score
		if res.Score >= threshold {
			r.Contaminated++
		}
		if res.Score > r.Maximum {
			r.Maximum = res.Score
		}
	}
	r.Average = round1(sum / float64(len(texts)))
	return r
}

// Preview returns the first n characters of text on a single line.
func Preview(text string, n int) string {
	return strings.ReplaceAll(Truncate(text, n), "\n", " ")
}

// Truncate returns at most n characters of text without splitting a rune.
func Truncate(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
