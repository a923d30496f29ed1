// Package memory holds the accumulated context that stands in for a
// conversation the backend itself never remembers.
package memory

import (
	"strings"
	"unicode/utf8"
)

// Separator joins segments in the prompt view.
const Separator = "\n\n---\n\n"

// Line prefixes for injected human turns and their replies.
const (
	HumanPrefix = "[researcher] "
	ReplyPrefix = "[reply] "

	// LegacyHumanPrefix marks human turns in records written before the
	// prefix was translated.
	LegacyHumanPrefix = "[研究者] "
)

// Origin records who produced a segment.
type Origin string

const (
	Autonomous Origin = "autonomous"
	Human      Origin = "human"
	Probe      Origin = "probe"
	Reply      Origin = "reply"
)

// Segment is one unit of accumulated context.
type Segment struct {
	Text   string `json:"text"`
	Origin Origin `json:"origin"`
}

// Infer guesses the origin of a bare text line from its prefix. Used for
// records that predate per-segment origins.
func Infer(text string) Origin {
	switch {
	case strings.HasPrefix(text, HumanPrefix), strings.HasPrefix(text, LegacyHumanPrefix):
		return Human
	case strings.HasPrefix(text, ReplyPrefix):
		return Reply
	default:
		return Autonomous
	}
}

// Store is an ordered, append-only sequence of segments. It is not safe for
// concurrent use; the engine owns it.
type Store struct {
	segs []Segment
}

// NewStore returns a store holding a copy of segs.
func NewStore(segs []Segment) *Store {
	s := &Store{}
	s.segs = append(s.segs, segs...)
	return s
}

// FromTexts builds a store from bare text lines, inferring origins.
func FromTexts(texts []string) *Store {
	segs := make([]Segment, len(texts))
	for i, t := range texts {
		segs[i] = Segment{Text: t, Origin: Infer(t)}
	}
	return &Store{segs: segs}
}

// Append adds a segment at the end.
func (s *Store) Append(text string, origin Origin) {
	s.segs = append(s.segs, Segment{Text: text, Origin: origin})
}

// Len returns the number of segments.
func (s *Store) Len() int {
	return len(s.segs)
}

// Segments returns a copy of all segments in order.
func (s *Store) Segments() []Segment {
	out := make([]Segment, len(s.segs))
	copy(out, s.segs)
	return out
}

// Texts returns the segment texts in order.
func (s *Store) Texts() []string {
	out := make([]string, len(s.segs))
	for i, seg := range s.segs {
		out[i] = seg.Text
	}
	return out
}

// Tail returns a copy of the last n segments (all of them if fewer).
func (s *Store) Tail(n int) []Segment {
	if n < 0 {
		n = 0
	}
	start := max(len(s.segs)-n, 0)
	out := make([]Segment, len(s.segs)-start)
	copy(out, s.segs[start:])
	return out
}

// Truncate drops the oldest segments so that at most n remain.
func (s *Store) Truncate(n int) {
	s.segs = s.Tail(n)
}

// Window returns the joined context cut to its trailing budget characters.
// The store itself keeps every segment; only the view is bounded.
func (s *Store) Window(budget int) string {
	if len(s.segs) == 0 {
		return ""
	}
	joined := strings.Join(s.Texts(), Separator)
	return TailChars(joined, budget)
}

// TailChars returns the last n characters of text.
func TailChars(text string, n int) string {
	if n <= 0 {
		return ""
	}
	count := utf8.RuneCountInString(text)
	if count <= n {
		return text
	}
	skip := count - n
	for pos := range text {
		if skip == 0 {
			return text[pos:]
		}
		skip--
	}
	return ""
}
