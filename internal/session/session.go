// Package session persists point-in-time snapshots of the loop's memory so a
// run can be revived, branched or recovered after a crash.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/lazypower/thoughtloop/internal/seqfile"
)

// MaxSegments is the number of trailing segments a snapshot keeps.
const MaxSegments = 100

var (
	// ErrNotFound means no snapshot record exists under the given name.
	ErrNotFound = errors.New("snapshot not found")
	// ErrMalformed means a record exists but cannot be adopted.
	ErrMalformed = errors.New("malformed snapshot")
)

// Summary is the contamination summary stored with a snapshot.
type Summary struct {
	AvgScore          float64 `json:"avg_score"`
	MaxScore          float64 `json:"max_score"`
	ContaminatedLines int     `json:"contaminated_lines"`
	TotalLines        int     `json:"total_lines"`
}

// Snapshot is one saved record.
type Snapshot struct {
	Segments      []memory.Segment `json:"segments"`
	ThoughtCount  int              `json:"thought_count"`
	Model         string           `json:"model"`
	Tag           string           `json:"tag"`
	Contamination Summary          `json:"contamination"`
	SavedAt       time.Time        `json:"saved_at"`
}

// Capture builds a snapshot from live state. The summary is computed from the
// same trailing segments that are stored.
func Capture(store *memory.Store, thoughtCount int, model, tag string, scorer *contam.Scorer, threshold float64) Snapshot {
	segs := store.Tail(MaxSegments)
	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}
	r := scorer.Report(texts, threshold)
	return Snapshot{
		Segments:     segs,
		ThoughtCount: thoughtCount,
		Model:        model,
		Tag:          tag,
		Contamination: Summary{
			AvgScore:          r.Average,
			MaxScore:          r.Maximum,
			ContaminatedLines: r.Contaminated,
			TotalLines:        r.Total,
		},
		SavedAt: time.Now().UTC(),
	}
}

// Texts returns the segment texts in order.
func (s Snapshot) Texts() []string {
	out := make([]string, len(s.Segments))
	for i, seg := range s.Segments {
		out[i] = seg.Text
	}
	return out
}

// Validate reports structural problems that make the snapshot unusable.
func (s Snapshot) Validate() error {
	if s.ThoughtCount < 0 {
		return fmt.Errorf("%w: negative thought count %d", ErrMalformed, s.ThoughtCount)
	}
	if len(s.Segments) > MaxSegments {
		return fmt.Errorf("%w: %d segments exceeds %d", ErrMalformed, len(s.Segments), MaxSegments)
	}
	for i, seg := range s.Segments {
		switch seg.Origin {
		case memory.Autonomous, memory.Human, memory.Probe, memory.Reply:
		default:
			return fmt.Errorf("%w: segment %d has unknown origin %q", ErrMalformed, i, seg.Origin)
		}
	}
	return nil
}

// Decode parses a record. Records with a bare "context_lines" list instead of
// "segments" are accepted; origins are inferred from line prefixes.
func Decode(data []byte) (Snapshot, error) {
	var raw struct {
		Snapshot
		Segments     *[]memory.Segment `json:"segments"`
		ContextLines *[]string         `json:"context_lines"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	snap := raw.Snapshot
	switch {
	case raw.Segments != nil:
		snap.Segments = *raw.Segments
	case raw.ContextLines != nil:
		snap.Segments = memory.FromTexts(*raw.ContextLines).Segments()
	default:
		return Snapshot{}, fmt.Errorf("%w: no segments", ErrMalformed)
	}
	for i := range snap.Segments {
		if snap.Segments[i].Origin == "" {
			snap.Segments[i].Origin = memory.Infer(snap.Segments[i].Text)
		}
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Encode serializes a record.
func Encode(s Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Info describes a stored record without loading it.
type Info struct {
	Name    string    `json:"name"`
	Number  int       `json:"number"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store persists snapshots. Every Save creates a new immutable record numbered
// one past the highest existing one.
type Store interface {
	Save(s Snapshot) (string, error)
	Load(name string) (Snapshot, error)
	Delete(name string) error
	List() ([]Info, error)
}

// Latest returns the highest-numbered record.
func Latest(st Store) (Info, error) {
	infos, err := st.List()
	if err != nil {
		return Info{}, err
	}
	if len(infos) == 0 {
		return Info{}, ErrNotFound
	}
	sortInfos(infos)
	return infos[0], nil
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Number > infos[j].Number })
}

// SanitizeTag makes a tag safe for record names.
func SanitizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	return strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_").Replace(tag)
}

// ModelLabel shortens a model identifier for record names.
func ModelLabel(model string) string {
	for _, family := range []string{"haiku", "sonnet", "opus"} {
		if strings.Contains(model, family) {
			return family
		}
	}
	return SanitizeTag(model)
}

// RecordName formats the name of record n.
func RecordName(n int, t time.Time, s Snapshot) string {
	return seqfile.Name(n, t, "", fmt.Sprintf("n%d", s.ThoughtCount), ModelLabel(s.Model), SanitizeTag(s.Tag))
}

// Describe renders a short preview of a snapshot.
func Describe(s Snapshot) string {
	chars := 0
	for _, seg := range s.Segments {
		chars += len([]rune(seg.Text))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[context: %d lines, %s chars]", len(s.Segments), humanize.Comma(int64(chars)))
	if s.Tag != "" {
		fmt.Fprintf(&b, "  tag=%s", s.Tag)
	}
	fmt.Fprintf(&b, "\n[thoughts: %d, model: %s]", s.ThoughtCount, s.Model)
	c := s.Contamination
	fmt.Fprintf(&b, "\n[contamination: avg=%.1f max=%.1f (%d/%d lines)]",
		c.AvgScore, c.MaxScore, c.ContaminatedLines, c.TotalLines)
	if n := len(s.Segments); n > 0 {
		fmt.Fprintf(&b, "\n\nlast: %s...", contam.Preview(s.Segments[n-1].Text, 200))
	}
	return b.String()
}
