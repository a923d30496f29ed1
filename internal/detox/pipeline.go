package detox

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/memory"
	"go.uber.org/zap"
)

// MinChars is the shortest segment a pass will touch.
const MinChars = 50

// textCap bounds the before/after text kept in a Line.
const textCap = 500

// Line reports one processed segment.
type Line struct {
	Index       int     `json:"line_index"`
	Strategy    Kind    `json:"method"`
	BeforeScore float64 `json:"before_score"`
	AfterScore  float64 `json:"after_score"`
	BeforeChars int     `json:"before_chars"`
	AfterChars  int     `json:"after_chars"`
	BeforeText  string  `json:"before_text"`
	AfterText   string  `json:"after_text"`
}

// Result summarises a pass. Segments is the complete replacement sequence,
// including untouched segments, in original order.
type Result struct {
	Strategy  Kind             `json:"method"`
	Threshold float64          `json:"threshold"`
	BeforeAvg float64          `json:"before_avg"`
	AfterAvg  float64          `json:"after_avg"`
	Changed   int              `json:"lines_changed"`
	Total     int              `json:"total_lines"`
	Segments  []memory.Segment `json:"-"`
	Lines     []Line           `json:"-"`
}

// Pipeline runs a strategy over a sequence of segments.
type Pipeline struct {
	scorer *contam.Scorer
	logger *zap.Logger

	// OnLine, if set, is called after each processed segment.
	OnLine func(Line)
}

// NewPipeline returns a pipeline scoring with scorer.
func NewPipeline(scorer *contam.Scorer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{scorer: scorer, logger: logger}
}

// Skip reports whether a segment is left alone: its score is below threshold
// or it is shorter than MinChars.
func Skip(score float64, text string, threshold float64) bool {
	return score < threshold || utf8.RuneCountInString(text) < MinChars
}

// Run applies s to every qualifying segment. The input is not modified. If ctx
// is cancelled mid-pass the partial work is discarded and ctx.Err returned.
func (p *Pipeline) Run(ctx context.Context, segs []memory.Segment, s Strategy, threshold float64) (Result, error) {
	res := Result{
		Strategy:  s.Kind(),
		Threshold: threshold,
		Total:     len(segs),
		Segments:  make([]memory.Segment, len(segs)),
	}
	texts := make([]string, len(segs))
	for i, seg := range segs {
		texts[i] = seg.Text
	}
	res.BeforeAvg = p.scorer.Report(texts, threshold).Average

	for i, seg := range segs {
		res.Segments[i] = seg
		before := p.scorer.Score(seg.Text).Score
		if Skip(before, seg.Text, threshold) {
			continue
		}

		p.logger.Debug("detox: processing segment",
			zap.Int("index", i),
			zap.Float64("score", before),
			zap.String("strategy", string(s.Kind())))

		out := s.Apply(ctx, seg.Text)
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("detox %s: %w", s.Kind(), err)
		}

		line := Line{
			Index:       i,
			Strategy:    s.Kind(),
			BeforeScore: before,
			AfterScore:  p.scorer.Score(out).Score,
			BeforeChars: utf8.RuneCountInString(seg.Text),
			AfterChars:  utf8.RuneCountInString(out),
			BeforeText:  contam.Truncate(seg.Text, textCap),
			AfterText:   contam.Truncate(out, textCap),
		}
		res.Segments[i] = memory.Segment{Text: out, Origin: seg.Origin}
		res.Lines = append(res.Lines, line)
		res.Changed++
		if p.OnLine != nil {
			p.OnLine(line)
		}
	}

	after := make([]string, len(res.Segments))
	for i, seg := range res.Segments {
		after[i] = seg.Text
	}
	res.AfterAvg = p.scorer.Report(after, threshold).Average
	return res, nil
}
