package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lazypower/thoughtloop/internal/config"
	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/detox"
	"github.com/lazypower/thoughtloop/internal/engine"
	"github.com/lazypower/thoughtloop/internal/eventlog"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/lazypower/thoughtloop/internal/memory"
	"github.com/lazypower/thoughtloop/internal/session"
	"github.com/spf13/cobra"
)

var (
	scoreLines     bool
	detoxMethod    string
	detoxThreshold float64
	detoxTag       string
	runsLimit      int
)

var scoreCmd = &cobra.Command{
	Use:   "score [file]",
	Short: "Score text for contamination (stdin when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var data []byte
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		scorer := contam.New(contam.Markers(cfg.Scorer.Markers))
		writeScore(cmd.OutOrStdout(), scorer, string(data), cfg.Scorer.Threshold, scoreLines)
		return nil
	},
}

// writeScore prints the score of text. With lines set, text is split on the
// context separator and each segment is reported.
func writeScore(w io.Writer, scorer *contam.Scorer, text string, threshold float64, lines bool) {
	res := scorer.Score(text)
	fmt.Fprintf(w, "score: %.1f (weighted hits %d)\n", res.Score, res.Hits)

	markers := make([]string, 0, len(res.Breakdown))
	for m := range res.Breakdown {
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool {
		if res.Breakdown[markers[i]] != res.Breakdown[markers[j]] {
			return res.Breakdown[markers[i]] > res.Breakdown[markers[j]]
		}
		return markers[i] < markers[j]
	})
	for _, m := range markers {
		fmt.Fprintf(w, "  %-12q x%d\n", m, res.Breakdown[m])
	}

	if !lines {
		return
	}
	report := scorer.Report(strings.Split(text, memory.Separator), threshold)
	fmt.Fprintf(w, "%s\n", engine.StatusLine(report))
	for _, l := range report.Lines {
		flag := " "
		if l.Score >= threshold {
			flag = "!"
		}
		fmt.Fprintf(w, "%s [%d] %6.1f  %5d chars  %s\n", flag, l.Index, l.Score, l.Chars, l.Preview)
	}
}

var detoxCmd = &cobra.Command{
	Use:   "detox <snapshot>",
	Short: "Run a detox strategy over a saved snapshot and save the result",
	Long: `Loads a snapshot, runs one detox strategy over every contaminated segment and
saves the result as a new snapshot. The source snapshot is left untouched.

Strategies: ` + strings.Join(kindNames(), ", "),
	Args: cobra.ExactArgs(1),
	RunE: runDetox,
}

func kindNames() []string {
	var names []string
	for _, k := range detox.Kinds() {
		names = append(names, string(k))
	}
	return names
}

func runDetox(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kind, err := detox.Parse(detoxMethod)
	if err != nil {
		return err
	}
	threshold := detoxThreshold
	if threshold <= 0 {
		threshold = cfg.Detox.Threshold
	}

	snaps, closeFn, err := offlineSnapshots(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	src, err := snaps.Load(args[0])
	if err != nil {
		return fmt.Errorf("load %s: %w", args[0], err)
	}

	strategy, err := detox.New(kind, detox.Deps{
		Client:  optionalClient(cfg),
		Model:   cfg.DetoxModel,
		Timeout: cfg.Detox.Timeout,
		Source:  cfg.Detox.SourceLanguage,
		Pivot:   cfg.Detox.PivotLanguage,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	scorer := contam.New(contam.Markers(cfg.Scorer.Markers))
	p := detox.NewPipeline(scorer, logger)
	p.OnLine = func(l detox.Line) {
		fmt.Fprintf(os.Stderr, "  [%d] %.1f -> %.1f (%d -> %d chars)\n",
			l.Index, l.BeforeScore, l.AfterScore, l.BeforeChars, l.AfterChars)
	}
	res, err := p.Run(ctx, src.Segments, strategy, threshold)
	if err != nil {
		return fmt.Errorf("detox %s: %w", args[0], err)
	}

	tag := detoxTag
	if tag == "" {
		tag = "after_detox_" + string(kind)
	}
	out := session.Capture(memory.NewStore(res.Segments), src.ThoughtCount, src.Model, session.SanitizeTag(tag), scorer, cfg.Scorer.Threshold)
	name, err := snaps.Save(out)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	fmt.Printf("%s: %.1f -> %.1f (%d/%d segments changed)\n", kind, res.BeforeAvg, res.AfterAvg, res.Changed, res.Total)
	fmt.Printf("saved %s\n", name)
	return nil
}

// optionalClient resolves the backend for commands that can work without one.
func optionalClient(cfg config.Config) llm.Client {
	c, err := llm.NewClient(cfg.LLM, cfg.Paths.LibraryDir)
	if err != nil {
		return nil
	}
	return c
}

var snapshotsCmd = &cobra.Command{
	Use:     "snapshots",
	Aliases: []string{"snap"},
	Short:   "Manage saved snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snaps, closeFn, err := offlineSnapshots(cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		infos, err := snaps.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintln(os.Stderr, "no snapshots")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%-48s %8s  %s\n", info.Name, humanize.Bytes(uint64(info.Size)), humanize.Time(info.ModTime))
		}
		return nil
	},
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Preview a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snaps, closeFn, err := offlineSnapshots(cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		snap, err := snaps.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Println(session.Describe(snap))
		return nil
	},
}

var snapshotsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a snapshot permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snaps, closeFn, err := offlineSnapshots(cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := snaps.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "deleted %s\n", args[0])
		return nil
	},
}

var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "List experiment protocols",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		writeProtocols(cmd.OutOrStdout(), cfg.Protocols)
		return nil
	},
}

func writeProtocols(w io.Writer, protocols map[string]config.Protocol) {
	names := make([]string, 0, len(protocols))
	for name := range protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := protocols[name]
		turns := make([]int, 0, len(p.Probes))
		for turn := range p.Probes {
			turns = append(turns, turn)
		}
		sort.Ints(turns)
		fmt.Fprintf(w, "%-14s %s\n", name, p.Description)
		if len(turns) > 0 {
			fmt.Fprintf(w, "%-14s probes at %v\n", "", turns)
		}
		if p.Book != "" {
			fmt.Fprintf(w, "%-14s book %s from turn %d every %d\n", "", p.Book, p.StartTurn, p.Interval)
		}
	}
}

var logCmd = &cobra.Command{
	Use:   "log [file]",
	Short: "Summarise an event log (the newest one when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path, err = newestLog(cfg.Paths.LogDir)
			if err != nil {
				return err
			}
		}
		entries, err := eventlog.ReadFile(path)
		if err != nil {
			return err
		}
		writeLogSummary(cmd.OutOrStdout(), path, eventlog.Summarize(entries))
		return nil
	},
}

// newestLog returns the highest-numbered log target in dir.
func newestLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no event logs in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func writeLogSummary(w io.Writer, path string, s eventlog.Summary) {
	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  entries:      %s\n", humanize.Comma(int64(s.Entries)))
	if s.Entries > 0 {
		fmt.Fprintf(w, "  span:         %s .. %s (%s)\n",
			s.First.Local().Format(time.DateTime), s.Last.Local().Format(time.DateTime),
			s.Last.Sub(s.First).Truncate(time.Second))
	}
	fmt.Fprintf(w, "  last thought: %d\n", s.LastThought)

	kinds := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-14s %d\n", k, s.Counts[eventlog.Kind(k)])
	}
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent engine runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, _, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.RecentRuns(runsLimit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			started := time.UnixMilli(r.StartedAt)
			fmt.Printf("%s  %-7s %5d thoughts  %-10s %s  %s\n",
				r.RunID, r.Status, r.ThoughtCount, orDash(r.Protocol), r.Model, humanize.Time(started))
		}
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	scoreCmd.Flags().BoolVarP(&scoreLines, "lines", "l", false, "report each context segment")

	detoxCmd.Flags().StringVarP(&detoxMethod, "method", "m", string(detox.StripStructure), "detox strategy")
	detoxCmd.Flags().Float64VarP(&detoxThreshold, "threshold", "t", 0, "contamination threshold (default from config)")
	detoxCmd.Flags().StringVar(&detoxTag, "tag", "", "tag for the saved result")

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs")

	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsShowCmd)
	snapshotsCmd.AddCommand(snapshotsDeleteCmd)
}
