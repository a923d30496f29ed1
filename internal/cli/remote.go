package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/lazypower/thoughtloop/internal/engine"
	"github.com/lazypower/thoughtloop/internal/remote"
	"github.com/spf13/cobra"
)

var stepCount int

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine on a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st engine.Status
		if err := dial().Post("/api/start", nil, &st); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "started run %s (model %s, %d thoughts)\n", st.RunID, st.Model, st.Thoughts)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the engine on a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st engine.Status
		if err := dial().Post("/api/stop", nil, &st); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "stopped after %d thoughts", st.Thoughts)
		if st.LastSnapshot != "" {
			fmt.Fprintf(os.Stderr, ", saved %s", st.LastSnapshot)
		}
		fmt.Fprintln(os.Stderr)
		return nil
	},
}

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Run autonomous cycles on a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial()
		for i := 0; i < stepCount; i++ {
			var res engine.StepResult
			if err := c.PostLong("/api/step", nil, &res); err != nil {
				return err
			}
			printStep(res)
		}
		return nil
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <message>",
	Short: "Inject a human message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Reply string `json:"reply"`
		}
		msg := strings.Join(args, " ")
		if err := dial().PostLong("/api/speak", map[string]string{"message": msg}, &out); err != nil {
			return err
		}
		if out.Reply == "" {
			fmt.Fprintln(os.Stderr, "(no reply)")
			return nil
		}
		fmt.Println(out.Reply)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status from a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial()
		var st engine.Status
		if err := c.Get("/api/status", &st); err != nil {
			return err
		}
		var contamination struct {
			Status string `json:"status"`
		}
		if err := c.Get("/api/contamination", &contamination); err != nil {
			return err
		}
		printStatus(st, contamination.Status)
		return nil
	},
}

func init() {
	stepCmd.Flags().IntVarP(&stepCount, "count", "n", 1, "number of cycles")
}

func dial() *remote.Client {
	return remote.NewClient(serverURL)
}

func printStep(res engine.StepResult) {
	if !res.OK {
		fmt.Fprintf(os.Stderr, "[%d] cycle produced nothing (%.1fs)\n", res.N, res.Duration)
		return
	}
	fmt.Printf("--- thought %d (%.1fs) ---\n%s\n", res.N, res.Duration, res.Text)
	if res.Probe != nil {
		fmt.Printf("[probe n=%d] %s\n[reply] %s\n", res.Probe.Turn, res.Probe.Input, res.Probe.Reply)
	}
	if res.Snapshot != "" {
		fmt.Fprintf(os.Stderr, "  saved %s\n", res.Snapshot)
	}
}

func printStatus(st engine.Status, contamination string) {
	state := "stopped"
	if st.Alive {
		state = "running"
	}
	if st.Busy {
		state += " (busy)"
	}
	fmt.Printf("state:         %s\n", state)
	if st.RunID != "" {
		fmt.Printf("run:           %s (up %s)\n", st.RunID, st.Uptime)
	}
	fmt.Printf("thoughts:      %d (avg %.1fs)\n", st.Thoughts, st.AvgSec)
	fmt.Printf("context:       %d segments, budget %d\n", st.Context, st.Budget)
	fmt.Printf("model:         %s\n", st.Model)
	fmt.Printf("tools:         %v  system prompt: %v\n", st.Tools, st.SystemPrompt)
	if st.Protocol != "" {
		fmt.Printf("protocol:      %s (fired %v, %d chapters)\n", st.Protocol, st.FiredProbes, st.Chapters)
	}
	fmt.Printf("contamination: %s\n", contamination)
	if st.LastSnapshot != "" {
		fmt.Printf("last save:     %s\n", st.LastSnapshot)
	}
	if st.LogPath != "" {
		fmt.Printf("log:           %s\n", st.LogPath)
	}
}
