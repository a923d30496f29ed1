package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ClaudeCLI calls the Claude CLI (`claude -p`) as a subprocess. Every call is
// a fresh process with session persistence off.
type ClaudeCLI struct {
	path       string
	model      string
	libraryDir string
	timeout    time.Duration
}

// NewClaudeCLI resolves the claude executable and returns a client.
// An empty path means "claude" on PATH.
func NewClaudeCLI(path, model, libraryDir string) (*ClaudeCLI, error) {
	if path == "" {
		path = "claude"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("find claude cli %q: %w", path, ErrUnavailable)
	}
	if libraryDir != "" {
		if abs, err := filepath.Abs(libraryDir); err == nil {
			libraryDir = abs
		}
	}
	return &ClaudeCLI{
		path:       resolved,
		model:      model,
		libraryDir: libraryDir,
		timeout:    120 * time.Second,
	}, nil
}

// Complete sends a prompt to the Claude CLI and returns the response.
// On timeout the whole process group is killed.
func (c *ClaudeCLI) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout <= 0 {
		req.Timeout = c.timeout
	}
	ctx, cancel := withTimeout(ctx, req)
	defer cancel()

	args, cleanup, err := c.args(req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	// Strip CLAUDE*/ANTHROPIC* env vars so the child doesn't think it's nested
	cmd.Env = filterEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("claude cli: %w after %s", ctx.Err(), req.Timeout)
		}
		return nil, fmt.Errorf("claude cli: %w (stderr: %s)", err, truncate(stderr.String(), 500))
	}

	return &Response{
		Content:  strings.TrimSpace(stdout.String()),
		Provider: "claude-cli",
	}, nil
}

// args builds the command line. The system prompt goes through a temp file
// rather than argv: argument encoding is unreliable for long non-ASCII text
// on some platforms.
func (c *ClaudeCLI) args(req Request) ([]string, func(), error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	args := []string{
		"-p",
		"--model", model,
		"--output-format", "text",
		"--no-session-persistence",
		"--disable-slash-commands",
	}

	if req.Tools && c.libraryDir != "" {
		args = append(args,
			"--tools", "Read,Write,Glob",
			"--permission-mode", "acceptEdits",
			"--add-dir", c.libraryDir,
		)
	} else {
		args = append(args, "--tools", "")
	}

	cleanup := func() {}
	if req.System != "" {
		f, err := os.CreateTemp("", "thoughtloop_sp_*.md")
		if err != nil {
			return nil, nil, fmt.Errorf("create system prompt file: %w", err)
		}
		name := f.Name()
		cleanup = func() { os.Remove(name) }
		if _, err := f.WriteString(req.System); err != nil {
			f.Close()
			cleanup()
			return nil, nil, fmt.Errorf("write system prompt file: %w", err)
		}
		if err := f.Close(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("close system prompt file: %w", err)
		}
		args = append(args, "--system-prompt-file", name)
	}

	return args, cleanup, nil
}

// filterEnv removes CLAUDE* and ANTHROPIC* environment variables so the
// child process does not detect a nested session.
func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		key, _, _ := strings.Cut(e, "=")
		upper := strings.ToUpper(key)
		if strings.Contains(upper, "CLAUDE") || strings.Contains(upper, "ANTHROPIC") {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
