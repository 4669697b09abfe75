package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// PhaseMarker prefixes an output line that reports a deploy phase, as in
// "::phase:: BUILDING npm ci".
const PhaseMarker = "::phase::"

// ProgressFunc receives phase updates emitted by a running task.
type ProgressFunc func(phase, message string)

// Task is one deploy job handed to an Executor.
type Task struct {
	JobID string
	Env   map[string]string
}

// Executor runs a deploy task to completion.
type Executor interface {
	Execute(ctx context.Context, task Task, progress ProgressFunc) error
}

// ExecExecutor runs a shell command per task using raw OS processes.
type ExecExecutor struct {
	Command string
	WorkDir string
	Logger  *slog.Logger
}

// NewExecExecutor creates a process-based executor. An empty workDir
// defaults to a directory under the system temp dir.
func NewExecExecutor(command, workDir string, logger *slog.Logger) *ExecExecutor {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "deployplane", "runner")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecExecutor{Command: command, WorkDir: workDir, Logger: logger}
}

// tailLines is how many trailing output lines are kept for failure messages.
const tailLines = 5

// Execute runs `sh -c Command` in a fresh per-job directory. Output lines
// starting with PhaseMarker are forwarded to progress; everything else is
// logged.
func (e *ExecExecutor) Execute(ctx context.Context, task Task, progress ProgressFunc) error {
	if strings.TrimSpace(e.Command) == "" {
		return errors.New("no deploy command configured")
	}

	dir := filepath.Join(e.WorkDir, sanitizeDirName(task.JobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	cmd := exec.CommandContext(ctx, "sh", "-c", e.Command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envList(task.Env)...)
	cmd.WaitDelay = 10 * time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("start deploy command: %w", err)
	}

	var (
		wg   sync.WaitGroup
		tail []string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64<<10), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if phase, msg, ok := parsePhase(line); ok {
				if progress != nil {
					progress(phase, msg)
				}
				continue
			}
			e.Logger.Info("deploy output", "job_id", task.JobID, "line", line)
			tail = append(tail, line)
			if len(tail) > tailLines {
				tail = tail[1:]
			}
		}
		// drain so the process never blocks on a full pipe
		io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	wg.Wait()

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("deploy command interrupted: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("deploy command exited with code %d", exitErr.ExitCode())
		if len(tail) > 0 {
			msg += ": " + tail[len(tail)-1]
		}
		return errors.New(msg)
	}
	return fmt.Errorf("deploy command: %w", err)
}

// parsePhase splits a "::phase:: NAME message" line.
func parsePhase(line string) (phase, message string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(line), PhaseMarker)
	if !found {
		return "", "", false
	}
	fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if fields[0] == "" {
		return "", "", false
	}
	phase = strings.ToUpper(fields[0])
	if len(fields) == 2 {
		message = strings.TrimSpace(fields[1])
	}
	return phase, message, true
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func sanitizeDirName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "job"
	}
	return s
}
