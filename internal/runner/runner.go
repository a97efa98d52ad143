// Package runner implements the Scope Guard Runner (spec.md §4.3): spawns
// the Agent CLI as a child, watches its stdout for command-boundary
// markers, scans the working tree after each boundary, reverts anything
// touching a denied path, and streams output to the Event Hub.
//
// Process invocation is grounded on the teacher's internal/engine.go
// invokeAgent (github.com/creack/pty for stdout; stderr is a plain pipe); the
// scan-and-enforce cycle and dirty-file tracking are grounded on
// original_source/scope_guard.py's GuardedProcess and ScopeGuard.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/ulfur/nightshift/internal/git"
	"github.com/ulfur/nightshift/internal/scope"
)

// StreamSink receives stdout/stderr chunks during a run, forwarded
// verbatim to the Event Hub as prompt_stream frames (spec.md §4.3.4).
type StreamSink interface {
	Stream(promptID, streamName string, chunk []byte, reset, done bool)
}

// NopSink discards stream frames; useful for tests and offline runs.
type NopSink struct{}

func (NopSink) Stream(string, string, []byte, bool, bool) {}

// Input is everything one invocation of the Runner needs.
type Input struct {
	PromptID     string
	ProjectID    string
	Command      string
	Args         []string
	PromptText   string
	RepoRoot     string
	Manifest     *scope.Manifest
	StatusPath   string
	ViolationLog string
	Env          map[string]string
}

// Result is the triple the Worker inspects to decide the prompt's final
// status (spec.md §4.3).
type Result struct {
	Summary  string
	Success  bool
	Canceled bool
	Stdout   string
}

// Runner owns the single active child process, if any, and the mutex
// guarding cancellation state (spec.md §4.3.5).
type Runner struct {
	sink StreamSink

	killGrace time.Duration

	mu              sync.Mutex
	activePromptID  string
	activeCmd       *exec.Cmd
	pendingCancel   bool
	cancelSummary   string
}

// New creates a Runner that forwards stream chunks to sink.
func New(sink StreamSink) *Runner {
	if sink == nil {
		sink = NopSink{}
	}
	return &Runner{sink: sink, killGrace: 5 * time.Second}
}

// Arm marks promptID as the prompt about to be run, resetting any stale
// cancellation state from a previous prompt. Called by the Worker before
// Branch Discipline even begins (spec.md §4.4 step 3), so a cancel issued
// during begin_run can still be observed at the pre-spawn checkpoint.
func (r *Runner) Arm(promptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activePromptID = promptID
	r.pendingCancel = false
	r.cancelSummary = ""
}

// Cancel requests termination of the active child, if it matches
// promptID. Returns false if promptID is not the armed prompt (spec.md
// §4.3.5).
func (r *Runner) Cancel(promptID, summary string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activePromptID != promptID {
		return false
	}
	r.pendingCancel = true
	r.cancelSummary = summary

	if r.activeCmd != nil && r.activeCmd.Process != nil {
		proc := r.activeCmd.Process
		grace := r.killGrace
		_ = proc.Signal(syscall.SIGTERM)
		go func() {
			time.Sleep(grace)
			_ = proc.Kill()
		}()
	}
	return true
}

func (r *Runner) checkPendingCancel() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingCancel, r.cancelSummary
}

func (r *Runner) setActiveCmd(cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeCmd = cmd
}

// Run spawns the Agent CLI, enforces scope for the duration of the run,
// and returns once the child has exited (or was never spawned because a
// cancel arrived first).
func (r *Runner) Run(ctx context.Context, in Input) (Result, error) {
	if canceled, summary := r.checkPendingCancel(); canceled {
		if summary == "" {
			summary = "Canceled before the agent was started"
		}
		return Result{Summary: summary, Canceled: true}, nil
	}

	if _, err := exec.LookPath(in.Command); err != nil {
		return Result{
			Summary: fmt.Sprintf("Agent CLI binary not found: %s", in.Command),
			Success: false,
		}, nil
	}

	repo := git.NewRepo(in.RepoRoot)
	tracker := scope.NewDirtyFileTracker(repo, in.RepoRoot)
	if err := tracker.Refresh(); err != nil {
		return Result{Summary: fmt.Sprintf("Scope guard failed to establish baseline: %s", err)}, nil
	}

	cmd := exec.Command(in.Command, in.Args...)
	cmd.Dir = in.RepoRoot
	cmd.Env = os.Environ()
	for k, v := range in.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, pts, err := pty.Open()
	if err != nil {
		return Result{Summary: fmt.Sprintf("Scope guard failed to allocate a pty: %s", err)}, nil
	}
	defer ptmx.Close()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		pts.Close()
		return Result{Summary: fmt.Sprintf("Scope guard failed to allocate a pipe: %s", err)}, nil
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		pts.Close()
		stdinR.Close()
		stdinW.Close()
		return Result{Summary: fmt.Sprintf("Scope guard failed to allocate a stderr pipe: %s", err)}, nil
	}
	defer stderrR.Close()

	cmd.Stdin = stdinR
	cmd.Stdout = pts
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		pts.Close()
		stdinR.Close()
		stdinW.Close()
		stderrR.Close()
		stderrW.Close()
		return Result{Summary: fmt.Sprintf("Agent CLI failed to start: %s", err)}, nil
	}
	pts.Close()
	stdinR.Close()
	stderrW.Close()
	r.setActiveCmd(cmd)
	defer func() {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
		}
	}()

	// stdin carries only the prompt text, then EOF (spec.md §4.3.4).
	go func() {
		_, _ = io.WriteString(stdinW, in.PromptText)
		stdinW.Close()
	}()

	mon := newMonitor(monitorDeps{
		tracker:      tracker,
		manifest:     in.Manifest,
		promptID:     in.PromptID,
		projectID:    in.ProjectID,
		repoRoot:     in.RepoRoot,
		repo:         repo,
		statusPath:   in.StatusPath,
		violationLog: in.ViolationLog,
		terminate:    func() { r.Cancel(in.PromptID, "") },
	})

	r.sink.Stream(in.PromptID, "stdout", nil, true, false)
	r.sink.Stream(in.PromptID, "stderr", nil, true, false)

	// Two readers pump stdout and stderr concurrently (spec.md §4.3.4):
	// stdout rides the pty so the boundary detector sees line-buffered
	// output promptly; stderr is a plain pipe, tagged and forwarded
	// separately so it never gets merged into the stdout stream.
	var stdoutBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pumpStdout(ptmx, &stdoutBuf, r.sink, in.PromptID, mon)
	}()
	go func() {
		defer wg.Done()
		pumpStderr(stderrR, r.sink, in.PromptID)
	}()

	waitErr := cmd.Wait()
	wg.Wait()
	mon.stop()

	r.sink.Stream(in.PromptID, "stdout", nil, false, true)
	r.sink.Stream(in.PromptID, "stderr", nil, false, true)

	r.setActiveCmd(nil)

	stdout := stdoutBuf.String()

	if canceled, summary := r.checkPendingCancel(); canceled {
		if summary == "" {
			summary = "Canceled by operator"
		}
		return Result{Summary: summary, Canceled: true, Stdout: stdout}, nil
	}

	if mon.violationDeclared() {
		return Result{Summary: mon.violationSummary(), Success: false, Stdout: stdout}, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return Result{
				Summary: fmt.Sprintf("Agent failed with exit code %d", exitErr.ExitCode()),
				Success: false,
				Stdout:  stdout,
			}, nil
		}
		return Result{Summary: fmt.Sprintf("Agent run failed: %s", waitErr), Success: false, Stdout: stdout}, nil
	}

	return Result{Summary: "Agent run succeeded", Success: true, Stdout: stdout}, nil
}

func pumpStdout(r io.Reader, buf *strings.Builder, sink StreamSink, promptID string, mon *monitor) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		sink.Stream(promptID, "stdout", []byte(line+"\n"), false, false)
		mon.feedLine(line)
	}
	// EIO on pty close at process exit is expected, not an error worth
	// reporting — mirrors the teacher's invokeAgent EIO tolerance.
}

func pumpStderr(r io.Reader, sink StreamSink, promptID string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sink.Stream(promptID, "stderr", []byte(line+"\n"), false, false)
	}
}
