package runner

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/ulfur/nightshift/internal/git"
	"github.com/ulfur/nightshift/internal/scope"
)

// boundaryRe matches the Agent CLI's command-boundary marker lines
// (spec.md §4.3.2), translated verbatim from original_source/scope_guard.py's
// COMMAND_EXIT_RE.
var boundaryRe = regexp.MustCompile(`^(.+?) exited (-?\d+) in ([0-9.]+)ms:`)

// state is the scope-enforcement state machine (spec.md §9 "Observer loop
// with cancellation").
type state int

const (
	stateIdle state = iota
	stateAwaitingBoundary
	stateScanning
	stateTerminating
)

type monitorDeps struct {
	tracker      *scope.DirtyFileTracker
	manifest     *scope.Manifest
	promptID     string
	projectID    string
	repoRoot     string
	repo         *git.Repo
	statusPath   string
	violationLog string
	terminate    func()
}

// monitor is the single task that owns the dirty-file tracker and reads
// parsed boundary lines from a bounded channel, per spec.md §9's explicit
// guidance against a chain of callbacks.
type monitor struct {
	deps monitorDeps
	lines chan string
	done  chan struct{}

	mu        sync.Mutex
	st        state
	declared  bool
	summary   string
}

func newMonitor(deps monitorDeps) *monitor {
	m := &monitor{
		deps:  deps,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
		st:    stateAwaitingBoundary,
	}
	go m.loop()
	return m
}

// feedLine is called by the stdout pump for every line read. Non-blocking
// from the pump's perspective is not required here: the channel is
// buffered (16) and the monitor drains it promptly, matching spec's
// "Readers must not block the child" intent for the boundary channel
// (backpressure for the raw byte stream is handled in the Event Hub, not
// here).
func (m *monitor) feedLine(line string) {
	select {
	case m.lines <- line:
	case <-m.done:
	}
}

func (m *monitor) stop() {
	close(m.done)
}

func (m *monitor) violationDeclared() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.declared
}

func (m *monitor) violationSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

func (m *monitor) loop() {
	for {
		select {
		case <-m.done:
			return
		case line, ok := <-m.lines:
			if !ok {
				return
			}
			m.handleLine(line)
		}
	}
}

func (m *monitor) handleLine(line string) {
	m.mu.Lock()
	if m.st == stateTerminating {
		m.mu.Unlock()
		return // once declared, subsequent matches are ignored (spec.md §4.3.3)
	}
	m.mu.Unlock()

	match := boundaryRe.FindStringSubmatch(line)
	if match == nil {
		return
	}
	command := match[1]

	m.mu.Lock()
	m.st = stateScanning
	m.mu.Unlock()

	m.scanAndEnforce(command)
}

func (m *monitor) scanAndEnforce(command string) {
	changed, err := m.deps.tracker.Scan()
	if err != nil {
		m.declareGuardFailure(command, err)
		return
	}

	var deniedPaths []string
	for _, p := range changed {
		if m.deps.manifest.Classify(p) == scope.Deny {
			deniedPaths = append(deniedPaths, p)
		}
	}

	if len(deniedPaths) == 0 {
		if err := m.deps.tracker.Refresh(); err != nil {
			m.declareGuardFailure(command, err)
			return
		}
		m.mu.Lock()
		m.st = stateAwaitingBoundary
		m.mu.Unlock()
		return
	}

	m.declareViolation(command, deniedPaths)
}

func (m *monitor) declareViolation(command string, paths []string) {
	sort.Strings(paths)
	now := time.Now().UTC()
	message := fmt.Sprintf("Scope guard blocked command %q: denied write(s) to %v", command, paths)

	var violations []scope.Violation
	for _, p := range paths {
		violations = append(violations, scope.Violation{
			Timestamp: now,
			PromptID:  m.deps.promptID,
			ProjectID: m.deps.projectID,
			Command:   command,
			Path:      p,
			Message:   message,
		})
	}
	_ = scope.AppendViolationLog(m.deps.violationLog, violations)
	_ = scope.WriteStatusFile(m.deps.statusPath, scope.StatusFile{
		Timestamp: now,
		PromptID:  m.deps.promptID,
		ProjectID: m.deps.projectID,
		Command:   command,
		Paths:     paths,
		Message:   message,
	})
	fmt.Println(message)

	for _, p := range paths {
		if err := m.deps.repo.CheckoutPaths("", []string{p}); err != nil {
			_ = m.deps.repo.CleanUntracked([]string{p})
		}
	}

	m.mu.Lock()
	m.st = stateTerminating
	m.declared = true
	m.summary = message
	m.mu.Unlock()

	m.deps.terminate()
}

func (m *monitor) declareGuardFailure(command string, cause error) {
	now := time.Now().UTC()
	message := fmt.Sprintf("Scope guard failed while scanning after command %q: %s", command, cause)
	_ = scope.WriteStatusFile(m.deps.statusPath, scope.StatusFile{
		Timestamp: now,
		PromptID:  m.deps.promptID,
		ProjectID: m.deps.projectID,
		Command:   command,
		Message:   message,
	})

	m.mu.Lock()
	m.st = stateTerminating
	m.declared = true
	m.summary = message
	m.mu.Unlock()

	m.deps.terminate()
}
