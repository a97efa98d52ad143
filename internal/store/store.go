// Package store implements the Prompt Store: a durable, ordered set of
// prompt records plus an in-memory FIFO of ready-to-run ids (spec.md §4.1).
//
// Grounded on the teacher's internal/engine/state.go (JSON status-file
// persistence, ResetActiveStatuses ghost recovery), generalized from one
// JSON file per station to one JSON document for the whole record set plus
// a rolling duration-sample window.
package store

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ulfur/nightshift/internal/promptdomain"
)

// Clock lets tests substitute time. Defaults to time.Now.
type Clock func() time.Time

// Store is the durable Prompt Store plus its in-memory FIFO.
type Store struct {
	mu   sync.Mutex
	cond *sync.Cond

	dir     string
	logsDir string

	prompts map[string]*promptdomain.Prompt
	fifo    *list.List
	fifoEl  map[string]*list.Element

	window     []durationSample
	windowSize int

	now Clock
}

type durationSample struct {
	WaitSeconds *float64 `json:"wait_seconds,omitempty"`
	RunSeconds  *float64 `json:"run_seconds,omitempty"`
}

// persistedDoc is the on-disk JSON shape: the whole record set and the
// duration window, written atomically on every mutation.
type persistedDoc struct {
	Prompts map[string]*promptdomain.Prompt `json:"prompts"`
	Window  []durationSample                `json:"window"`
}

const defaultWindowSize = 50

// New creates a Store rooted at dir (prompts.json lives directly under
// dir; per-prompt logs live under logsDir). It does not load from disk —
// call Load for that.
func New(dir, logsDir string, windowSize int) *Store {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	s := &Store{
		dir:        dir,
		logsDir:    logsDir,
		prompts:    make(map[string]*promptdomain.Prompt),
		fifo:       list.New(),
		fifoEl:     make(map[string]*list.Element),
		windowSize: windowSize,
		now:        time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Store) docPath() string {
	return filepath.Join(s.dir, "prompts.json")
}

// Load reads the persisted document from disk. Malformed or missing
// content yields an empty store — the process must not refuse to start
// (spec.md §4.1 "Durability").
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.docPath())
	if err != nil {
		return nil // no prior state; start empty
	}
	var doc persistedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil // malformed on disk; start empty rather than refuse to start
	}

	s.prompts = make(map[string]*promptdomain.Prompt, len(doc.Prompts))
	for id, p := range doc.Prompts {
		cp := p.Clone()
		s.prompts[id] = &cp
	}
	s.window = doc.Window
	s.rebuildWindow()
	s.rebuildFIFO()
	return nil
}

// rebuildWindow replays finished records in ascending last_finished_at
// order and keeps only the most recent windowSize samples (spec.md §4.1
// "Duration statistics").
func (s *Store) rebuildWindow() {
	type finished struct {
		at time.Time
		p  *promptdomain.Prompt
	}
	var all []finished
	for _, p := range s.prompts {
		if p.Status.IsTerminal() && p.FinishedAt != nil {
			all = append(all, finished{at: *p.FinishedAt, p: p})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	var window []durationSample
	for _, f := range all {
		wait := f.p.LastWaitSeconds
		run := f.p.LastRunSeconds
		window = append(window, durationSample{WaitSeconds: &wait, RunSeconds: &run})
	}
	if len(window) > s.windowSize {
		window = window[len(window)-s.windowSize:]
	}
	s.window = window
}

// rebuildFIFO restores the FIFO from every currently-queued record, oldest
// enqueued_at first (ties broken by id), matching take_next's ordering
// invariant (spec.md §4.1 "Ordering").
func (s *Store) rebuildFIFO() {
	s.fifo = list.New()
	s.fifoEl = make(map[string]*list.Element)

	var queued []*promptdomain.Prompt
	for _, p := range s.prompts {
		if p.Status == promptdomain.StatusQueued {
			queued = append(queued, p)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if !queued[i].EnqueuedAt.Equal(queued[j].EnqueuedAt) {
			return queued[i].EnqueuedAt.Before(queued[j].EnqueuedAt)
		}
		return queued[i].ID < queued[j].ID
	})
	for _, p := range queued {
		el := s.fifo.PushBack(p.ID)
		s.fifoEl[p.ID] = el
	}
}

// persist writes the full record set to prompts.json atomically
// (write-to-temp, rename). Must be called with s.mu held. On failure the
// caller is expected to roll back its in-memory change.
func (s *Store) persist() error {
	doc := persistedDoc{Prompts: s.prompts, Window: s.window}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	tmp := s.docPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.docPath()); err != nil {
		return fmt.Errorf("renaming store file: %w", err)
	}
	return nil
}

func (s *Store) logPathFor(id string) string {
	return filepath.Join(s.logsDir, id+".log")
}

// Submit creates a new queued prompt record (spec.md §4.1 "submit").
func (s *Store) Submit(text, project, replyTo string) (promptdomain.Prompt, error) {
	if strings.TrimSpace(text) == "" {
		return promptdomain.Prompt{}, fmt.Errorf("%w: prompt text must not be empty", promptdomain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := uuid.NewString()
	p := &promptdomain.Prompt{
		ID:         id,
		Text:       text,
		Project:    project,
		ReplyTo:    replyTo,
		Status:     promptdomain.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
		EnqueuedAt: now,
		LogPath:    s.logPathFor(id),
	}

	prevPrompts := s.prompts
	s.prompts = cloneMap(s.prompts)
	s.prompts[id] = p
	if err := s.persist(); err != nil {
		s.prompts = prevPrompts
		return promptdomain.Prompt{}, fmt.Errorf("persisting new prompt: %w", err)
	}

	el := s.fifo.PushBack(id)
	s.fifoEl[id] = el
	s.cond.Broadcast()

	return p.Clone(), nil
}

func cloneMap(m map[string]*promptdomain.Prompt) map[string]*promptdomain.Prompt {
	out := make(map[string]*promptdomain.Prompt, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// List returns all records sorted by created_at descending, ties broken by
// id lexicographic order descending to keep the sort stable and
// deterministic (spec.md §4.1 "Ordering").
func (s *Store) List() []promptdomain.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]promptdomain.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Get returns a single record by id, or false if it does not exist.
func (s *Store) Get(id string) (promptdomain.Prompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return promptdomain.Prompt{}, false
	}
	return p.Clone(), true
}

// PendingCount returns the number of queued records.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fifo.Len()
}

// TakeNext blocks (honoring ctx and timeout) until an id is ready, then
// removes it from the FIFO and returns it. Returns ("", false) on timeout
// or context cancellation.
func (s *Store) TakeNext(ctx context.Context, timeout time.Duration) (string, bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		s.cond.Broadcast()
	})
	defer stop()

	timer := time.AfterFunc(timeout, s.cond.Broadcast)
	defer timer.Stop()

	deadline := time.Now().Add(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.fifo.Len() == 0 {
		select {
		case <-done:
			return "", false
		default:
		}
		if time.Now().After(deadline) {
			return "", false
		}
		s.cond.Wait()
	}

	front := s.fifo.Front()
	id := front.Value.(string)
	s.fifo.Remove(front)
	delete(s.fifoEl, id)
	return id, true
}

// BeginAttempt transitions a queued prompt to running and stamps
// started_at (spec.md §4.1 "begin_attempt").
func (s *Store) BeginAttempt(id string) (promptdomain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok {
		return promptdomain.Prompt{}, fmt.Errorf("%w: prompt %s", promptdomain.ErrNotFound, id)
	}
	promptdomain.CheckTransition(p.Status, promptdomain.StatusRunning)

	now := s.now()
	waitSecs := now.Sub(p.EnqueuedAt).Seconds()

	updated := *p
	updated.Status = promptdomain.StatusRunning
	updated.Attempt++
	updated.StartedAt = &now
	updated.UpdatedAt = now
	updated.LastWaitSeconds = waitSecs

	return s.commitLocked(&updated)
}

func (s *Store) finishTerminal(id string, status promptdomain.Status, summary string) (promptdomain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok {
		return promptdomain.Prompt{}, fmt.Errorf("%w: prompt %s", promptdomain.ErrNotFound, id)
	}
	promptdomain.CheckTransition(p.Status, status)

	now := s.now()
	updated := *p
	updated.Status = status
	updated.FinishedAt = &now
	updated.UpdatedAt = now
	updated.ResultSummary = summary
	if p.StartedAt != nil {
		updated.LastRunSeconds = now.Sub(*p.StartedAt).Seconds()
	}

	out, err := s.commitLocked(&updated)
	if err != nil {
		return out, err
	}
	s.recordSample(updated.LastWaitSeconds, updated.LastRunSeconds, updated.StartedAt != nil)
	return out, nil
}

// Complete marks a running prompt completed.
func (s *Store) Complete(id, summary string) (promptdomain.Prompt, error) {
	return s.finishTerminal(id, promptdomain.StatusCompleted, summary)
}

// Fail marks a running prompt failed.
func (s *Store) Fail(id, summary string) (promptdomain.Prompt, error) {
	return s.finishTerminal(id, promptdomain.StatusFailed, summary)
}

// Cancel marks a running prompt canceled.
func (s *Store) Cancel(id, summary string) (promptdomain.Prompt, error) {
	return s.finishTerminal(id, promptdomain.StatusCanceled, summary)
}

// Retry re-enqueues a terminal prompt, resetting its wait/start timestamps
// (spec.md §4.1 "retry"). Requires non-running status.
func (s *Store) Retry(id string) (promptdomain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok {
		return promptdomain.Prompt{}, fmt.Errorf("%w: prompt %s", promptdomain.ErrNotFound, id)
	}
	if p.Status == promptdomain.StatusRunning {
		return promptdomain.Prompt{}, fmt.Errorf("%w: cannot retry a running prompt", promptdomain.ErrConflict)
	}
	promptdomain.CheckTransition(p.Status, promptdomain.StatusQueued)

	now := s.now()
	updated := *p
	updated.Status = promptdomain.StatusQueued
	updated.EnqueuedAt = now
	updated.UpdatedAt = now
	updated.StartedAt = nil
	updated.FinishedAt = nil

	out, err := s.commitLocked(&updated)
	if err != nil {
		return out, err
	}
	el := s.fifo.PushBack(id)
	s.fifoEl[id] = el
	s.cond.Broadcast()
	return out, nil
}

// Edit changes a queued prompt's text. Requires queued status and
// non-empty text (spec.md §4.1 "Failure model").
func (s *Store) Edit(id, text string) (promptdomain.Prompt, error) {
	if strings.TrimSpace(text) == "" {
		return promptdomain.Prompt{}, fmt.Errorf("%w: prompt text must not be empty", promptdomain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok {
		return promptdomain.Prompt{}, fmt.Errorf("%w: prompt %s", promptdomain.ErrNotFound, id)
	}
	if p.Status != promptdomain.StatusQueued {
		return promptdomain.Prompt{}, fmt.Errorf("%w: prompt %s is not queued", promptdomain.ErrConflict, id)
	}

	updated := *p
	updated.Text = text
	updated.UpdatedAt = s.now()
	return s.commitLocked(&updated)
}

// Delete removes a queued prompt (spec.md §4.1 "delete").
func (s *Store) Delete(id string) (promptdomain.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok {
		return promptdomain.Prompt{}, fmt.Errorf("%w: prompt %s", promptdomain.ErrNotFound, id)
	}
	if p.Status != promptdomain.StatusQueued {
		return promptdomain.Prompt{}, fmt.Errorf("%w: only queued prompts can be deleted", promptdomain.ErrConflict)
	}

	prevPrompts := s.prompts
	s.prompts = cloneMap(s.prompts)
	delete(s.prompts, id)
	if err := s.persist(); err != nil {
		s.prompts = prevPrompts
		return promptdomain.Prompt{}, fmt.Errorf("persisting delete: %w", err)
	}

	if el, ok := s.fifoEl[id]; ok {
		s.fifo.Remove(el)
		delete(s.fifoEl, id)
	}

	return p.Clone(), nil
}

// commitLocked assumes s.mu is already held.
func (s *Store) commitLocked(updated *promptdomain.Prompt) (promptdomain.Prompt, error) {
	prevPrompts := s.prompts
	s.prompts = cloneMap(s.prompts)
	s.prompts[updated.ID] = updated
	if err := s.persist(); err != nil {
		s.prompts = prevPrompts
		return promptdomain.Prompt{}, fmt.Errorf("persisting prompt %s: %w", updated.ID, err)
	}
	return updated.Clone(), nil
}

func (s *Store) recordSample(wait, run float64, haveRun bool) {
	sample := durationSample{WaitSeconds: &wait}
	if haveRun {
		sample.RunSeconds = &run
	}
	s.window = append(s.window, sample)
	if len(s.window) > s.windowSize {
		s.window = s.window[len(s.window)-s.windowSize:]
	}
	// best-effort: persist the window alongside the next mutation: callers
	// of finishTerminal already persisted before this runs, so flush again
	// to include the sample.
	_ = s.persist()
}

// RecoverInflight rewrites every record left in "running" (a ghost from a
// previous process) to failed, appends a synthetic attempt block to its
// log, and returns the affected ids so the caller can broadcast the change
// (spec.md §4.1 "Crash recovery"). Must be called once, after Load.
func (s *Store) RecoverInflight() []string {
	s.mu.Lock()
	var ghosts []*promptdomain.Prompt
	for _, p := range s.prompts {
		if p.Status == promptdomain.StatusRunning {
			ghosts = append(ghosts, p)
		}
	}
	s.mu.Unlock()

	var ids []string
	for _, g := range ghosts {
		now := s.now()
		summary := "Prompt interrupted when backend restarted; marked as failed"
		if err := AppendAttempt(g.LogPath, promptdomain.Attempt{
			ReceivedAt:    g.CreatedAt,
			PromptText:    g.Text,
			ResultSummary: summary,
			Status:        string(promptdomain.StatusFailed),
			CompletedAt:   now,
		}); err != nil {
			// best-effort audit trail; the status rewrite below is what matters
			_ = err
		}
		if _, err := s.Fail(g.ID, summary); err == nil {
			ids = append(ids, g.ID)
		}
	}
	return ids
}
