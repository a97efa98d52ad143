// Package worker implements the Prompt Worker (spec.md §4.4): the single
// serial loop that pulls one prompt at a time, drives it through Branch
// Discipline and the Scope Guard Runner, and reflects the outcome back
// into the Prompt Store and Event Hub.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ulfur/nightshift/internal/branchdiscipline"
	"github.com/ulfur/nightshift/internal/config"
	"github.com/ulfur/nightshift/internal/external"
	"github.com/ulfur/nightshift/internal/fileutil"
	"github.com/ulfur/nightshift/internal/git"
	"github.com/ulfur/nightshift/internal/promptdomain"
	"github.com/ulfur/nightshift/internal/runner"
	"github.com/ulfur/nightshift/internal/store"
)

// Broadcaster is the subset of the Event Hub the Worker pushes updates
// through.
type Broadcaster interface {
	Broadcast(envType string, payload any, targets ...string)
}

const takeNextTimeout = 2 * time.Second

// Worker is the single-threaded prompt executor.
type Worker struct {
	store    *store.Store
	runner   *runner.Runner
	hub      Broadcaster
	registry external.ProjectRegistry
	bdCfg    config.BranchDisciplineConfig
	agent    config.AgentConfig
	log      *slog.Logger

	mu            sync.Mutex
	restartOnCancel map[string]bool
}

// New wires a Worker from its collaborators, per spec.md §9's
// constructor-injection note (no global app-context bag).
func New(st *store.Store, r *runner.Runner, hub Broadcaster, registry external.ProjectRegistry, bdCfg config.BranchDisciplineConfig, agent config.AgentConfig, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		store:           st,
		runner:          r,
		hub:             hub,
		registry:        registry,
		bdCfg:           bdCfg,
		agent:           agent,
		log:             log,
		restartOnCancel: make(map[string]bool),
	}
}

// RequestRestartOnCancel records that a pending cancel for id should
// re-queue the prompt once it lands, consumed by the Worker when it
// decides the prompt's final status (spec.md §4.4 step 9).
func (w *Worker) RequestRestartOnCancel(id string, restart bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restartOnCancel[id] = restart
}

// Cancel forwards a cancel request for id to the Runner, returning false
// if id is not the prompt the Runner has armed.
func (w *Worker) Cancel(id, summary string) bool {
	return w.runner.Cancel(id, summary)
}

func (w *Worker) consumeRestartOnCancel(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	restart := w.restartOnCancel[id]
	delete(w.restartOnCancel, id)
	return restart
}

// Run drives the worker loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.runOnce(ctx)
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	id, ok := w.store.TakeNext(ctx, takeNextTimeout)
	if !ok {
		return
	}

	p, ok := w.store.Get(id)
	if !ok {
		return // concurrent delete
	}

	w.runner.Arm(id)

	p, err := w.store.BeginAttempt(id)
	if err != nil {
		w.log.Error("begin_attempt failed", "prompt_id", id, "error", err)
		return
	}
	w.broadcastPrompt(p)
	w.broadcastQueue()

	proj, projErr := w.resolveProject(p.Project)

	if projErr != nil {
		w.finishFailed(p, fmt.Sprintf("Unknown project %q: %s", p.Project, projErr))
		return
	}

	contextText := w.composeContext(proj, p)

	repo := git.NewRepo(proj.Path)
	repo.EnsureIdentity()
	discipline := branchdiscipline.New(repo, w.bdCfg)

	session, err := discipline.BeginRun(p.ID, p.Text)
	if err != nil {
		w.finishFailed(p, err.Error())
		return
	}

	result, runErr := w.runner.Run(ctx, runner.Input{
		PromptID:     p.ID,
		ProjectID:    p.Project,
		Command:      w.agent.Command,
		Args:         w.agent.Args,
		PromptText:   contextText,
		RepoRoot:     proj.Path,
		Manifest:     proj.Manifest,
		StatusPath:   scopeStatusPath(proj.Path),
		ViolationLog: scopeViolationPath(proj.Path),
		Env: map[string]string{
			"NIGHTSHIFT_PROMPT_ID":    p.ID,
			"NIGHTSHIFT_PROJECT_ID":   p.Project,
			"NIGHTSHIFT_REPO_ROOT":    proj.Path,
			"NIGHTSHIFT_STATUS_FILE":  scopeStatusPath(proj.Path),
			"NIGHTSHIFT_VIOLATION_LOG": scopeViolationPath(proj.Path),
		},
	})
	if runErr != nil {
		result = runner.Result{Summary: fmt.Sprintf("Runner error: %s", runErr), Success: false}
	}

	cleanup, finalizeErr := discipline.FinalizeRun(session)
	summary := result.Summary
	success := result.Success
	var cleanupNotes []string
	if cleanup != nil {
		cleanupNotes = cleanup.Notes
	}
	if finalizeErr != nil {
		success = false
		summary = fmt.Sprintf("%s (cleanup failed: %s)", summary, finalizeErr)
	}

	attempt := promptdomain.Attempt{
		ReceivedAt:    p.UpdatedAt,
		PromptText:    p.Text,
		Context:       contextText,
		ResultSummary: summary,
		CompletedAt:   time.Now().UTC(),
		Stdout:        result.Stdout,
	}
	if len(cleanupNotes) > 0 {
		attempt.Context += "\n\n--- Branch discipline notes ---\n"
		for _, n := range cleanupNotes {
			attempt.Context += n + "\n"
		}
	}

	switch {
	case result.Canceled:
		attempt.Status = string(promptdomain.StatusCanceled)
		_ = store.AppendAttempt(p.LogPath, attempt)
		w.finishCanceled(p, summary)
	case success:
		attempt.Status = string(promptdomain.StatusCompleted)
		_ = store.AppendAttempt(p.LogPath, attempt)
		updated, err := w.store.Complete(p.ID, summary)
		if err != nil {
			w.log.Error("complete failed", "prompt_id", p.ID, "error", err)
			return
		}
		w.publishTerminal(updated)
	default:
		attempt.Status = string(promptdomain.StatusFailed)
		_ = store.AppendAttempt(p.LogPath, attempt)
		updated, err := w.store.Fail(p.ID, summary)
		if err != nil {
			w.log.Error("fail failed", "prompt_id", p.ID, "error", err)
			return
		}
		w.publishTerminal(updated)
	}
}

func (w *Worker) finishFailed(p promptdomain.Prompt, summary string) {
	attempt := promptdomain.Attempt{
		ReceivedAt:    p.UpdatedAt,
		PromptText:    p.Text,
		ResultSummary: summary,
		Status:        string(promptdomain.StatusFailed),
		CompletedAt:   time.Now().UTC(),
	}
	_ = store.AppendAttempt(p.LogPath, attempt)

	updated, err := w.store.Fail(p.ID, summary)
	if err != nil {
		w.log.Error("fail failed", "prompt_id", p.ID, "error", err)
		return
	}
	w.publishTerminal(updated)
}

func (w *Worker) finishCanceled(p promptdomain.Prompt, summary string) {
	updated, err := w.store.Cancel(p.ID, summary)
	if err != nil {
		w.log.Error("cancel failed", "prompt_id", p.ID, "error", err)
		return
	}

	if w.consumeRestartOnCancel(p.ID) {
		requeued, err := w.store.Retry(p.ID)
		if err != nil {
			w.log.Error("retry-after-cancel failed", "prompt_id", p.ID, "error", err)
			w.publishTerminal(updated)
			return
		}
		w.publishTerminal(requeued)
		return
	}

	w.publishTerminal(updated)
}

func (w *Worker) publishTerminal(p promptdomain.Prompt) {
	w.broadcastQueue()
	w.broadcastPrompt(p)
	w.broadcastHealth()
}

func (w *Worker) broadcastPrompt(p promptdomain.Prompt) {
	w.hub.Broadcast("prompt_update", buildBasicPayload(p))
}

func (w *Worker) broadcastQueue() {
	w.hub.Broadcast("queue_snapshot", w.store.List())
}

func (w *Worker) broadcastHealth() {
	w.hub.Broadcast("health", map[string]any{
		"status":  "ok",
		"pending": w.store.PendingCount(),
	})
}

func buildBasicPayload(p promptdomain.Prompt) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"status":         string(p.Status),
		"attempt":        p.Attempt,
		"result_summary": p.ResultSummary,
	}
}

func (w *Worker) resolveProject(projectID string) (*external.Project, error) {
	if w.registry == nil {
		return nil, fmt.Errorf("no project registry configured")
	}
	return w.registry.Resolve(projectID)
}

func (w *Worker) composeContext(proj *external.Project, p promptdomain.Prompt) string {
	ctxText, _ := w.registry.ContextFor(proj.ID)

	var b []byte
	if ctxText != "" {
		b = append(b, []byte(ctxText+"\n\n")...)
	}
	b = append(b, []byte(p.Text)...)

	if p.ReplyTo != "" {
		if prior, ok := w.store.Get(p.ReplyTo); ok && prior.ResultSummary != "" {
			b = append(b, []byte("\n\n--- Prior attempt summary ---\n"+prior.ResultSummary)...)
		}
	}
	return string(b)
}

func scopeStatusPath(repoRoot string) string {
	return fileutil.StatusFilePath(repoRoot)
}

func scopeViolationPath(repoRoot string) string {
	return fileutil.ViolationLogPath(repoRoot)
}
