package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ulfur/nightshift/internal/promptdomain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(filepath.Join(dir, "state"), filepath.Join(dir, "logs"), 0)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Submit("   ", "proj", ""); err == nil {
		t.Error("Submit with blank text should fail")
	}
}

func TestSubmitQueuesAndPersists(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Submit("do the thing", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if p.Status != promptdomain.StatusQueued {
		t.Errorf("new prompt status = %s, want queued", p.Status)
	}
	if s.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1", s.PendingCount())
	}

	got, ok := s.Get(p.ID)
	if !ok {
		t.Fatal("Get should find the submitted prompt")
	}
	if got.Text != "do the thing" {
		t.Errorf("Get().Text = %q, want %q", got.Text, "do the thing")
	}
}

func TestTakeNextOrdersFIFO(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Submit("first", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := s.Submit("second", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx := context.Background()
	id, ok := s.TakeNext(ctx, time.Second)
	if !ok || id != first.ID {
		t.Fatalf("TakeNext() = %q, %v, want %q, true", id, ok, first.ID)
	}
	id, ok = s.TakeNext(ctx, time.Second)
	if !ok || id != second.ID {
		t.Fatalf("TakeNext() = %q, %v, want %q, true", id, ok, second.ID)
	}
	if s.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after draining, want 0", s.PendingCount())
	}
}

func TestTakeNextTimesOutWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ok := s.TakeNext(ctx, 50*time.Millisecond)
	if ok {
		t.Error("TakeNext on an empty queue should time out with ok=false")
	}
}

func TestTakeNextRespectsContextCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, ok := s.TakeNext(ctx, 5*time.Second)
	if ok {
		t.Error("TakeNext should return ok=false when the context is canceled")
	}
}

func TestBeginAttemptTransitionsToRunning(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Submit("work", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	running, err := s.BeginAttempt(p.ID)
	if err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	if running.Status != promptdomain.StatusRunning {
		t.Errorf("status = %s, want running", running.Status)
	}
	if running.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", running.Attempt)
	}
	if running.StartedAt == nil {
		t.Error("StartedAt should be set after BeginAttempt")
	}
}

func TestCompleteFailCancelTransitions(t *testing.T) {
	tests := []struct {
		name   string
		finish func(s *Store, id string) (promptdomain.Prompt, error)
		want   promptdomain.Status
	}{
		{"Complete", func(s *Store, id string) (promptdomain.Prompt, error) { return s.Complete(id, "ok") }, promptdomain.StatusCompleted},
		{"Fail", func(s *Store, id string) (promptdomain.Prompt, error) { return s.Fail(id, "bad") }, promptdomain.StatusFailed},
		{"Cancel", func(s *Store, id string) (promptdomain.Prompt, error) { return s.Cancel(id, "canceled") }, promptdomain.StatusCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			p, err := s.Submit("work", "proj", "")
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if _, err := s.BeginAttempt(p.ID); err != nil {
				t.Fatalf("BeginAttempt: %v", err)
			}
			final, err := tt.finish(s, p.ID)
			if err != nil {
				t.Fatalf("finish: %v", err)
			}
			if final.Status != tt.want {
				t.Errorf("status = %s, want %s", final.Status, tt.want)
			}
			if final.FinishedAt == nil {
				t.Error("FinishedAt should be set on a terminal transition")
			}
		})
	}
}

func TestRetryRequeuesTerminalPrompt(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Submit("work", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.BeginAttempt(p.ID); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	if _, err := s.Fail(p.ID, "oops"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	retried, err := s.Retry(p.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != promptdomain.StatusQueued {
		t.Errorf("status = %s after Retry, want queued", retried.Status)
	}
	if s.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d after Retry, want 1", s.PendingCount())
	}
}

func TestRetryRejectsRunningPrompt(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Submit("work", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.BeginAttempt(p.ID); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	if _, err := s.Retry(p.ID); err == nil {
		t.Error("Retry should reject a running prompt")
	}
}

func TestEditRequiresQueuedAndNonEmptyText(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Submit("original", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	edited, err := s.Edit(p.ID, "revised")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Text != "revised" {
		t.Errorf("Text = %q, want %q", edited.Text, "revised")
	}

	if _, err := s.Edit(p.ID, "  "); err == nil {
		t.Error("Edit with blank text should fail")
	}

	if _, err := s.BeginAttempt(p.ID); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	if _, err := s.Edit(p.ID, "too late"); err == nil {
		t.Error("Edit on a running prompt should fail")
	}
}

func TestDeleteOnlyAllowsQueued(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Submit("work", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.BeginAttempt(p.ID); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	if _, err := s.Delete(p.ID); err == nil {
		t.Error("Delete should reject a running prompt")
	}

	q, err := s.Submit("other work", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Delete(q.ID); err != nil {
		t.Fatalf("Delete on a queued prompt should succeed: %v", err)
	}
	if _, ok := s.Get(q.ID); ok {
		t.Error("deleted prompt should no longer be retrievable")
	}
	if s.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d after deleting the only queued prompt, want 0", s.PendingCount())
	}
}

func TestListOrdersByCreatedAtDescending(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Submit("first", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := s.Submit("second", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d items, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("List() order = [%s, %s], want newest first [%s, %s]", list[0].ID, list[1].ID, second.ID, first.ID)
	}
}

func TestPersistAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	logsDir := filepath.Join(dir, "logs")

	s1 := New(stateDir, logsDir, 0)
	if err := s1.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, err := s1.Submit("durable work", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	s2 := New(stateDir, logsDir, 0)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := s2.Get(p.ID)
	if !ok {
		t.Fatal("reloaded store should contain the persisted prompt")
	}
	if got.Text != "durable work" {
		t.Errorf("reloaded Text = %q, want %q", got.Text, "durable work")
	}
	if s2.PendingCount() != 1 {
		t.Errorf("reloaded PendingCount() = %d, want 1", s2.PendingCount())
	}
}

func TestRecoverInflightFailsGhostRunningPrompts(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	logsDir := filepath.Join(dir, "logs")

	s1 := New(stateDir, logsDir, 0)
	if err := s1.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, err := s1.Submit("interrupted work", "proj", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s1.BeginAttempt(p.ID); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}

	s2 := New(stateDir, logsDir, 0)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ids := s2.RecoverInflight()
	if len(ids) != 1 || ids[0] != p.ID {
		t.Fatalf("RecoverInflight() = %v, want [%s]", ids, p.ID)
	}

	got, ok := s2.Get(p.ID)
	if !ok {
		t.Fatal("recovered prompt should still exist")
	}
	if got.Status != promptdomain.StatusFailed {
		t.Errorf("status = %s after recovery, want failed", got.Status)
	}
	if got.ResultSummary == "" {
		t.Error("recovered prompt should have a non-empty result summary")
	}
}
