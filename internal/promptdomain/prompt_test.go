package promptdomain

import (
	"testing"
	"time"
)

func TestCheckTransitionLegal(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
	}{
		{"queued to running", StatusQueued, StatusRunning},
		{"running to completed", StatusRunning, StatusCompleted},
		{"running to failed", StatusRunning, StatusFailed},
		{"running to canceled", StatusRunning, StatusCanceled},
		{"completed to queued (retry)", StatusCompleted, StatusQueued},
		{"failed to queued (retry)", StatusFailed, StatusQueued},
		{"canceled to queued (retry)", StatusCanceled, StatusQueued},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("CheckTransition(%s, %s) panicked: %v", tt.from, tt.to, r)
				}
			}()
			CheckTransition(tt.from, tt.to)
		})
	}
}

func TestCheckTransitionIllegal(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
	}{
		{"queued to completed", StatusQueued, StatusCompleted},
		{"completed to running", StatusCompleted, StatusRunning},
		{"canceled to running", StatusCanceled, StatusRunning},
		{"running to running", StatusRunning, StatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("CheckTransition(%s, %s) did not panic", tt.from, tt.to)
				}
			}()
			CheckTransition(tt.from, tt.to)
		})
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestCloneDeepCopiesPointerFields(t *testing.T) {
	started := time.Now()
	p := Prompt{ID: "p1", StartedAt: &started}
	clone := p.Clone()

	if clone.StartedAt == p.StartedAt {
		t.Fatal("Clone should not share the StartedAt pointer with the original")
	}
	if !clone.StartedAt.Equal(*p.StartedAt) {
		t.Fatal("Clone's StartedAt should have the same value as the original")
	}

	*clone.StartedAt = started.Add(time.Hour)
	if p.StartedAt.Equal(*clone.StartedAt) {
		t.Fatal("mutating the clone's StartedAt should not affect the original")
	}
}

func TestCurrentWaitSecondsOnlyAppliesWhileQueued(t *testing.T) {
	now := time.Now()
	queued := Prompt{Status: StatusQueued, EnqueuedAt: now.Add(-30 * time.Second)}
	if wait := queued.CurrentWaitSeconds(now); wait < 29 || wait > 31 {
		t.Errorf("expected ~30s wait, got %v", wait)
	}

	running := Prompt{Status: StatusRunning, EnqueuedAt: now.Add(-30 * time.Second)}
	if wait := running.CurrentWaitSeconds(now); wait != 0 {
		t.Errorf("expected 0 wait for a running prompt, got %v", wait)
	}
}
