// Package promptdomain holds the Prompt record, attempt history, and the
// state machine that governs valid status transitions. It has no
// dependency on storage, git, or the network layer — those consume this
// package, not the other way around.
package promptdomain

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a Prompt.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether s is one of the three terminal statuses.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Sentinel error kinds. internal/api maps these to HTTP status codes with
// a single errors.Is switch (spec.md §7).
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("state conflict")
)

// Prompt is one durable record in the Prompt Store (spec.md §3.1).
type Prompt struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Project string `json:"project_id,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Status  Status `json:"status"`
	Attempt int    `json:"attempt"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"last_finished_at,omitempty"`

	LastWaitSeconds float64 `json:"last_wait_seconds,omitempty"`
	LastRunSeconds  float64 `json:"last_run_seconds,omitempty"`

	LogPath       string `json:"log_path"`
	ResultSummary string `json:"result_summary,omitempty"`
}

// CurrentWaitSeconds returns the time spent queued so far, relative to now.
// Zero for prompts that are not currently queued.
func (p Prompt) CurrentWaitSeconds(now time.Time) float64 {
	if p.Status != StatusQueued {
		return 0
	}
	return now.Sub(p.EnqueuedAt).Seconds()
}

// Clone returns a deep-enough copy for safe handoff across the Store's
// mutex boundary (no shared pointers to mutable state remain visible).
func (p Prompt) Clone() Prompt {
	clone := p
	if p.StartedAt != nil {
		t := *p.StartedAt
		clone.StartedAt = &t
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		clone.FinishedAt = &t
	}
	return clone
}

// transitions enumerates the legal status graph from spec.md §4.1.1.
var transitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCanceled:  true,
	},
	StatusCompleted: {StatusQueued: true}, // retry
	StatusFailed:    {StatusQueued: true}, // retry
	StatusCanceled:  {StatusQueued: true}, // retry
}

// CheckTransition panics if from->to is not a legal transition. Per
// spec.md §4.1 "Failure model", illegal transitions are a programmer
// error, not a recoverable condition.
func CheckTransition(from, to Status) {
	if !transitions[from][to] {
		panic(fmt.Sprintf("promptdomain: illegal transition %s -> %s", from, to))
	}
}

// Attempt is one structured block parsed out of a prompt's append-only log
// (spec.md §3.2).
type Attempt struct {
	ReceivedAt    time.Time
	PromptText    string
	Context       string
	ResultSummary string
	Status        string
	CompletedAt   time.Time
	ElapsedSecs   float64
	Stdout        string
	Stderr        string
}
