// Package external defines the interfaces Nightshift's core consumes from
// collaborators explicitly out of scope for this specification (spec.md
// §1 "Out of scope", §6 "Interfaces consumed from excluded collaborators").
// The core never imports a concrete auth store, project registry, human
// task queue, display manager, or telemetry sensor — only these ports.
package external

import (
	"time"

	"github.com/ulfur/nightshift/internal/scope"
)

// User is the minimal identity payload handed back by Authenticator.
type User struct {
	Email string
	ID    string
}

// Authenticator verifies credentials and opaque bearer tokens.
type Authenticator interface {
	Authenticate(email, password string) (*User, error)
	IssueToken(email string) (string, error)
	VerifyToken(token string) (*User, error)
	UserPayload(u *User) map[string]any
}

// Project is a resolved project entry: where it lives and what it may
// touch.
type Project struct {
	ID       string
	Path     string
	Manifest *scope.Manifest
}

// ProjectRegistry resolves project ids to their working directory, scope
// manifest, and any extra context injected into every prompt run against
// them (spec.md §4.4 "Context composition").
type ProjectRegistry interface {
	Resolve(projectID string) (*Project, error)
	ContextFor(projectID string) (string, error)
	ScopeFor(projectID string) (*scope.Manifest, error)
}

// HumanTask is one entry from the excluded Human Task side-queue, merged
// into the Status Surface's body region alongside agent prompts.
type HumanTask struct {
	ID    string
	Title string
	Done  bool
}

// HumanTaskStore is the excluded collaborator tracking human-authored
// tasks shown alongside agent prompts on the Status Surface.
type HumanTaskStore interface {
	List() ([]HumanTask, error)
	Health() (map[string]any, error)
}

// DisplayManager is the excluded collaborator that owns the physical
// e-ink panel's refresh scheduling; internal/display implements the
// refresh mechanics this interface is requested through.
type DisplayManager interface {
	RequestRefresh(reason string, sections []string)
	ShowOverlay(title string, lines []string, duration time.Duration)
	ClearOverlay()
}

// PowerStatus is a single telemetry reading.
type PowerStatus struct {
	Percent    float64
	Voltage    float64
	ACPower    bool
	State      string
	LowBattery bool
	Timestamp  time.Time
}

// PowerTelemetry is the excluded collaborator reading battery/AC sensors.
type PowerTelemetry interface {
	ReadStatus() (*PowerStatus, error)
}
