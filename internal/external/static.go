package external

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ulfur/nightshift/internal/config"
	"github.com/ulfur/nightshift/internal/scope"
)

// StaticAuthenticator is a minimal shared-secret Authenticator: any email
// is accepted when the password equals the shared secret, tokens are opaque random
// hex strings tracked in memory. It exists only so nightshiftd is
// runnable standalone — it is explicitly not the excluded production Auth
// collaborator from spec.md §1.
type StaticAuthenticator struct {
	secret string

	mu     sync.Mutex
	tokens map[string]*User
}

// NewStaticAuthenticator builds an Authenticator that accepts sharedSecret
// as a bearer token for a single operator identity.
func NewStaticAuthenticator(sharedSecret string) *StaticAuthenticator {
	return &StaticAuthenticator{secret: sharedSecret, tokens: make(map[string]*User)}
}

func (a *StaticAuthenticator) Authenticate(email, password string) (*User, error) {
	if subtle.ConstantTimeCompare([]byte(password), []byte(a.secret)) != 1 {
		return nil, fmt.Errorf("invalid credentials")
	}
	return &User{Email: email, ID: email}, nil
}

func (a *StaticAuthenticator) IssueToken(email string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(buf)

	a.mu.Lock()
	a.tokens[token] = &User{Email: email, ID: email}
	a.mu.Unlock()

	return token, nil
}

func (a *StaticAuthenticator) VerifyToken(token string) (*User, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1 {
		return &User{Email: "operator", ID: "operator"}, nil
	}
	a.mu.Lock()
	u, ok := a.tokens[token]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown or expired token")
	}
	return u, nil
}

func (a *StaticAuthenticator) UserPayload(u *User) map[string]any {
	return map[string]any{"email": u.Email, "id": u.ID}
}

// ConfigProjectRegistry resolves projects from the static config.yaml
// projects map (spec.md §4.4). It is a default adapter, not the excluded
// production project registry. The projects map can be swapped at runtime
// via Reload, so a config-file watcher can hot-reload project definitions
// without restarting the daemon.
type ConfigProjectRegistry struct {
	mu       sync.RWMutex
	projects map[string]config.Project
}

// NewConfigProjectRegistry builds a ProjectRegistry over cfg's projects
// map. Each project's scope manifest is compiled on every Resolve or
// ScopeFor call, not up front.
func NewConfigProjectRegistry(projects map[string]config.Project) *ConfigProjectRegistry {
	return &ConfigProjectRegistry{projects: projects}
}

// Reload atomically replaces the registry's project set, e.g. after a
// config file change is picked up by an fsnotify watcher.
func (r *ConfigProjectRegistry) Reload(projects map[string]config.Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = projects
}

func (r *ConfigProjectRegistry) lookup(projectID string) (config.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[projectID]
	return p, ok
}

func (r *ConfigProjectRegistry) manifestFor(p config.Project) *scope.Manifest {
	if len(p.AllowPatterns) == 0 && len(p.DenyPatterns) == 0 && len(p.LogOnlyPatterns) == 0 {
		return scope.FallbackManifest()
	}
	return scope.NewManifest(p.ScopeManifest, p.AllowPatterns, p.DenyPatterns, p.LogOnlyPatterns)
}

func (r *ConfigProjectRegistry) Resolve(projectID string) (*Project, error) {
	p, ok := r.lookup(projectID)
	if !ok {
		return nil, fmt.Errorf("unknown project %q", projectID)
	}
	return &Project{ID: projectID, Path: p.Path, Manifest: r.manifestFor(p)}, nil
}

func (r *ConfigProjectRegistry) ContextFor(projectID string) (string, error) {
	p, ok := r.lookup(projectID)
	if !ok {
		return "", fmt.Errorf("unknown project %q", projectID)
	}
	return p.Context, nil
}

func (r *ConfigProjectRegistry) ScopeFor(projectID string) (*scope.Manifest, error) {
	p, ok := r.lookup(projectID)
	if !ok {
		return nil, fmt.Errorf("unknown project %q", projectID)
	}
	return r.manifestFor(p), nil
}

// NopPowerTelemetry reports no telemetry; used when no sensor is attached.
type NopPowerTelemetry struct{}

func (NopPowerTelemetry) ReadStatus() (*PowerStatus, error) {
	return nil, nil
}

// NopHumanTaskStore reports an empty human task list; used when no human
// task side-queue is wired in.
type NopHumanTaskStore struct{}

func (NopHumanTaskStore) List() ([]HumanTask, error) { return nil, nil }
func (NopHumanTaskStore) Health() (map[string]any, error) {
	return map[string]any{"tasks": 0}, nil
}
