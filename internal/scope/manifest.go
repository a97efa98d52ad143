// Package scope implements the project scope manifest (spec.md §3.3): the
// allow/deny/log_only glob lists that bound what the Agent CLI is permitted
// to touch, and the dirty-file tracker the Scope Guard Runner polls after
// every command boundary.
//
// Pattern matching is grounded on the teacher's use of
// github.com/sabhiram/go-gitignore in internal/engine/ignore_test.go.
package scope

import (
	ignore "github.com/sabhiram/go-gitignore"
)

// Classification is the outcome of matching a path against a Manifest.
type Classification int

const (
	Allow Classification = iota
	Deny
	LogOnly
)

func (c Classification) String() string {
	switch c {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case LogOnly:
		return "log_only"
	default:
		return "unknown"
	}
}

// Manifest holds a project's three ordered glob lists, compiled once at
// load time.
type Manifest struct {
	Description string

	allowPatterns  []string
	denyPatterns   []string
	logOnlyPatterns []string

	allow   *ignore.GitIgnore
	deny    *ignore.GitIgnore
	logOnly *ignore.GitIgnore
}

// NewManifest compiles the three pattern lists. Any list may be empty.
func NewManifest(description string, allow, deny, logOnly []string) *Manifest {
	m := &Manifest{
		Description:     description,
		allowPatterns:   allow,
		denyPatterns:    deny,
		logOnlyPatterns: logOnly,
	}
	if len(allow) > 0 {
		m.allow = ignore.CompileIgnoreLines(allow...)
	}
	if len(deny) > 0 {
		m.deny = ignore.CompileIgnoreLines(deny...)
	}
	if len(logOnly) > 0 {
		m.logOnly = ignore.CompileIgnoreLines(logOnly...)
	}
	return m
}

// FallbackManifest allows only the project's own root subtree, denying
// nothing else (spec.md §3.3 "Fallback manifest").
func FallbackManifest() *Manifest {
	return NewManifest("default: project root only", []string{"**"}, nil, nil)
}

// Classify applies the spec.md §3.3 precedence: deny wins, then
// allow-nonempty-exclusion, then log_only, then allow.
func (m *Manifest) Classify(path string) Classification {
	if m.deny != nil && m.deny.MatchesPath(path) {
		return Deny
	}
	if m.allow != nil && !m.allow.MatchesPath(path) {
		return Deny
	}
	if m.logOnly != nil && m.logOnly.MatchesPath(path) {
		return LogOnly
	}
	return Allow
}

// AllowPatterns, DenyPatterns, LogOnlyPatterns expose the raw pattern
// lists, used by the REST layer to echo a project's configured scope.
func (m *Manifest) AllowPatterns() []string   { return m.allowPatterns }
func (m *Manifest) DenyPatterns() []string    { return m.denyPatterns }
func (m *Manifest) LogOnlyPatterns() []string { return m.logOnlyPatterns }
