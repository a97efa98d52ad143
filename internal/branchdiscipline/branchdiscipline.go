// Package branchdiscipline implements the per-prompt git branch lifecycle
// (spec.md §4.2): fork a branch off base, let the Scope Guard Runner work
// on it, fast-forward it back, and expose a rollback path keyed off the
// commit shas a finalize produced.
//
// Grounded on the teacher's internal/engine rebase/cleanup flow (abort-
// then-reset-on-conflict) and generalized beyond the teacher's
// per-station-chain model to one session per prompt attempt.
package branchdiscipline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ulfur/nightshift/internal/git"
)

// Session is the per-attempt branch-session metadata (spec.md §3.4).
type Session struct {
	PromptID   string
	BranchName string
	BaseBranch string
	BaseCommit string
	Notes      []string
}

func (s *Session) note(format string, args ...any) {
	s.Notes = append(s.Notes, fmt.Sprintf(format, args...))
}

// Cleanup is the result of a successful FinalizeRun.
type Cleanup struct {
	MergeHead string
	// Commits lists the commit shas brought in by the merge, in
	// commit-date-ascending order, for use by Rollback.
	Commits []string
	Notes   []string
}

// RollbackResult is the result of a successful Rollback.
type RollbackResult struct {
	RevertCommit string
	Notes        []string
}

// Config governs slug derivation and the operational toggles (spec.md
// §4.2 "Disabling flag", "Dry-run mode").
type Config struct {
	Enabled       bool
	BaseBranch    string
	BranchPrefix  string
	DryRun        bool
	AllowDirty    bool
	SlugWordCount int
	SlugMaxChars  int
}

// Discipline wraps a git.Repo with the configured policy.
type Discipline struct {
	repo *git.Repo
	cfg  Config
}

// New constructs a Discipline over repo using cfg. Zero-value word/char
// counts are defaulted (6 words, 48 chars) to match spec.md §4.2.
func New(repo *git.Repo, cfg Config) *Discipline {
	if cfg.SlugWordCount == 0 {
		cfg.SlugWordCount = 6
	}
	if cfg.SlugMaxChars == 0 {
		cfg.SlugMaxChars = 48
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &Discipline{repo: repo, cfg: cfg}
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives the branch-name slug from prompt text (spec.md §4.2 "Slug
// derivation").
func Slug(text string, wordCount, maxChars int) string {
	lower := strings.ToLower(text)
	collapsed := nonAlnumRun.ReplaceAllString(lower, " ")
	words := strings.Fields(collapsed)
	if len(words) > wordCount {
		words = words[:wordCount]
	}
	slug := strings.Join(words, "-")
	if len(slug) > maxChars {
		slug = slug[:maxChars]
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "update"
	}
	return slug
}

func (d *Discipline) branchName(promptID, text string) string {
	slug := Slug(text, d.cfg.SlugWordCount, d.cfg.SlugMaxChars)
	return fmt.Sprintf("%s%s-%s", d.cfg.BranchPrefix, promptID, slug)
}

// BeginRun forks a fresh branch off the base for this prompt attempt. A
// nil, nil return means Branch Discipline is disabled and the caller
// should proceed without a session.
func (d *Discipline) BeginRun(promptID, text string) (*Session, error) {
	if !d.cfg.Enabled {
		return nil, nil
	}
	if d.cfg.DryRun {
		return &Session{
			PromptID:   promptID,
			BranchName: d.branchName(promptID, text),
			BaseBranch: d.cfg.BaseBranch,
			Notes:      []string{"dry-run: no git commands executed"},
		}, nil
	}

	if _, err := d.repo.HeadCommit("HEAD"); err != nil {
		return nil, fmt.Errorf("not inside a git repository: %w", err)
	}

	if !d.cfg.AllowDirty {
		clean, err := d.repo.IsClean()
		if err != nil {
			return nil, fmt.Errorf("checking worktree cleanliness: %w", err)
		}
		if !clean {
			return nil, fmt.Errorf("worktree is dirty: resolve the previous prompt's residue before starting a new one")
		}
	}

	if !d.repo.BranchExists(d.cfg.BaseBranch) {
		return nil, fmt.Errorf("base branch %q does not exist", d.cfg.BaseBranch)
	}
	baseHead, err := d.repo.HeadCommit(d.cfg.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("resolving base branch head: %w", err)
	}

	if err := d.repo.SwitchBranch(d.cfg.BaseBranch); err != nil {
		return nil, fmt.Errorf("switching to base branch: %w", err)
	}

	name := d.branchName(promptID, text)
	if d.repo.BranchExists(name) {
		if err := d.repo.DeleteBranch(name, true); err != nil {
			return nil, fmt.Errorf("deleting stale branch %q: %w", name, err)
		}
	}
	if err := d.repo.CreateBranch(name, d.cfg.BaseBranch); err != nil {
		return nil, fmt.Errorf("creating branch %q: %w", name, err)
	}
	if err := d.repo.SwitchBranch(name); err != nil {
		return nil, fmt.Errorf("switching to branch %q: %w", name, err)
	}

	return &Session{
		PromptID:   promptID,
		BranchName: name,
		BaseBranch: d.cfg.BaseBranch,
		BaseCommit: baseHead,
	}, nil
}

// FinalizeRun requires a clean tree, fast-forward-merges the session's
// branch back into base, and deletes it. nil session (disabled discipline)
// yields a nil, nil no-op.
func (d *Discipline) FinalizeRun(s *Session) (*Cleanup, error) {
	if !d.cfg.Enabled || s == nil {
		return nil, nil
	}
	if d.cfg.DryRun {
		return &Cleanup{Notes: []string{"dry-run: no merge performed"}}, nil
	}

	clean, err := d.repo.IsClean()
	if err != nil {
		return nil, fmt.Errorf("checking worktree cleanliness: %w", err)
	}
	if !clean {
		return nil, fmt.Errorf("worktree is dirty at finalize")
	}

	if err := d.repo.SwitchBranch(s.BaseBranch); err != nil {
		return nil, fmt.Errorf("switching to base branch: %w", err)
	}
	baseHeadBeforeMerge, err := d.repo.HeadCommit(s.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("resolving base head before merge: %w", err)
	}

	if !d.repo.BranchExists(s.BranchName) {
		s.note("branch %s no longer exists at finalize; nothing to merge", s.BranchName)
		return &Cleanup{Notes: s.Notes}, nil
	}

	if err := d.repo.MergeFFOnly(s.BranchName); err != nil {
		return nil, fmt.Errorf("fast-forward merge of %s failed, branch left intact for inspection: %w", s.BranchName, err)
	}

	mergeHead, err := d.repo.HeadCommit(s.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("resolving merge head: %w", err)
	}

	commits, err := d.repo.CommitsBetweenAsc(baseHeadBeforeMerge, mergeHead)
	if err != nil {
		return nil, fmt.Errorf("enumerating merged commits: %w", err)
	}

	if err := d.repo.DeleteBranch(s.BranchName, false); err != nil {
		s.note("merge succeeded but deleting branch %s failed: %v", s.BranchName, err)
	}

	return &Cleanup{MergeHead: mergeHead, Commits: commits, Notes: s.Notes}, nil
}

// Rollback reverts the commits from a prior finalize, newest first, and
// commits the aggregate revert once.
func (d *Discipline) Rollback(promptID, text string, commits []string) (*RollbackResult, error) {
	if !d.cfg.Enabled {
		return nil, nil
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("no commits to roll back")
	}
	if d.cfg.DryRun {
		return &RollbackResult{Notes: []string{"dry-run: no revert performed"}}, nil
	}

	if err := d.repo.SwitchBranch(d.cfg.BaseBranch); err != nil {
		return nil, fmt.Errorf("switching to base branch: %w", err)
	}

	for i := len(commits) - 1; i >= 0; i-- {
		if err := d.repo.RevertNoCommit(commits[i]); err != nil {
			return nil, fmt.Errorf("reverting commit %s: %w", commits[i], err)
		}
	}

	slug := Slug(text, d.cfg.SlugWordCount, d.cfg.SlugMaxChars)
	message := fmt.Sprintf("Revert prompt %s: %s", promptID, slug)
	const messageCap = 120
	if len(message) > messageCap {
		message = message[:messageCap]
	}
	if err := d.repo.CommitAll(message); err != nil {
		return nil, fmt.Errorf("committing revert: %w", err)
	}

	head, err := d.repo.HeadCommit(d.cfg.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("resolving revert commit: %w", err)
	}

	return &RollbackResult{RevertCommit: head}, nil
}
