package scope

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/ulfur/nightshift/internal/git"
)

// fileState is the per-file tuple the tracker compares between snapshots
// (spec.md §4.3.1).
type fileState struct {
	Exists bool
	MtimeNs int64
	Size    int64
}

// DirtyFileTracker snapshots the set of git-interesting paths (modified,
// untracked-and-not-ignored, deleted) and reports which of them changed
// state between scans. Grounded on original_source/scope_guard.py's
// DirtyFileTracker.
type DirtyFileTracker struct {
	repo     *git.Repo
	repoRoot string
	baseline map[string]fileState
}

// NewDirtyFileTracker creates a tracker with an empty baseline; call
// Refresh once before the first Scan to establish the pre-run baseline.
func NewDirtyFileTracker(repo *git.Repo, repoRoot string) *DirtyFileTracker {
	return &DirtyFileTracker{
		repo:     repo,
		repoRoot: repoRoot,
		baseline: make(map[string]fileState),
	}
}

// interestingPaths returns the union of modified, untracked-not-ignored,
// and deleted paths as reported by git.
func (t *DirtyFileTracker) interestingPaths() ([]string, error) {
	seen := make(map[string]struct{})
	var all []string

	add := func(paths []string) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			all = append(all, p)
		}
	}

	modified, err := t.repo.LsFiles("-m")
	if err != nil {
		return nil, err
	}
	add(modified)

	untracked, err := t.repo.LsFiles("-o", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	add(untracked)

	deleted, err := t.repo.LsFiles("-d")
	if err != nil {
		return nil, err
	}
	add(deleted)

	sort.Strings(all)
	return all, nil
}

func (t *DirtyFileTracker) stat(path string) fileState {
	info, err := os.Stat(filepath.Join(t.repoRoot, path))
	if err != nil {
		return fileState{Exists: false}
	}
	return fileState{Exists: true, MtimeNs: info.ModTime().UnixNano(), Size: info.Size()}
}

// Scan computes the current snapshot and returns the sorted set of paths
// whose (exists, mtime, size) tuple differs from the baseline, including
// paths that appeared or disappeared since the baseline was taken.
func (t *DirtyFileTracker) Scan() ([]string, error) {
	current, err := t.snapshot()
	if err != nil {
		return nil, err
	}

	changedSet := make(map[string]struct{})
	for path, state := range current {
		if prior, ok := t.baseline[path]; !ok || prior != state {
			changedSet[path] = struct{}{}
		}
	}
	for path, prior := range t.baseline {
		if _, ok := current[path]; !ok && prior.Exists {
			changedSet[path] = struct{}{}
		}
	}

	changed := make([]string, 0, len(changedSet))
	for path := range changedSet {
		changed = append(changed, path)
	}
	sort.Strings(changed)
	return changed, nil
}

func (t *DirtyFileTracker) snapshot() (map[string]fileState, error) {
	paths, err := t.interestingPaths()
	if err != nil {
		return nil, err
	}
	snap := make(map[string]fileState, len(paths))
	for _, p := range paths {
		snap[p] = t.stat(p)
	}
	return snap, nil
}

// Refresh adopts the current snapshot as the new baseline without
// returning anything, used after a legitimate allow/log-only change so it
// is not re-reported on the next Scan.
func (t *DirtyFileTracker) Refresh() error {
	snap, err := t.snapshot()
	if err != nil {
		return err
	}
	t.baseline = snap
	return nil
}
