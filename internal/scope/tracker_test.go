package scope

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ulfur/nightshift/internal/git"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
	return string(out)
}

func newTrackerTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "config", "user.name", "scope-test")
	runGit(t, dir, "config", "user.email", "scope-test@localhost")

	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("original\n"), 0o644); err != nil {
		t.Fatalf("write tracked.txt: %v", err)
	}
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func TestDirtyFileTrackerScanAfterRefreshIsClean(t *testing.T) {
	dir := newTrackerTestRepo(t)
	tr := NewDirtyFileTracker(git.NewRepo(dir), dir)
	if err := tr.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	changed, err := tr.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("Scan() right after Refresh() = %v, want empty", changed)
	}
}

func TestDirtyFileTrackerDetectsModifiedTrackedFile(t *testing.T) {
	dir := newTrackerTestRepo(t)
	tr := NewDirtyFileTracker(git.NewRepo(dir), dir)
	if err := tr.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("modified\n"), 0o644); err != nil {
		t.Fatalf("modify tracked.txt: %v", err)
	}

	changed, err := tr.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !containsPath(changed, "tracked.txt") {
		t.Errorf("Scan() = %v, want it to include tracked.txt", changed)
	}
}

func TestDirtyFileTrackerDetectsNewUntrackedFile(t *testing.T) {
	dir := newTrackerTestRepo(t)
	tr := NewDirtyFileTracker(git.NewRepo(dir), dir)
	if err := tr.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new\n"), 0o644); err != nil {
		t.Fatalf("write new.txt: %v", err)
	}

	changed, err := tr.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !containsPath(changed, "new.txt") {
		t.Errorf("Scan() = %v, want it to include new.txt", changed)
	}
}

func TestDirtyFileTrackerDetectsDeletedFile(t *testing.T) {
	dir := newTrackerTestRepo(t)
	tr := NewDirtyFileTracker(git.NewRepo(dir), dir)
	if err := tr.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "tracked.txt")); err != nil {
		t.Fatalf("remove tracked.txt: %v", err)
	}

	changed, err := tr.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !containsPath(changed, "tracked.txt") {
		t.Errorf("Scan() = %v, want it to include deleted tracked.txt", changed)
	}
}

func TestDirtyFileTrackerRefreshAdoptsNewBaseline(t *testing.T) {
	dir := newTrackerTestRepo(t)
	tr := NewDirtyFileTracker(git.NewRepo(dir), dir)
	if err := tr.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new\n"), 0o644); err != nil {
		t.Fatalf("write new.txt: %v", err)
	}
	changed, err := tr.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !containsPath(changed, "new.txt") {
		t.Fatalf("Scan() before Refresh = %v, want it to include new.txt", changed)
	}

	if err := tr.Refresh(); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	changed, err = tr.Scan()
	if err != nil {
		t.Fatalf("Scan after second Refresh: %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("Scan() after adopting new.txt into the baseline = %v, want empty", changed)
	}
}

func containsPath(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}
