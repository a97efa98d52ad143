package fileutil

import "path/filepath"

// NightshiftSubdir builds a path to a subdirectory within a project's
// .nightshift working area (scope status files, violation logs).
func NightshiftSubdir(repoDir, subdir string) string {
	return filepath.Join(repoDir, ".nightshift", subdir)
}

// StatusFilePath returns the path to the scope status file nightshiftd
// overwrites each time a scan declares a violation or a guard failure
// (spec.md §4.3 "Scope status file").
func StatusFilePath(repoDir string) string {
	return NightshiftSubdir(repoDir, "scope-status.json")
}

// ViolationLogPath returns the path to the append-only JSONL violation log.
func ViolationLogPath(repoDir string) string {
	return NightshiftSubdir(repoDir, "violations.jsonl")
}
