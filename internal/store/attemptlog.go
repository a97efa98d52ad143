package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ulfur/nightshift/internal/promptdomain"
)

const (
	headerPrefix = "=== Prompt received at "
	headerSuffix = " ==="
	footerPrefix = "=== Elapsed seconds "
	footerSuffix = " ==="
)

// AppendAttempt writes one structured block to the prompt's append-only log
// file, creating the log directory and file as needed (spec.md §3.2).
func AppendAttempt(logPath string, a promptdomain.Attempt) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening attempt log: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s%s\n", headerPrefix, a.ReceivedAt.UTC().Format(time.RFC3339Nano), headerSuffix)
	fmt.Fprintf(&b, "Status: %s\n", a.Status)
	fmt.Fprintf(&b, "Completed at: %s\n", a.CompletedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Result: %s\n\n", a.ResultSummary)
	b.WriteString("--- Prompt text ---\n")
	b.WriteString(a.PromptText)
	b.WriteString("\n\n--- Context ---\n")
	b.WriteString(a.Context)
	b.WriteString("\n\n--- Stdout ---\n")
	b.WriteString(a.Stdout)
	b.WriteString("\n\n--- Stderr ---\n")
	b.WriteString(a.Stderr)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s%s%s\n\n", footerPrefix, strconv.FormatFloat(a.ElapsedSecs, 'f', -1, 64), footerSuffix)

	_, err = f.WriteString(b.String())
	return err
}

// ParseAttempts reconstitutes the ordered list of attempts from a log file
// previously written by AppendAttempt. A missing file yields an empty,
// non-error result (a prompt that has never run has no log yet).
func ParseAttempts(logPath string) ([]promptdomain.Attempt, error) {
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading attempt log: %w", err)
	}

	var attempts []promptdomain.Attempt
	lines := strings.Split(string(data), "\n")

	var cur *promptdomain.Attempt
	var section string
	var buf strings.Builder

	flushSection := func() {
		if cur == nil {
			return
		}
		// Every section ends with the line break after its text plus the
		// blank line AppendAttempt writes before the next marker.
		text := strings.TrimSuffix(buf.String(), "\n\n")
		switch section {
		case "prompt":
			cur.PromptText = text
		case "context":
			cur.Context = text
		case "stdout":
			cur.Stdout = text
		case "stderr":
			cur.Stderr = text
		}
		buf.Reset()
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, headerPrefix) && strings.HasSuffix(line, headerSuffix):
			flushSection()
			ts := strings.TrimSuffix(strings.TrimPrefix(line, headerPrefix), headerSuffix)
			t, _ := time.Parse(time.RFC3339Nano, ts)
			cur = &promptdomain.Attempt{ReceivedAt: t}
			section = ""
		case cur != nil && strings.HasPrefix(line, "Status: "):
			cur.Status = strings.TrimPrefix(line, "Status: ")
		case cur != nil && strings.HasPrefix(line, "Completed at: "):
			t, _ := time.Parse(time.RFC3339Nano, strings.TrimPrefix(line, "Completed at: "))
			cur.CompletedAt = t
		case cur != nil && strings.HasPrefix(line, "Result: "):
			cur.ResultSummary = strings.TrimPrefix(line, "Result: ")
		case line == "--- Prompt text ---":
			flushSection()
			section = "prompt"
		case line == "--- Context ---":
			flushSection()
			section = "context"
		case line == "--- Stdout ---":
			flushSection()
			section = "stdout"
		case line == "--- Stderr ---":
			flushSection()
			section = "stderr"
		case cur != nil && strings.HasPrefix(line, footerPrefix) && strings.HasSuffix(line, footerSuffix):
			flushSection()
			secs := strings.TrimSuffix(strings.TrimPrefix(line, footerPrefix), footerSuffix)
			f, _ := strconv.ParseFloat(secs, 64)
			cur.ElapsedSecs = f
			attempts = append(attempts, *cur)
			cur = nil
			section = ""
		default:
			if cur != nil && section != "" {
				buf.WriteString(line)
				buf.WriteString("\n")
			}
		}
	}
	return attempts, nil
}

// tailLines returns the last n lines of a file's content. Nothing in
// nightshiftd calls it. Best-effort: returns "" on any read error.
func tailLines(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var all []string
	for sc.Scan() {
		all = append(all, sc.Text())
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return strings.Join(all, "\n")
}
