// Package logging builds nightshiftd's structured logger: log/slog with a
// TTY-aware tint handler, enriching the teacher's own (plain fmt.Fprintf)
// logging with the pack's lmittmann/tint + mattn/go-isatty combination.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New builds the root logger. Color output is enabled only when w is a
// real terminal.
func New(w io.Writer, level slog.Level) *slog.Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !color,
	})
	return slog.New(handler)
}

// Default builds the logger nightshiftd uses when no explicit writer is
// configured: stderr at info level.
func Default() *slog.Logger {
	return New(os.Stderr, slog.LevelInfo)
}
