// Package display implements the Status Surface (spec.md §4.6): the
// e-ink panel renderer fed by queue state, health, and power telemetry.
// Frame composition uses github.com/disintegration/imaging for region
// compositing and golang.org/x/image/font/basicfont for text layout.
package display

import "image"

// Rect is a region on the panel, aligned to the 4-pixel grid (spec.md
// §4.6 "Frame composition").
type Rect struct {
	X, Y, W, H int
}

// Panel abstracts the physical e-ink hardware so tests and non-Pi
// deployments can substitute a FilePanel.
type Panel interface {
	InitFull() error
	DrawFull(img image.Image) error
	DrawPartial(img image.Image, r Rect) error
	Close() error
}
