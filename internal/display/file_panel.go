package display

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
)

// FilePanel writes each frame to a PNG file under dir, standing in for
// real IT8951 e-ink hardware in tests and non-Pi deployments.
type FilePanel struct {
	dir string

	mu    sync.Mutex
	frame int
}

// NewFilePanel creates a FilePanel writing sequential frames under dir.
func NewFilePanel(dir string) *FilePanel {
	return &FilePanel{dir: dir}
}

func (p *FilePanel) InitFull() error {
	return os.MkdirAll(p.dir, 0o755)
}

func (p *FilePanel) nextPath(kind string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame++
	return filepath.Join(p.dir, fmt.Sprintf("frame-%04d-%s.png", p.frame, kind))
}

func (p *FilePanel) writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func (p *FilePanel) DrawFull(img image.Image) error {
	return p.writePNG(p.nextPath("full"), img)
}

func (p *FilePanel) DrawPartial(img image.Image, r Rect) error {
	return p.writePNG(p.nextPath(fmt.Sprintf("partial-%dx%d", r.W, r.H)), img)
}

func (p *FilePanel) Close() error { return nil }
