package display

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Layout is the named-region geometry for a given panel size, with every
// bound aligned to a 4-pixel grid (spec.md §4.6 "Frame composition").
type Layout struct {
	Width, Height int
	HeaderLeft    Rect
	HeaderRight   Rect
	Body          Rect
	FooterLeft    Rect
	FooterRight   Rect
}

func align4(v int) int { return (v / 4) * 4 }

// NewLayout derives a Layout from the panel's pixel dimensions.
func NewLayout(width, height int) Layout {
	headerH := align4(height / 8)
	footerH := align4(height / 10)
	bodyH := align4(height - headerH - footerH)
	halfW := align4(width / 2)

	return Layout{
		Width:       width,
		Height:      height,
		HeaderLeft:  Rect{X: 0, Y: 0, W: halfW, H: headerH},
		HeaderRight: Rect{X: halfW, Y: 0, W: width - halfW, H: headerH},
		Body:        Rect{X: 0, Y: headerH, W: width, H: bodyH},
		FooterLeft:  Rect{X: 0, Y: headerH + bodyH, W: halfW, H: footerH},
		FooterRight: Rect{X: halfW, Y: headerH + bodyH, W: width - halfW, H: footerH},
	}
}

// BodyEntry is one line in the body region's ordered list (spec.md §4.6:
// human tasks first, then agent prompts, with a divider).
type BodyEntry struct {
	Text    string
	Divider bool
}

// State is everything a frame render needs.
type State struct {
	Brand     string
	Subtitle  string
	PowerIcon string
	Entries   []BodyEntry
	Hostname  string
	IP        string
	Footer    string
}

var face = basicfont.Face7x13

// RenderFull composes a full 16-level grayscale frame.
func RenderFull(layout Layout, s State) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, layout.Width, layout.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)

	drawText(img, layout.HeaderLeft, s.Brand+"  "+s.Subtitle)
	drawText(img, layout.HeaderRight, s.PowerIcon)
	drawBody(img, layout.Body, s.Entries)
	drawText(img, layout.FooterLeft, s.Hostname+" "+s.IP)
	drawText(img, layout.FooterRight, s.Footer)

	return imaging.Clone(img).(*image.Gray)
}

// RenderRegion re-renders a single region for a fast monochrome partial
// update.
func RenderRegion(layout Layout, region Rect, text string, entries []BodyEntry) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, region.W, region.H))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)
	if entries != nil {
		drawBody(img, image.Rect(0, 0, region.W, region.H).Bounds(), entries)
	} else {
		drawText(img, Rect{X: 0, Y: 0, W: region.W, H: region.H}, text)
	}
	return img
}

func drawText(img *image.Gray, r Rect, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{Y: 0}),
		Face: face,
		Dot:  fixed.P(r.X+2, r.Y+r.H-4),
	}
	d.DrawString(text)
}

func drawBody(img *image.Gray, r image.Rectangle, entries []BodyEntry) {
	lineHeight := 14
	y := r.Min.Y + lineHeight
	for _, e := range entries {
		if e.Divider {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetGray(x, y-lineHeight/2, color.Gray{Y: 128})
			}
			y += lineHeight / 2
			continue
		}
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.Gray{Y: 0}),
			Face: face,
			Dot:  fixed.P(r.Min.X+2, y),
		}
		d.DrawString(e.Text)
		y += lineHeight
		if y > r.Max.Y {
			break
		}
	}
}

// BlackFrame renders the final shutdown frame: all-black with the brand
// centered (spec.md §4.6 "Cancellation & shutdown").
func BlackFrame(layout Layout, brand string) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, layout.Width, layout.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 0}), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{Y: 255}),
		Face: face,
		Dot:  fixed.P(layout.Width/2-len(brand)*3, layout.Height/2),
	}
	d.DrawString(brand)
	return img
}
