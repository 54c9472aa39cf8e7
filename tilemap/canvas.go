package tilemap

import (
	"image"
	"math"

	"github.com/go-spatial/geom"
	xdraw "golang.org/x/image/draw"
)

// Canvas is a Painter drawing onto an RGBA image that covers a rectangle in
// display coordinates. DeviceRatio is the number of image pixels per display unit.
type Canvas struct {
	Image       *image.RGBA
	Origin      geom.Point
	DeviceRatio float64
}

// NewCanvas returns a transparent canvas covering rect.
func NewCanvas(rect geom.Extent, deviceRatio float64) *Canvas {
	if deviceRatio <= 0 {
		deviceRatio = 1.0
	}
	w := int(math.Ceil((rect[2]-rect[0])*deviceRatio - gridEpsilon))
	h := int(math.Ceil((rect[3]-rect[1])*deviceRatio - gridEpsilon))
	return &Canvas{
		Image:       image.NewRGBA(image.Rect(0, 0, max(w, 0), max(h, 0))),
		Origin:      geom.Point{rect[0], rect[1]},
		DeviceRatio: deviceRatio,
	}
}

// DrawImage composites img with its top-left corner at position. Images whose
// pixel density differs from the canvas are scaled bilinearly.
func (c *Canvas) DrawImage(position geom.Point, img image.Image, ratio float64) {
	if ratio <= 0 {
		ratio = 1.0
	}
	src := img.Bounds()
	scale := c.DeviceRatio / ratio
	x := (position.X() - c.Origin.X()) * c.DeviceRatio
	y := (position.Y() - c.Origin.Y()) * c.DeviceRatio
	dst := image.Rect(
		int(math.Round(x)), int(math.Round(y)),
		int(math.Round(x+float64(src.Dx())*scale)), int(math.Round(y+float64(src.Dy())*scale)),
	)
	if !dst.Overlaps(c.Image.Bounds()) {
		return
	}
	if dst.Dx() == src.Dx() && dst.Dy() == src.Dy() {
		xdraw.Draw(c.Image, dst, img, src.Min, xdraw.Over)
		return
	}
	xdraw.BiLinear.Scale(c.Image, dst, img, src, xdraw.Over, nil)
}
