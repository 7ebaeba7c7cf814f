package camera

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var overlayColor = color.RGBA{0, 255, 0, 255}

// rawCanvas adapts a decoded frame's raw pixel buffer (mono, or BGR for
// three channels) directly to image.Image/draw.Image so font.Drawer can burn
// text into it without an intermediate image.RGBA copy.
type rawCanvas struct {
	pixels   []byte
	width    int
	height   int
	channels int
}

func (c *rawCanvas) ColorModel() color.Model { return color.RGBAModel }

func (c *rawCanvas) Bounds() image.Rectangle { return image.Rect(0, 0, c.width, c.height) }

func (c *rawCanvas) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= c.width || y >= c.height {
		return color.RGBA{}
	}
	idx := (y*c.width + x) * c.channels
	if c.channels == 1 {
		v := c.pixels[idx]
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}
	return color.RGBA{R: c.pixels[idx+2], G: c.pixels[idx+1], B: c.pixels[idx], A: 255}
}

func (c *rawCanvas) Set(x, y int, clr color.Color) {
	if x < 0 || y < 0 || x >= c.width || y >= c.height {
		return
	}
	idx := (y*c.width + x) * c.channels
	if idx+c.channels > len(c.pixels) {
		return
	}
	r, g, b, _ := clr.RGBA()
	if c.channels == 1 {
		c.pixels[idx] = byte(r >> 8)
		return
	}
	c.pixels[idx] = byte(b >> 8)
	c.pixels[idx+1] = byte(g >> 8)
	c.pixels[idx+2] = byte(r >> 8)
}

// Overlay burns the camera id, latched device timestamp, and measured FPS
// into the bottom-left corner of a display frame in place: a "Cam: <id>"
// row above a "TS: ... | FPS: ..." row.
func Overlay(frame *Frame, fps float64) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pixels) == 0 {
		return
	}
	canvas := &rawCanvas{
		pixels:   frame.Pixels,
		width:    frame.Width,
		height:   frame.Height,
		channels: frame.Channels,
	}

	tsLine := fmt.Sprintf("TS: %.6f s | FPS: %.2f", float64(frame.DeviceTimestampNs)/1e9, fps)
	camLine := fmt.Sprintf("Cam: %s", frame.CameraID)

	baseY := frame.Height - 6
	drawOverlayLine(canvas, tsLine, baseY)
	drawOverlayLine(canvas, camLine, baseY-14)
}

func drawOverlayLine(dst *rawCanvas, text string, y int) {
	if y < 12 {
		y = 12
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(overlayColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(8), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
