// Package composite tiles the most recent frame from each camera slot into
// a single display image, using a 1×1, 1×2, 2×2, or 2×3 grid for clusters
// up to size 6.
package composite

import "github.com/fleetvision/orchestrator/internal/camera"

// Layout is a tile grid shape.
type Layout struct {
	Cols int
	Rows int
}

// LayoutFor returns the tile grid for a cluster of size n. Clusters
// larger than 6 keep growing the 2-row grid rather than failing.
func LayoutFor(n int) Layout {
	switch {
	case n <= 1:
		return Layout{Cols: 1, Rows: 1}
	case n == 2:
		return Layout{Cols: 2, Rows: 1}
	case n <= 4:
		return Layout{Cols: 2, Rows: 2}
	case n <= 6:
		return Layout{Cols: 3, Rows: 2}
	default:
		cols := (n + 1) / 2
		return Layout{Cols: cols, Rows: 2}
	}
}

// Frame is a tiled composite ready for a display sink, always 3-channel
// BGR so a cluster mixing mono and color cameras still produces one
// uniform image.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

// Tile arranges one frame per slot into a single BGR composite. Empty
// slots (a camera with no frame yet) are left black. All input frames are
// assumed to already be at the shared display resolution.
func Tile(slots []camera.Frame, tileWidth, tileHeight int) Frame {
	layout := LayoutFor(len(slots))
	width := layout.Cols * tileWidth
	height := layout.Rows * tileHeight
	out := make([]byte, width*height*3)

	for i, frame := range slots {
		if frame.Pixels == nil {
			continue
		}
		col := i % layout.Cols
		row := i / layout.Cols
		offsetX := col * tileWidth
		offsetY := row * tileHeight
		channels := frame.Channels
		if channels == 0 {
			channels = 1
		}
		blit(out, width, frame.Pixels, frame.Width, frame.Height, channels, offsetX, offsetY, tileWidth, tileHeight)
	}

	return Frame{Pixels: out, Width: width, Height: height}
}

// blit copies a source frame into dst's BGR canvas at (offsetX, offsetY),
// replicating mono samples across all three output channels, cropping
// against the tile's reserved area when the source overruns it.
func blit(dst []byte, dstStride int, src []byte, srcW, srcH, channels, offsetX, offsetY, tileW, tileH int) {
	copyW := srcW
	if copyW > tileW {
		copyW = tileW
	}
	copyH := srcH
	if copyH > tileH {
		copyH = tileH
	}
	for y := 0; y < copyH; y++ {
		for x := 0; x < copyW; x++ {
			srcIdx := (y*srcW + x) * channels
			if srcIdx+channels > len(src) {
				continue
			}
			dstIdx := ((offsetY+y)*dstStride + offsetX + x) * 3
			if channels == 1 {
				v := src[srcIdx]
				dst[dstIdx], dst[dstIdx+1], dst[dstIdx+2] = v, v, v
			} else {
				dst[dstIdx], dst[dstIdx+1], dst[dstIdx+2] = src[srcIdx], src[srcIdx+1], src[srcIdx+2]
			}
		}
	}
}
