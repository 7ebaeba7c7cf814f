package camera

// Resize nearest-neighbor scales a canonical image (channels 1 or 3) from
// (srcW, srcH) to (dstW, dstH). Kept on plain arithmetic rather than a
// vendored resampler: see DESIGN.md for why no corpus library covers 8-bit
// nearest-neighbor resize outside the GUI layer, which is out of scope.
func Resize(pixels []byte, srcW, srcH, channels, dstW, dstH int) []byte {
	if srcW == dstW && srcH == dstH {
		out := make([]byte, len(pixels))
		copy(out, pixels)
		return out
	}
	out := make([]byte, dstW*dstH*channels)
	for dy := 0; dy < dstH; dy++ {
		sy := dy * srcH / dstH
		for dx := 0; dx < dstW; dx++ {
			sx := dx * srcW / dstW
			srcIdx := (sy*srcW + sx) * channels
			dstIdx := (dy*dstW + dx) * channels
			if srcIdx+channels > len(pixels) {
				continue
			}
			copy(out[dstIdx:dstIdx+channels], pixels[srcIdx:srcIdx+channels])
		}
	}
	return out
}

// DisplayWidth and DisplayHeight are the fixed composite-tile resolution
// frames are resized to before publication.
const (
	DisplayWidth  = 640
	DisplayHeight = 480
)
