package persist

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/fleetvision/orchestrator/internal/camera"
	"github.com/fleetvision/orchestrator/internal/core"
)

// FrameWriter persists one canonical (non-overlaid) frame to disk.
type FrameWriter interface {
	WriteFrame(frame camera.Frame) error
}

// PNGFrameWriter writes frames to
// <outputDir>/recordings/<session>/<cameraId>_<session>/frame_<timestampNs>.png
// using the standard library's image/png codec.
type PNGFrameWriter struct {
	outputDir string
	session   string
}

// NewPNGFrameWriter creates a writer rooted at outputDir for the given
// session timestamp.
func NewPNGFrameWriter(outputDir, session string) *PNGFrameWriter {
	return &PNGFrameWriter{outputDir: outputDir, session: session}
}

func (w *PNGFrameWriter) WriteFrame(frame camera.Frame) error {
	dir := filepath.Join(w.outputDir, "recordings", w.session, fmt.Sprintf("%s_%s", frame.CameraID, w.session))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating recording directory: %v", core.ErrPersistenceError, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("frame_%d.png", frame.DeviceTimestampNs))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", core.ErrPersistenceError, path, err)
	}
	defer f.Close()

	img := toImage(frame)
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("%w: encoding %s: %v", core.ErrPersistenceError, path, err)
	}
	return nil
}

func toImage(frame camera.Frame) image.Image {
	channels := frame.Channels
	if channels == 0 {
		channels = 1
	}
	if channels == 1 {
		img := image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))
		copy(img.Pix, frame.Pixels)
		return img
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	n := frame.Width * frame.Height
	for i := 0; i < n && i*3+2 < len(frame.Pixels); i++ {
		b := frame.Pixels[i*3+0]
		g := frame.Pixels[i*3+1]
		r := frame.Pixels[i*3+2]
		img.SetRGBA(i%frame.Width, i/frame.Width, color.RGBA{R: r, G: g, B: b, A: 255})
	}
	return img
}
