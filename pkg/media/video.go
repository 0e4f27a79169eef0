package media

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrEmptyVideo reports a video with no readable frames.
var ErrEmptyVideo = errors.New("video contains no readable frames")

// defaultFPS is assumed when the container reports a zero or negative
// frame rate, which some phone recordings do.
const defaultFPS = 30.0

// VideoReader provides random access to the frames of a video file.
type VideoReader struct {
	capture *gocv.VideoCapture
	path    string

	fps        float64
	frameCount int
}

// OpenVideo opens path for frame access. Close must be called when done.
func OpenVideo(path string) (*VideoReader, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening video %s: %w", path, err)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = defaultFPS
	}
	frameCount := int(capture.Get(gocv.VideoCaptureFrameCount))
	if frameCount <= 0 {
		capture.Close()
		return nil, ErrEmptyVideo
	}

	return &VideoReader{
		capture:    capture,
		path:       path,
		fps:        fps,
		frameCount: frameCount,
	}, nil
}

// FPS returns the frame rate, falling back to 30 when unreported.
func (r *VideoReader) FPS() float64 { return r.fps }

// FrameCount returns the container's reported frame count.
func (r *VideoReader) FrameCount() int { return r.frameCount }

// Duration returns the video length in seconds.
func (r *VideoReader) Duration() float64 {
	return float64(r.frameCount) / r.fps
}

// FrameAt decodes the frame at the given index. A decode failure returns
// an error the caller may choose to skip; corrupt tail frames are common.
func (r *VideoReader) FrameAt(index int) (image.Image, error) {
	if index < 0 || index >= r.frameCount {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", index, r.frameCount)
	}
	r.capture.Set(gocv.VideoCapturePosFrames, float64(index))

	frame := gocv.NewMat()
	defer frame.Close()
	if ok := r.capture.Read(&frame); !ok || frame.Empty() {
		return nil, fmt.Errorf("decoding frame %d of %s", index, r.path)
	}
	img, err := frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting frame %d: %w", index, err)
	}
	return img, nil
}

// Close releases the underlying capture handle.
func (r *VideoReader) Close() error {
	return r.capture.Close()
}

// VideoWriter encodes frames into an output video file.
type VideoWriter struct {
	writer *gocv.VideoWriter
}

// NewVideoWriter creates an MP4 writer at the given frame rate and size.
func NewVideoWriter(path string, fps float64, width, height int) (*VideoWriter, error) {
	if fps <= 0 {
		fps = 1
	}
	writer, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("creating video writer %s: %w", path, err)
	}
	return &VideoWriter{writer: writer}, nil
}

// WriteFrame appends one frame to the output video.
func (w *VideoWriter) WriteFrame(img image.Image) error {
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("converting frame for encoding: %w", err)
	}
	defer m.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(m, &bgr, gocv.ColorRGBToBGR)
	return w.writer.Write(bgr)
}

// Close finalizes the output file.
func (w *VideoWriter) Close() error {
	return w.writer.Close()
}
