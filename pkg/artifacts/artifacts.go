// Package artifacts renders and persists the visual outputs of an
// analysis: the archived original, the binary cloud mask and an overlay
// with clouds tinted red and the ROI outlined in yellow.
package artifacts

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/skycam/skycover/internal/utils"
	"github.com/skycam/skycover/pkg/mask"
	"github.com/skycam/skycover/pkg/media"
	"github.com/skycam/skycover/pkg/types"
)

const (
	originalName = "original.jpg"
	maskName     = "mask.png"
	overlayName  = "overlay.jpg"
	jpegQuality  = 92

	// cloudAlpha is the opacity of the red cloud tint over the source pixels.
	cloudAlpha = 0.45
)

var (
	cloudTint  = color.NRGBA{R: 255, G: 40, B: 40, A: 255}
	roiOutline = color.NRGBA{R: 255, G: 220, B: 0, A: 255}
)

// Store writes artifacts beneath a root directory, one random directory
// per analysis so repeated runs never clobber each other.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string { return s.root }

// RenderOverlay composes the analysis overlay: source pixels with cloud
// regions tinted red and the ROI boundary drawn in yellow.
func RenderOverlay(img image.Image, cloudMask, roiMask *mask.Mask) *image.NRGBA {
	out := imaging.Clone(img)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if cloudMask.At(x, y) == 0 {
				continue
			}
			i := y*out.Stride + x*4
			out.Pix[i+0] = blend(out.Pix[i+0], cloudTint.R)
			out.Pix[i+1] = blend(out.Pix[i+1], cloudTint.G)
			out.Pix[i+2] = blend(out.Pix[i+2], cloudTint.B)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !roiMask.IsEdge(x, y) {
				continue
			}
			i := y*out.Stride + x*4
			out.Pix[i+0] = roiOutline.R
			out.Pix[i+1] = roiOutline.G
			out.Pix[i+2] = roiOutline.B
		}
	}
	return out
}

func blend(base, tint uint8) uint8 {
	return uint8(float64(base)*(1-cloudAlpha) + float64(tint)*cloudAlpha + 0.5)
}

// Save persists the three image artifacts for one analysis and returns
// their paths relative to the store root, in forward-slash form. A write
// failure is returned for the caller to log; partial artifact sets are
// acceptable and the numeric result stands either way.
func (s *Store) Save(img image.Image, cloudMask, roiMask *mask.Mask) (types.ArtifactPaths, error) {
	dirName := uuid.NewString()
	dir := filepath.Join(s.root, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.ArtifactPaths{}, fmt.Errorf("creating artifact dir: %w", err)
	}

	var paths types.ArtifactPaths
	if err := media.SaveImage(img, filepath.Join(dir, originalName), jpegQuality); err != nil {
		return paths, fmt.Errorf("saving original: %w", err)
	}
	paths.Original = dirName + "/" + originalName

	if err := media.SaveImage(cloudMask.ToImage(), filepath.Join(dir, maskName), jpegQuality); err != nil {
		return paths, fmt.Errorf("saving mask: %w", err)
	}
	paths.Mask = dirName + "/" + maskName

	overlay := RenderOverlay(img, cloudMask, roiMask)
	if err := media.SaveImage(overlay, filepath.Join(dir, overlayName), jpegQuality); err != nil {
		return paths, fmt.Errorf("saving overlay: %w", err)
	}
	paths.Overlay = dirName + "/" + overlayName
	return paths, nil
}

// OverlayVideoPath allocates a destination for an overlay video in a
// fresh artifact dir, returning the absolute path to encode to and the
// store-relative path to record.
func (s *Store) OverlayVideoPath() (string, string, error) {
	dirName := uuid.NewString()
	dir := filepath.Join(s.root, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating artifact dir: %w", err)
	}
	const name = "overlay.mp4"
	return filepath.Join(dir, name), dirName + "/" + name, nil
}

// Remove deletes the artifact files named by paths, ignoring files that
// are already gone. Directories left empty are removed as well.
func (s *Store) Remove(paths types.ArtifactPaths) error {
	var firstErr error
	for _, rel := range []string{paths.Original, paths.Mask, paths.Overlay} {
		if rel == "" {
			continue
		}
		full := filepath.Join(s.root, filepath.FromSlash(rel))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		// ignore the error: the dir may still hold other files
		os.Remove(filepath.Dir(full))
	}
	return firstErr
}
