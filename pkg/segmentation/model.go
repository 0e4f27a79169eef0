// Package segmentation wraps an external pixel-classification model behind
// a small adapter: the caller hands in a frame, the adapter normalizes it
// to the model's input resolution and turns the returned probability map
// into a binary cloud mask.
package segmentation

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/skycam/skycover/pkg/mask"
)

// Model is the external segmentation network. Predict returns a cloud
// probability map at the model's fixed input resolution. Implementations
// are long-lived and must be safe for sequential reuse.
type Model interface {
	// InputSize reports the fixed width and height the model expects.
	InputSize() (w, h int)
	// Predict runs inference on an image already resized to InputSize.
	Predict(ctx context.Context, img image.Image) (*mask.Float, error)
}

// Segment resizes img to the model's input resolution, runs inference and
// binarizes the probability map at threshold. The returned mask is at the
// model's input resolution; callers resize it back to the source frame
// with nearest-neighbor sampling.
func Segment(ctx context.Context, m Model, img image.Image, threshold float64) (*mask.Mask, error) {
	w, h := m.InputSize()
	resized := imaging.Resize(img, w, h, imaging.Lanczos)

	probs, err := m.Predict(ctx, resized)
	if err != nil {
		return nil, fmt.Errorf("segmentation inference: %w", err)
	}
	if probs.W != w || probs.H != h {
		return nil, fmt.Errorf("segmentation: model returned %dx%d map, expected %dx%d", probs.W, probs.H, w, h)
	}
	return probs.Threshold(threshold), nil
}
