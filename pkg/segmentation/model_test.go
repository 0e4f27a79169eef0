package segmentation

import (
	"context"
	"image"
	"testing"

	"github.com/skycam/skycover/pkg/mask"
)

// fakeModel returns a fixed probability map regardless of input.
type fakeModel struct {
	w, h  int
	probs []float32
}

func (f *fakeModel) InputSize() (int, int) { return f.w, f.h }

func (f *fakeModel) Predict(_ context.Context, _ image.Image) (*mask.Float, error) {
	return &mask.Float{W: f.w, H: f.h, Pix: f.probs}, nil
}

func TestSegmentThresholds(t *testing.T) {
	model := &fakeModel{w: 2, h: 2, probs: []float32{0.1, 0.5, 0.6, 0.95}}
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))

	m, err := Segment(context.Background(), model, img, 0.5)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if m.W != 2 || m.H != 2 {
		t.Fatalf("mask should be at model input size, got %dx%d", m.W, m.H)
	}
	// threshold is strict: 0.5 itself stays out
	want := []uint8{0, 0, 1, 1}
	for i, v := range want {
		if m.Pix[i] != v {
			t.Errorf("pixel %d: expected %d, got %d", i, v, m.Pix[i])
		}
	}
}

func TestSegmentRejectsWrongShape(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	if _, err := Segment(context.Background(), &wrongShapeModel{}, img, 0.5); err == nil {
		t.Error("a model returning a differently sized map should be rejected")
	}
}

type wrongShapeModel struct{}

func (w *wrongShapeModel) InputSize() (int, int) { return 4, 4 }

func (w *wrongShapeModel) Predict(_ context.Context, _ image.Image) (*mask.Float, error) {
	return mask.NewFloat(2, 2), nil
}
