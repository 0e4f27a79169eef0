package analyzer

import (
	"context"
	"image"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycam/skycover/pkg/mask"
	"github.com/skycam/skycover/pkg/types"
)

// fakeSegModel returns a fixed probability field regardless of input.
type fakeSegModel struct {
	w, h  int
	probs []float32
}

func (m *fakeSegModel) InputSize() (int, int) { return m.w, m.h }

func (m *fakeSegModel) Predict(_ context.Context, _ image.Image) (*mask.Float, error) {
	f := mask.NewFloat(m.w, m.h)
	copy(f.Pix, m.probs)
	return f, nil
}

// fakeClsModel returns fixed per-class confidences and records whether it
// was invoked.
type fakeClsModel struct {
	classes []string
	scores  []float64
	called  bool
}

func (m *fakeClsModel) Classes() []string { return m.classes }

func (m *fakeClsModel) Predict(_ context.Context, _ image.Image) ([]float64, error) {
	m.called = true
	return m.scores, nil
}

func uniformProbs(n int, v float32) []float32 {
	p := make([]float32, n)
	for i := range p {
		p[i] = v
	}
	return p
}

// leftHalfProbs marks the left half of a w x h field cloudy.
func leftHalfProbs(w, h int) []float32 {
	p := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			p[y*w+x] = 0.9
		}
	}
	return p
}

func grayImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 128
		img.Pix[i+1] = 128
		img.Pix[i+2] = 128
		img.Pix[i+3] = 255
	}
	return img
}

func newTestAnalyzer(seg *fakeSegModel, cls *fakeClsModel) *Analyzer {
	return New(&Registry{Segmentation: seg, Classification: cls}, DefaultConfig(), slog.Default())
}

func TestAnalyzeFrameHalfCoverage(t *testing.T) {
	const size = 16
	seg := &fakeSegModel{w: size, h: size, probs: leftHalfProbs(size, size)}
	cls := &fakeClsModel{classes: []string{"Cumulus", "Cirrus"}, scores: []float64{0.8, 0.1}}
	a := newTestAnalyzer(seg, cls)

	userROI := mask.Ones(size, size)
	result, err := a.AnalyzeFrame(context.Background(), grayImage(size, size), userROI)
	require.NoError(t, err)

	assert.InDelta(t, 50.0, result.Coverage, 0.01)
	assert.Equal(t, 4, result.Okta)
	assert.Equal(t, "Partly Cloudy", result.SkyCondition)
	assert.Equal(t, "Cumulus", result.DominantCloudType)
	assert.True(t, cls.called)
	assert.InDelta(t, 0.8, result.Confidences["Cumulus"], 1e-9)
}

func TestAnalyzeFrameEmptyROI(t *testing.T) {
	const size = 8
	seg := &fakeSegModel{w: size, h: size, probs: uniformProbs(size*size, 0.9)}
	cls := &fakeClsModel{classes: []string{"Cumulus"}, scores: []float64{0.9}}
	a := newTestAnalyzer(seg, cls)

	// all-zero but non-nil ROI falls back to automatic detection, so use
	// a one-pixel ROI covering a black corner to exercise the guard
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	userROI := mask.New(size, size)
	userROI.Set(0, 0, 1)

	result, err := a.AnalyzeFrame(context.Background(), img, userROI)
	require.NoError(t, err)

	assert.Equal(t, types.NotDetected, result.DominantCloudType)
	assert.False(t, cls.called, "classifier must not run on an all-black crop")
	assert.Nil(t, result.Confidences)
}

func TestAnalyzeFrameCoverageNormalizedToROI(t *testing.T) {
	const size = 16
	seg := &fakeSegModel{w: size, h: size, probs: leftHalfProbs(size, size)}
	cls := &fakeClsModel{classes: []string{"Cumulus"}, scores: []float64{0.9}}
	a := newTestAnalyzer(seg, cls)

	// ROI restricted to the left half, which is fully cloudy
	userROI := mask.New(size, size)
	userROI.FillRect(0, 0, size/2, size)

	result, err := a.AnalyzeFrame(context.Background(), grayImage(size, size), userROI)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, result.Coverage, 0.01)
	assert.Equal(t, 8, result.Okta)
	assert.Equal(t, "Overcast", result.SkyCondition)
}

func TestAnalyzeFrameMaskResolutionMismatch(t *testing.T) {
	// model output at 8x8 gets resized up to the 32x32 frame
	seg := &fakeSegModel{w: 8, h: 8, probs: leftHalfProbs(8, 8)}
	cls := &fakeClsModel{classes: []string{"Cumulus"}, scores: []float64{0.9}}
	a := newTestAnalyzer(seg, cls)

	result, err := a.AnalyzeFrame(context.Background(), grayImage(32, 32), mask.Ones(32, 32))
	require.NoError(t, err)

	assert.InDelta(t, 50.0, result.Coverage, 0.01)
}

func TestAnalyzeFrameBelowThresholdPredictions(t *testing.T) {
	const size = 8
	seg := &fakeSegModel{w: size, h: size, probs: uniformProbs(size*size, 0.9)}
	cls := &fakeClsModel{classes: []string{"Cumulus", "Cirrus"}, scores: []float64{0.01, 0.02}}
	a := newTestAnalyzer(seg, cls)

	result, err := a.AnalyzeFrame(context.Background(), grayImage(size, size), mask.Ones(size, size))
	require.NoError(t, err)

	assert.Equal(t, types.NotDetected, result.DominantCloudType)
	assert.True(t, cls.called)
	assert.Empty(t, result.Predictions)
}

func TestOkta(t *testing.T) {
	tests := []struct {
		coverage float64
		want     int
	}{
		{0, 0},
		{5, 0},
		{6.25, 1},
		{50, 4},
		{93.75, 8},
		{100, 8},
		{120, 8},
		{-3, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Okta(tt.coverage), "coverage %v", tt.coverage)
	}
}

func TestSkyConditionClamped(t *testing.T) {
	a := New(&Registry{}, DefaultConfig(), nil)

	assert.Equal(t, "Clear", a.SkyCondition(0))
	assert.Equal(t, "Clear", a.SkyCondition(1))
	assert.Equal(t, "Mostly Clear", a.SkyCondition(2))
	assert.Equal(t, "Partly Cloudy", a.SkyCondition(4))
	assert.Equal(t, "Overcast", a.SkyCondition(8))
	assert.Equal(t, "Overcast", a.SkyCondition(20))
}

func TestAnalyzeFrameDeterministic(t *testing.T) {
	const size = 16
	seg := &fakeSegModel{w: size, h: size, probs: leftHalfProbs(size, size)}
	cls := &fakeClsModel{classes: []string{"Cumulus"}, scores: []float64{0.7}}
	a := newTestAnalyzer(seg, cls)

	img := grayImage(size, size)
	first, err := a.AnalyzeFrame(context.Background(), img, mask.Ones(size, size))
	require.NoError(t, err)
	second, err := a.AnalyzeFrame(context.Background(), img, mask.Ones(size, size))
	require.NoError(t, err)

	assert.Equal(t, first.Coverage, second.Coverage)
	assert.Equal(t, first.Okta, second.Okta)
	assert.Equal(t, first.DominantCloudType, second.DominantCloudType)
}
