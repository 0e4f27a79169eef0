// Package analyzer composes ROI derivation, segmentation and
// classification into one deterministic function from a frame to an
// analysis result: coverage, okta, sky condition and dominant cloud type.
package analyzer

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/skycam/skycover/pkg/classification"
	"github.com/skycam/skycover/pkg/mask"
	"github.com/skycam/skycover/pkg/roi"
	"github.com/skycam/skycover/pkg/segmentation"
	"github.com/skycam/skycover/pkg/types"
)

// Registry holds the long-lived model instances the analyzer depends on.
// It is constructed once at process start and passed in explicitly, which
// keeps the analyzer's model dependency visible and testable with fakes.
type Registry struct {
	Segmentation   segmentation.Model
	Classification classification.Model
}

// Config holds the analysis thresholds and the okta-to-condition table.
type Config struct {
	SegmentationThreshold float64
	ConfidenceThreshold   float64
	TopK                  int
	// SkyConditions maps okta ranges to condition names, indexed by
	// min(okta/2, len-1). Ordered from clear to overcast.
	SkyConditions []string
}

// DefaultConfig returns the standard analysis configuration.
func DefaultConfig() Config {
	return Config{
		SegmentationThreshold: 0.5,
		ConfidenceThreshold:   0.05,
		TopK:                  3,
		SkyConditions: []string{
			"Clear", "Mostly Clear", "Partly Cloudy",
			"Cloudy", "Mostly Overcast", "Overcast",
		},
	}
}

// mismatchTolerancePx is the largest mask/ROI size difference that is
// still treated as harmless rounding from independent resize paths.
// Anything larger likely signals an upstream logic error and is logged.
const mismatchTolerancePx = 3

// Analyzer runs the per-frame analysis pipeline.
type Analyzer struct {
	registry *Registry
	config   Config
	logger   *slog.Logger
}

// New creates an Analyzer over the given model registry.
func New(registry *Registry, config Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{registry: registry, config: config, logger: logger}
}

// AnalyzeFrame analyzes one frame. userROI overrides automatic aperture
// detection when non-nil and non-empty. The result carries coverage, okta,
// sky condition and classification output; artifact paths are left for
// the caller.
func (a *Analyzer) AnalyzeFrame(ctx context.Context, img image.Image, userROI *mask.Mask) (*types.AnalysisResult, error) {
	result, _, _, err := a.AnalyzeFrameWithMasks(ctx, img, userROI)
	return result, err
}

// AnalyzeFrameWithMasks behaves like AnalyzeFrame but also returns the
// final cloud mask and the ROI mask for artifact rendering. Both masks
// are at the reconciled frame resolution.
func (a *Analyzer) AnalyzeFrameWithMasks(ctx context.Context, img image.Image, userROI *mask.Mask) (*types.AnalysisResult, *mask.Mask, *mask.Mask, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	roiMask := userROI
	if roiMask == nil || roiMask.Empty() {
		roiMask = roi.DetectCircle(img)
	}

	rawMask, err := segmentation.Segment(ctx, a.registry.Segmentation, img, a.config.SegmentationThreshold)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("segmenting frame: %w", err)
	}
	segMask := rawMask.ResizeNearest(width, height)

	if dw, dh := abs(segMask.W-roiMask.W), abs(segMask.H-roiMask.H); dw > mismatchTolerancePx || dh > mismatchTolerancePx {
		a.logger.Warn("large mask dimension mismatch",
			"seg_size", fmt.Sprintf("%dx%d", segMask.W, segMask.H),
			"roi_size", fmt.Sprintf("%dx%d", roiMask.W, roiMask.H))
	}
	// crop both to the common area; stretching or padding would invent
	// geometry that was never observed
	finalMask := mask.And(segMask, roiMask)
	roiMask = roiMask.Crop(finalMask.W, finalMask.H)

	coverage := 0.0
	if roiPixels := roiMask.Sum(); roiPixels > 0 {
		coverage = 100 * float64(finalMask.Sum()) / float64(roiPixels)
	}
	okta := Okta(coverage)

	result := &types.AnalysisResult{
		Coverage:          coverage,
		Okta:              okta,
		SkyCondition:      a.SkyCondition(okta),
		DominantCloudType: types.NotDetected,
	}

	// classification sees the original pixels inside the ROI and black
	// everywhere else
	masked := roiMask.ApplyTo(img)
	if roiMask.Empty() || allBlack(masked) {
		// nothing visible: report "not detected" without calling the
		// model, which could hallucinate on an all-black input
		return result, finalMask, roiMask, nil
	}

	preds, err := classification.Classify(ctx, a.registry.Classification, masked, a.config.TopK, a.config.ConfidenceThreshold)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("classifying frame: %w", err)
	}
	if len(preds) > 0 {
		result.DominantCloudType = preds[0].Label
		result.Predictions = preds
		result.Confidences = make(map[string]float64, len(preds))
		for _, p := range preds {
			result.Confidences[p.Label] = p.Confidence
		}
	}
	return result, finalMask, roiMask, nil
}

// Okta converts a coverage percentage to the meteorological eighths scale,
// an integer in [0,8].
func Okta(coverage float64) int {
	okta := int(math.Round(coverage / 100 * 8))
	if okta < 0 {
		okta = 0
	}
	if okta > 8 {
		okta = 8
	}
	return okta
}

// SkyCondition maps an okta value onto the configured condition list.
// The index is clamped so okta 8 resolves to the last (overcast) entry.
func (a *Analyzer) SkyCondition(okta int) string {
	conditions := a.config.SkyConditions
	if len(conditions) == 0 {
		return ""
	}
	idx := okta / 2
	if idx > len(conditions)-1 {
		idx = len(conditions) - 1
	}
	return conditions[idx]
}

func allBlack(img *image.NRGBA) bool {
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 || img.Pix[i+1] != 0 || img.Pix[i+2] != 0 {
			return false
		}
	}
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
