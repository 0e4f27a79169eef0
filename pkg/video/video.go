// Package video samples frames from sky videos, runs per-frame analysis
// and aggregates the frame results into one video-level result.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"

	"github.com/skycam/skycover/pkg/analyzer"
	"github.com/skycam/skycover/pkg/mask"
	"github.com/skycam/skycover/pkg/media"
	"github.com/skycam/skycover/pkg/types"
)

// ErrNoFramesAnalyzed reports that every sampled frame failed to decode
// or analyze.
var ErrNoFramesAnalyzed = errors.New("no frames could be analyzed")

// SampleIndices returns the frame indices to analyze for a video with the
// given frame count and rate, stepping by intervalSeconds of wall time.
// The step is at least one frame, so very short intervals degrade to
// analyzing every frame rather than none.
func SampleIndices(frameCount int, fps, intervalSeconds float64) []int {
	if frameCount <= 0 {
		return nil
	}
	if fps <= 0 {
		fps = 30
	}
	step := int(math.Round(fps * intervalSeconds))
	if step < 1 {
		step = 1
	}
	indices := make([]int, 0, frameCount/step+1)
	for i := 0; i < frameCount; i += step {
		indices = append(indices, i)
	}
	return indices
}

// FrameResult pairs a sampled frame index with its analysis outcome. The
// masks are kept so overlays can be rendered without re-running the models.
type FrameResult struct {
	Index     int
	Result    *types.AnalysisResult
	CloudMask *mask.Mask
	ROIMask   *mask.Mask
}

// Progress is called after each sampled frame with the number done and
// the total sampled. It may be nil.
type Progress func(done, total int)

// Aggregator runs per-frame analysis across a sampled video.
type Aggregator struct {
	analyzer *analyzer.Analyzer
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator over the given frame analyzer.
func NewAggregator(a *analyzer.Analyzer, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{analyzer: a, logger: logger}
}

// Run samples reader at intervalSeconds, analyzes each sampled frame with
// the shared ROI mask and returns the aggregated result plus the
// per-frame results for overlay rendering. Frames that fail to decode or
// analyze are skipped; the run fails only if nothing was analyzable or
// the context is canceled.
func (ag *Aggregator) Run(ctx context.Context, reader *media.VideoReader, userROI *mask.Mask, intervalSeconds float64, progress Progress) (*types.AnalysisResult, []FrameResult, error) {
	indices := SampleIndices(reader.FrameCount(), reader.FPS(), intervalSeconds)
	if len(indices) == 0 {
		return nil, nil, media.ErrEmptyVideo
	}

	frames := make([]FrameResult, 0, len(indices))
	for done, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		img, err := reader.FrameAt(idx)
		if err != nil {
			ag.logger.Warn("skipping undecodable frame", "index", idx, "error", err)
			continue
		}
		result, cloudMask, roiMask, err := ag.analyzer.AnalyzeFrameWithMasks(ctx, img, userROI)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, err
			}
			ag.logger.Warn("skipping frame that failed analysis", "index", idx, "error", err)
			continue
		}
		frames = append(frames, FrameResult{Index: idx, Result: result, CloudMask: cloudMask, ROIMask: roiMask})

		if progress != nil {
			progress(done+1, len(indices))
		}
	}

	if len(frames) == 0 {
		return nil, nil, ErrNoFramesAnalyzed
	}

	agg := Aggregate(frames, ag.analyzer.SkyCondition)
	agg.FrameCount = len(frames)
	return agg, frames, nil
}

// Aggregate combines per-frame results into one video-level result:
// coverage is the mean over analyzed frames, okta derives from that mean,
// the dominant type is the most frequent per-frame dominant with earlier
// appearance winning ties, and each type's confidence is its mean over
// the frames where it appeared.
func Aggregate(frames []FrameResult, condition func(okta int) string) *types.AnalysisResult {
	if len(frames) == 0 {
		return nil
	}

	var coverageSum float64
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	confSums := make(map[string]float64)
	confCounts := make(map[string]int)

	for order, fr := range frames {
		r := fr.Result
		coverageSum += r.Coverage
		if r.DominantCloudType != types.NotDetected {
			if _, ok := firstSeen[r.DominantCloudType]; !ok {
				firstSeen[r.DominantCloudType] = order
			}
			counts[r.DominantCloudType]++
		}
		for label, conf := range r.Confidences {
			confSums[label] += conf
			confCounts[label]++
		}
	}

	coverage := coverageSum / float64(len(frames))
	okta := analyzer.Okta(coverage)

	dominant := types.NotDetected
	bestCount := 0
	for label, n := range counts {
		if n > bestCount || (n == bestCount && firstSeen[label] < firstSeen[dominant]) {
			dominant = label
			bestCount = n
		}
	}

	result := &types.AnalysisResult{
		Coverage:          coverage,
		Okta:              okta,
		SkyCondition:      condition(okta),
		DominantCloudType: dominant,
	}
	if len(confSums) > 0 {
		result.Confidences = make(map[string]float64, len(confSums))
		labels := make([]string, 0, len(confSums))
		for label := range confSums {
			result.Confidences[label] = confSums[label] / float64(confCounts[label])
			labels = append(labels, label)
		}
		sort.Slice(labels, func(i, j int) bool {
			ci, cj := result.Confidences[labels[i]], result.Confidences[labels[j]]
			if ci != cj {
				return ci > cj
			}
			return labels[i] < labels[j]
		})
		result.Predictions = make([]types.Prediction, 0, len(labels))
		for _, label := range labels {
			result.Predictions = append(result.Predictions, types.Prediction{
				Label:      label,
				Confidence: result.Confidences[label],
			})
		}
	}
	return result
}

// OverlayFPS returns the frame rate for an overlay video built from the
// sampled frames, stretched across the source duration so the overlay
// plays back in real time.
func OverlayFPS(sampledFrames int, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 1
	}
	fps := float64(sampledFrames) / durationSeconds
	if fps <= 0 {
		return 1
	}
	return fps
}

// WriteOverlayVideo encodes the rendered overlay frames as an MP4 at a
// rate that spreads them over the source duration.
func WriteOverlayVideo(path string, frames []image.Image, durationSeconds float64) error {
	if len(frames) == 0 {
		return fmt.Errorf("no overlay frames to write")
	}
	bounds := frames[0].Bounds()
	writer, err := media.NewVideoWriter(path, OverlayFPS(len(frames), durationSeconds), bounds.Dx(), bounds.Dy())
	if err != nil {
		return err
	}
	defer writer.Close()

	for i, frame := range frames {
		if err := writer.WriteFrame(frame); err != nil {
			return fmt.Errorf("writing overlay frame %d: %w", i, err)
		}
	}
	return nil
}
