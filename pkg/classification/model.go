// Package classification wraps an external cloud-type classifier. The
// adapter turns the model's native per-class probabilities into a ranked,
// confidence-filtered top-K prediction list.
package classification

import (
	"context"
	"fmt"
	"image"
	"sort"

	"github.com/skycam/skycover/pkg/types"
)

// Model is the external image classifier. Predict returns one probability
// per class in the model's native class order (aligned with Classes).
// Implementations are long-lived and must be safe for sequential reuse.
type Model interface {
	Classes() []string
	Predict(ctx context.Context, img image.Image) ([]float64, error)
}

// Classify runs the model and post-processes its probabilities: pair with
// class labels, sort descending by confidence (ties keep the model's
// native class order), drop entries at or below threshold, cap at topK.
// An empty result means "no cloud type detected" and is not an error.
func Classify(ctx context.Context, m Model, img image.Image, topK int, threshold float64) ([]types.Prediction, error) {
	probs, err := m.Predict(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("classification inference: %w", err)
	}
	classes := m.Classes()
	if len(probs) != len(classes) {
		return nil, fmt.Errorf("classification: model returned %d probabilities for %d classes", len(probs), len(classes))
	}
	return Rank(classes, probs, topK, threshold), nil
}

// Rank pairs labels with confidences and applies the ordering and
// filtering rules. Exposed separately so aggregation code can re-rank
// averaged confidences the same way.
func Rank(labels []string, confidences []float64, topK int, threshold float64) []types.Prediction {
	preds := make([]types.Prediction, 0, len(labels))
	for i, label := range labels {
		preds = append(preds, types.Prediction{Label: label, Confidence: confidences[i]})
	}
	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Confidence > preds[j].Confidence
	})

	out := preds[:0]
	for _, p := range preds {
		if p.Confidence > threshold {
			out = append(out, p)
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
