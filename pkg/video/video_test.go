package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycam/skycover/pkg/types"
)

func TestSampleIndices(t *testing.T) {
	tests := []struct {
		name            string
		frameCount      int
		fps             float64
		intervalSeconds float64
		want            []int
	}{
		{"five second steps at 30fps", 300, 30, 5, []int{0, 150}},
		{"fractional fps rounds to nearest", 300, 29.97, 5, []int{0, 150}},
		{"interval longer than video", 100, 30, 5, []int{0}},
		{"sub frame interval floors to one", 5, 30, 0.001, []int{0, 1, 2, 3, 4}},
		{"zero fps falls back to thirty", 90, 0, 1, []int{0, 30, 60}},
		{"empty video", 0, 30, 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SampleIndices(tt.frameCount, tt.fps, tt.intervalSeconds))
		})
	}
}

func frameResult(coverage float64, dominant string, confidences map[string]float64) FrameResult {
	return FrameResult{Result: &types.AnalysisResult{
		Coverage:          coverage,
		DominantCloudType: dominant,
		Confidences:       confidences,
	}}
}

func testCondition(okta int) string {
	conditions := []string{"Clear", "Mostly Clear", "Partly Cloudy", "Cloudy", "Mostly Overcast", "Overcast"}
	idx := okta / 2
	if idx > len(conditions)-1 {
		idx = len(conditions) - 1
	}
	return conditions[idx]
}

func TestAggregateMeanCoverage(t *testing.T) {
	frames := []FrameResult{
		frameResult(20, "Cumulus", map[string]float64{"Cumulus": 0.8}),
		frameResult(40, "Cumulus", map[string]float64{"Cumulus": 0.6}),
		frameResult(60, "Cirrus", map[string]float64{"Cirrus": 0.5}),
	}
	result := Aggregate(frames, testCondition)
	require.NotNil(t, result)

	assert.InDelta(t, 40.0, result.Coverage, 0.01)
	assert.Equal(t, 3, result.Okta)
	assert.Equal(t, "Cumulus", result.DominantCloudType)
	assert.InDelta(t, 0.7, result.Confidences["Cumulus"], 1e-9)
	assert.InDelta(t, 0.5, result.Confidences["Cirrus"], 1e-9)
}

func TestAggregateModeTieBreakFirstSeen(t *testing.T) {
	frames := []FrameResult{
		frameResult(50, "Cirrus", map[string]float64{"Cirrus": 0.9}),
		frameResult(50, "Cumulus", map[string]float64{"Cumulus": 0.9}),
		frameResult(50, "Cumulus", map[string]float64{"Cumulus": 0.9}),
		frameResult(50, "Cirrus", map[string]float64{"Cirrus": 0.9}),
	}
	result := Aggregate(frames, testCondition)
	require.NotNil(t, result)
	assert.Equal(t, "Cirrus", result.DominantCloudType, "earlier appearance wins a tie")
}

func TestAggregateSkipsNotDetectedForMode(t *testing.T) {
	frames := []FrameResult{
		frameResult(0, types.NotDetected, nil),
		frameResult(0, types.NotDetected, nil),
		frameResult(10, "Cirrus", map[string]float64{"Cirrus": 0.4}),
	}
	result := Aggregate(frames, testCondition)
	require.NotNil(t, result)
	assert.Equal(t, "Cirrus", result.DominantCloudType)
}

func TestAggregateAllNotDetected(t *testing.T) {
	frames := []FrameResult{
		frameResult(0, types.NotDetected, nil),
		frameResult(0, types.NotDetected, nil),
	}
	result := Aggregate(frames, testCondition)
	require.NotNil(t, result)
	assert.Equal(t, types.NotDetected, result.DominantCloudType)
	assert.Nil(t, result.Confidences)
	assert.Equal(t, "Clear", result.SkyCondition)
}

func TestAggregateConfidenceAveragedOverAppearances(t *testing.T) {
	// Cirrus appears in the confidence map of only one frame, so its
	// mean divides by one, not by the total frame count
	frames := []FrameResult{
		frameResult(30, "Cumulus", map[string]float64{"Cumulus": 0.8, "Cirrus": 0.3}),
		frameResult(30, "Cumulus", map[string]float64{"Cumulus": 0.6}),
	}
	result := Aggregate(frames, testCondition)
	require.NotNil(t, result)
	assert.InDelta(t, 0.7, result.Confidences["Cumulus"], 1e-9)
	assert.InDelta(t, 0.3, result.Confidences["Cirrus"], 1e-9)

	require.Len(t, result.Predictions, 2)
	assert.Equal(t, "Cumulus", result.Predictions[0].Label)
}

func TestAggregateEmpty(t *testing.T) {
	assert.Nil(t, Aggregate(nil, testCondition))
}

func TestOverlayFPS(t *testing.T) {
	assert.InDelta(t, 2.0, OverlayFPS(20, 10), 1e-9)
	assert.InDelta(t, 1.0, OverlayFPS(5, 0), 1e-9)
}
