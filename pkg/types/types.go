package types

// ROIMethod selects how the region of interest is derived for a file.
type ROIMethod string

const (
	// ROIAutomatic detects the circular sky aperture from the image itself.
	ROIAutomatic ROIMethod = "automatic"
	// ROIManualRect uses a user-drawn rectangle.
	ROIManualRect ROIMethod = "manual_rect"
	// ROIManualPolygon uses a user-drawn closed polygon.
	ROIManualPolygon ROIMethod = "manual_polygon"
	// ROIManualCircle uses a user-drawn line interpreted as a circle diameter.
	ROIManualCircle ROIMethod = "manual_circle"
)

// Manual reports whether the method relies on user-drawn geometry.
func (m ROIMethod) Manual() bool {
	return m != ROIAutomatic && m != ""
}

// MediaType distinguishes still images from videos in results and history.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// NotDetected is the dominant cloud type reported when classification
// produced no prediction above the confidence threshold, or when the
// masked classification input was entirely black.
const NotDetected = "Not detected"

// Prediction is a single classification output: a cloud type label with
// its confidence in [0,1]. Prediction lists are always ordered by
// descending confidence, ties broken by the model's native class order.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ArtifactPaths holds the stored locations of the visual artifacts for one
// analysis. Empty fields mean the artifact could not be persisted; the
// numeric result is still valid in that case.
type ArtifactPaths struct {
	Original string `json:"original,omitempty"`
	Mask     string `json:"mask,omitempty"`
	Overlay  string `json:"overlay,omitempty"`
}

// AnalysisResult is the outcome of analyzing a single frame, or the
// aggregated outcome of a video. Coverage is a percentage of the ROI area,
// not of the full image. Confidences carries only cloud types that were
// actually reported; an absent key means "no confidence available" rather
// than zero.
type AnalysisResult struct {
	Coverage          float64            `json:"cloud_coverage"`
	Okta              int                `json:"okta_value"`
	SkyCondition      string             `json:"sky_condition"`
	DominantCloudType string             `json:"dominant_cloud_type"`
	Confidences       map[string]float64 `json:"cloud_type_confidences,omitempty"`
	Predictions       []Prediction       `json:"raw_predictions,omitempty"`
	Artifacts         ArtifactPaths      `json:"artifacts"`

	// FrameCount is the number of frames that were successfully analyzed.
	// Zero for still images, >= 1 for videos.
	FrameCount int `json:"frame_count,omitempty"`
}
