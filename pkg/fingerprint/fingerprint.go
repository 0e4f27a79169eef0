// Package fingerprint computes the content hashes that key the analysis
// cache: a file fingerprint over raw bytes, a pipeline version hash over
// every parameter that can change analysis output, and the combined
// analysis fingerprint used as the cache key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/skycam/skycover/pkg/types"
)

// ErrMissingConfig reports an incomplete pipeline configuration. Hashing an
// incomplete configuration would silently produce a wrong cache key, so the
// hash refuses to compute instead.
var ErrMissingConfig = errors.New("fingerprint: missing pipeline configuration field")

const fileChunkSize = 4096

// File streams r in fixed-size chunks and returns the SHA-256 hex digest of
// its content. The digest depends on bytes only, never on a filename.
func File(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, fileChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("fingerprint: reading file: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the SHA-256 hex digest of b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PipelineParams are the parameters that affect analysis output. Two runs
// with equal params and equal input must produce bit-identical results;
// that determinism is what makes the cache sound.
type PipelineParams struct {
	SegmentationWeights   string  `json:"seg_model"`
	SegmentationInputSize [2]int  `json:"seg_input_size"`
	ClassificationWeights string  `json:"cls_model"`
	ConfidenceThreshold   float64 `json:"cls_threshold"`
	SegmentationThreshold float64 `json:"seg_threshold"`
}

// PipelineVersion hashes the pipeline parameters over a canonical
// sorted-key JSON serialization. Any required field left empty or
// non-positive returns ErrMissingConfig.
func PipelineVersion(p PipelineParams) (string, error) {
	switch {
	case p.SegmentationWeights == "":
		return "", fmt.Errorf("%w: segmentation weights", ErrMissingConfig)
	case p.ClassificationWeights == "":
		return "", fmt.Errorf("%w: classification weights", ErrMissingConfig)
	case p.SegmentationInputSize[0] <= 0 || p.SegmentationInputSize[1] <= 0:
		return "", fmt.Errorf("%w: segmentation input size", ErrMissingConfig)
	case p.ConfidenceThreshold <= 0:
		return "", fmt.Errorf("%w: confidence threshold", ErrMissingConfig)
	case p.SegmentationThreshold <= 0:
		return "", fmt.Errorf("%w: segmentation threshold", ErrMissingConfig)
	}

	// encoding/json marshals struct fields in declaration order; sort the
	// keys explicitly so the serialization stays canonical even if fields
	// are reordered later.
	raw := map[string]any{
		"cls_model":      p.ClassificationWeights,
		"cls_threshold":  p.ConfidenceThreshold,
		"seg_model":      p.SegmentationWeights,
		"seg_input_size": p.SegmentationInputSize,
		"seg_threshold":  p.SegmentationThreshold,
	}
	// json.Marshal on a map sorts keys; that is the canonical form.
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("fingerprint: serializing pipeline params: %w", err)
	}
	return Bytes(data), nil
}

// RunConfig is the per-file configuration that participates in the
// analysis fingerprint. ShapeData is the deterministic serialization of
// the drawn ROI shapes (roi.EncodeShapes); it is only consulted for
// manual ROI methods.
type RunConfig struct {
	ROIMethod ROIMethodString
	ShapeData string
	// IntervalSeconds is the video sampling interval; zero means not
	// configured and is omitted from the fingerprint.
	IntervalSeconds float64
}

// ROIMethodString aliases types.ROIMethod to keep the fingerprint
// serialization explicit at the call site.
type ROIMethodString = types.ROIMethod

// Analysis combines the file fingerprint, the pipeline version hash and
// the run configuration into the cache key. The concatenation order is
// fixed; changing it would split the cache for identical configurations.
func Analysis(fileHash, pipelineHash string, cfg RunConfig) string {
	parts := []string{
		"file:" + fileHash,
		"pipeline:" + pipelineHash,
		"roi_method:" + string(cfg.ROIMethod),
	}
	if cfg.ROIMethod.Manual() {
		shape := cfg.ShapeData
		if shape == "" {
			shape = "no_canvas"
		}
		parts = append(parts, "canvas_data:"+shape)
	}
	if cfg.IntervalSeconds > 0 {
		parts = append(parts, "interval:"+strconv.FormatFloat(cfg.IntervalSeconds, 'g', -1, 64))
	}
	return Bytes([]byte(strings.Join(parts, "|")))
}
