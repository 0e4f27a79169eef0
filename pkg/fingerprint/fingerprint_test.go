package fingerprint

import (
	"bytes"
	"errors"
	"testing"

	"github.com/skycam/skycover/pkg/types"
)

func validParams() PipelineParams {
	return PipelineParams{
		SegmentationWeights:   "weights/clouddeeplab_v3plus.pt",
		SegmentationInputSize: [2]int{512, 512},
		ClassificationWeights: "weights/cloudcls_v8.pt",
		ConfidenceThreshold:   0.05,
		SegmentationThreshold: 0.5,
	}
}

func TestFileFingerprintContentOnly(t *testing.T) {
	data := []byte("the same sky, twice")

	first, err := File(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	second, err := File(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if first != second {
		t.Error("identical bytes must produce identical fingerprints")
	}
	if first != Bytes(data) {
		t.Error("streamed and in-memory digests must agree")
	}

	other, err := File(bytes.NewReader([]byte("a different sky")))
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if first == other {
		t.Error("different bytes must produce different fingerprints")
	}
}

func TestFileFingerprintLargeInput(t *testing.T) {
	// spans several read chunks
	data := bytes.Repeat([]byte{0xAB}, fileChunkSize*3+17)
	got, err := File(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if got != Bytes(data) {
		t.Error("chunked digest must match single-shot digest")
	}
}

func TestPipelineVersionStable(t *testing.T) {
	first, err := PipelineVersion(validParams())
	if err != nil {
		t.Fatalf("PipelineVersion: %v", err)
	}
	second, err := PipelineVersion(validParams())
	if err != nil {
		t.Fatalf("PipelineVersion: %v", err)
	}
	if first != second {
		t.Error("equal params must hash identically")
	}

	changed := validParams()
	changed.SegmentationThreshold = 0.6
	third, err := PipelineVersion(changed)
	if err != nil {
		t.Fatalf("PipelineVersion: %v", err)
	}
	if first == third {
		t.Error("changing a threshold must change the pipeline hash")
	}
}

func TestPipelineVersionFailsLoudly(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PipelineParams)
	}{
		{"no segmentation weights", func(p *PipelineParams) { p.SegmentationWeights = "" }},
		{"no classification weights", func(p *PipelineParams) { p.ClassificationWeights = "" }},
		{"zero input size", func(p *PipelineParams) { p.SegmentationInputSize = [2]int{0, 512} }},
		{"zero confidence threshold", func(p *PipelineParams) { p.ConfidenceThreshold = 0 }},
		{"zero segmentation threshold", func(p *PipelineParams) { p.SegmentationThreshold = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			if _, err := PipelineVersion(p); !errors.Is(err, ErrMissingConfig) {
				t.Errorf("expected ErrMissingConfig, got %v", err)
			}
		})
	}
}

func TestAnalysisFingerprintSensitivity(t *testing.T) {
	base := Analysis("fhash", "phash", RunConfig{ROIMethod: types.ROIAutomatic})

	if base != Analysis("fhash", "phash", RunConfig{ROIMethod: types.ROIAutomatic}) {
		t.Error("identical inputs must produce identical fingerprints")
	}
	if base == Analysis("other", "phash", RunConfig{ROIMethod: types.ROIAutomatic}) {
		t.Error("file hash must participate in the fingerprint")
	}
	if base == Analysis("fhash", "other", RunConfig{ROIMethod: types.ROIAutomatic}) {
		t.Error("pipeline hash must participate in the fingerprint")
	}
	if base == Analysis("fhash", "phash", RunConfig{ROIMethod: types.ROIManualRect}) {
		t.Error("ROI method must participate in the fingerprint")
	}
	if base == Analysis("fhash", "phash", RunConfig{ROIMethod: types.ROIAutomatic, IntervalSeconds: 5}) {
		t.Error("a configured interval must change the fingerprint")
	}
}

func TestAnalysisFingerprintManualShape(t *testing.T) {
	withShape := Analysis("f", "p", RunConfig{
		ROIMethod: types.ROIManualRect,
		ShapeData: `[{"kind":"rect","left":0,"top":0,"width":10,"height":10}]`,
	})
	otherShape := Analysis("f", "p", RunConfig{
		ROIMethod: types.ROIManualRect,
		ShapeData: `[{"kind":"rect","left":5,"top":5,"width":10,"height":10}]`,
	})
	if withShape == otherShape {
		t.Error("different manual geometry must change the fingerprint")
	}

	// a manual method with no shape data gets the explicit placeholder
	empty := Analysis("f", "p", RunConfig{ROIMethod: types.ROIManualRect})
	placeholder := Analysis("f", "p", RunConfig{ROIMethod: types.ROIManualRect, ShapeData: "no_canvas"})
	if empty != placeholder {
		t.Error("absent shape data must hash like the no_canvas placeholder")
	}

	// shape data is ignored for the automatic method
	auto := Analysis("f", "p", RunConfig{ROIMethod: types.ROIAutomatic, ShapeData: "ignored"})
	if auto != Analysis("f", "p", RunConfig{ROIMethod: types.ROIAutomatic}) {
		t.Error("shape data must not affect automatic-ROI fingerprints")
	}
}
