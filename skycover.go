// Package skycover analyzes ground-based sky images and videos for cloud
// cover. It segments cloud pixels, restricts them to the visible sky
// aperture, converts the covered fraction to the meteorological okta
// scale and classifies the dominant cloud type.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/skycam/skycover"
//		"github.com/skycam/skycover/internal/config"
//	)
//
//	func main() {
//		cfg, err := config.Load(".", "skycover")
//		if err != nil {
//			log.Fatal(err)
//		}
//		pipeline, err := skycover.NewPipeline(cfg, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer pipeline.Close()
//
//		result, err := pipeline.AnalyzeFile(context.Background(), skycover.Request{Path: "sky.jpg"})
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("%.1f%% cover, %d okta (%s), dominant type %s\n",
//			result.Coverage, result.Okta, result.SkyCondition, result.DominantCloudType)
//	}
//
// Results are cached in SQLite keyed by a fingerprint of the file
// content, the model configuration and the run parameters, so repeating
// an identical analysis never re-invokes the models.
package skycover

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skycam/skycover/internal/config"
	"github.com/skycam/skycover/internal/utils"
	"github.com/skycam/skycover/pkg/analyzer"
	"github.com/skycam/skycover/pkg/artifacts"
	"github.com/skycam/skycover/pkg/classification"
	"github.com/skycam/skycover/pkg/fingerprint"
	"github.com/skycam/skycover/pkg/history"
	"github.com/skycam/skycover/pkg/mask"
	"github.com/skycam/skycover/pkg/media"
	"github.com/skycam/skycover/pkg/roi"
	"github.com/skycam/skycover/pkg/segmentation"
	"github.com/skycam/skycover/pkg/types"
	"github.com/skycam/skycover/pkg/video"
)

// Version of the skycover library
const Version = "1.0.0"

// Request describes one file to analyze.
type Request struct {
	Path string

	// ROIMethod defaults to automatic aperture detection. Manual methods
	// require Shapes drawn on a canvas of CanvasWidth x CanvasHeight;
	// zero canvas dimensions mean the shapes are in frame coordinates.
	ROIMethod    types.ROIMethod
	Shapes       []roi.Shape
	CanvasWidth  int
	CanvasHeight int

	// IntervalSeconds is the sampling interval for videos. Zero uses the
	// configured default. Ignored for still images.
	IntervalSeconds float64

	// OverlayVideo additionally renders the sampled frames' overlays into
	// an MP4 spread over the source duration. Ignored for still images.
	OverlayVideo bool

	// Progress, when non-nil, receives per-frame progress for videos.
	Progress video.Progress
}

// BatchItem pairs one request's outcome with its input path.
type BatchItem struct {
	Path   string
	Result *types.AnalysisResult
	Cached bool
	Err    error
}

// Pipeline wires the models, the analysis cache and the artifact store
// into one entry point.
type Pipeline struct {
	config       *config.Config
	analyzer     *analyzer.Analyzer
	aggregator   *video.Aggregator
	store        *history.Store
	artifacts    *artifacts.Store
	pipelineHash string
	logger       *slog.Logger
}

// NewPipeline builds a Pipeline from configuration. The classification
// backend is chosen by cfg.Models.Classification.Backend.
func NewPipeline(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	segModel, err := segmentation.NewClient(
		cfg.Models.Segmentation.URL,
		cfg.Models.Segmentation.Weights,
		cfg.Models.Segmentation.InputSize[0],
		cfg.Models.Segmentation.InputSize[1],
	)
	if err != nil {
		return nil, err
	}
	clsModel, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}

	return NewPipelineWithModels(cfg, &analyzer.Registry{
		Segmentation:   segModel,
		Classification: clsModel,
	}, logger)
}

// NewPipelineWithModels builds a Pipeline around caller-supplied models,
// which is how tests inject fakes.
func NewPipelineWithModels(cfg *config.Config, registry *analyzer.Registry, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pipelineHash, err := fingerprint.PipelineVersion(cfg.PipelineParams())
	if err != nil {
		return nil, fmt.Errorf("computing pipeline version: %w", err)
	}

	store, err := history.Open(cfg.Paths.Database)
	if err != nil {
		return nil, err
	}
	artifactStore, err := artifacts.NewStore(cfg.Paths.Archives)
	if err != nil {
		store.Close()
		return nil, err
	}

	frameAnalyzer := analyzer.New(registry, cfg.AnalyzerConfig(), logger)
	return &Pipeline{
		config:       cfg,
		analyzer:     frameAnalyzer,
		aggregator:   video.NewAggregator(frameAnalyzer, logger),
		store:        store,
		artifacts:    artifactStore,
		pipelineHash: pipelineHash,
		logger:       logger,
	}, nil
}

func newClassifier(cfg *config.Config) (classification.Model, error) {
	cls := cfg.Models.Classification
	switch cls.Backend {
	case "ollama":
		return classification.NewOllamaModel(cls.URL, cls.OllamaModel, cls.ClassNames)
	case "http":
		return classification.NewClient(cls.URL, cls.Weights, cls.ClassNames)
	default:
		return nil, fmt.Errorf("unknown classification backend %q", cls.Backend)
	}
}

// AnalyzeFile analyzes one image or video file, serving a cached result
// when the same file has been analyzed with the same configuration.
func (p *Pipeline) AnalyzeFile(ctx context.Context, req Request) (*types.AnalysisResult, error) {
	result, _, err := p.analyzeFile(ctx, req)
	return result, err
}

// AnalyzeBatch analyzes several files independently. One file's failure
// does not stop the rest; each item carries its own error.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, reqs []Request) []BatchItem {
	items := make([]BatchItem, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			items = append(items, BatchItem{Path: req.Path, Err: err})
			continue
		}
		result, cached, err := p.analyzeFile(ctx, req)
		if err != nil {
			p.logger.Error("analysis failed", "path", req.Path, "error", err)
		}
		items = append(items, BatchItem{Path: req.Path, Result: result, Cached: cached, Err: err})
	}
	return items
}

// History lists the most recent cached analyses.
func (p *Pipeline) History(ctx context.Context, limit int) ([]*history.Entry, error) {
	return p.store.List(ctx, limit)
}

// DeleteHistoryEntry removes a cached analysis and its artifact files.
func (p *Pipeline) DeleteHistoryEntry(ctx context.Context, id int64) error {
	paths, err := p.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if err := p.artifacts.Remove(paths); err != nil {
		p.logger.Warn("could not remove artifact files", "error", err)
	}
	return nil
}

// Close releases the cache database.
func (p *Pipeline) Close() error {
	return p.store.Close()
}

func (p *Pipeline) analyzeFile(ctx context.Context, req Request) (*types.AnalysisResult, bool, error) {
	mediaType, err := media.DetectType(req.Path)
	if err != nil {
		return nil, false, err
	}

	roiMethod := req.ROIMethod
	if roiMethod == "" {
		roiMethod = types.ROIAutomatic
	}
	if roiMethod.Manual() && len(req.Shapes) == 0 {
		return nil, false, fmt.Errorf("roi method %s requires drawn shapes", roiMethod)
	}

	interval := req.IntervalSeconds
	if interval <= 0 {
		interval = p.config.Analysis.DefaultIntervalSeconds
	}

	analysisHash, err := p.fingerprintRequest(req, roiMethod, mediaType, interval)
	if err != nil {
		return nil, false, err
	}

	if entry, err := p.store.Find(ctx, analysisHash); err == nil {
		p.logger.Info("serving cached analysis", "path", req.Path, "hash", analysisHash[:12])
		result := entry.Result
		return &result, true, nil
	} else if !errors.Is(err, history.ErrNotFound) {
		return nil, false, err
	}

	var result *types.AnalysisResult
	switch mediaType {
	case types.MediaImage:
		result, err = p.analyzeImage(ctx, req)
	case types.MediaVideo:
		result, err = p.analyzeVideo(ctx, req, interval)
	}
	if err != nil {
		return nil, false, err
	}

	entry := &history.Entry{
		AnalysisHash: analysisHash,
		FileName:     utils.SanitizeFilename(filepath.Base(req.Path)),
		MediaType:    mediaType,
		ROIMethod:    roiMethod,
		AnalyzedAt:   time.Now(),
		Result:       *result,
	}
	if err := p.store.Insert(ctx, entry); err != nil {
		p.logger.Warn("could not cache analysis", "path", req.Path, "error", err)
	}
	return result, false, nil
}

func (p *Pipeline) fingerprintRequest(req Request, roiMethod types.ROIMethod, mediaType types.MediaType, interval float64) (string, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", req.Path, err)
	}
	defer f.Close()

	fileHash, err := fingerprint.File(f)
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", req.Path, err)
	}

	cfg := fingerprint.RunConfig{ROIMethod: roiMethod}
	if roiMethod.Manual() {
		cfg.ShapeData = roi.EncodeShapes(req.Shapes)
	}
	if mediaType == types.MediaVideo {
		cfg.IntervalSeconds = interval
	}
	return fingerprint.Analysis(fileHash, p.pipelineHash, cfg), nil
}

func (p *Pipeline) analyzeImage(ctx context.Context, req Request) (*types.AnalysisResult, error) {
	img, err := media.LoadImage(req.Path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", req.Path, err)
	}

	userROI := p.manualROI(req, img)
	result, cloudMask, roiMask, err := p.analyzer.AnalyzeFrameWithMasks(ctx, img, userROI)
	if err != nil {
		return nil, err
	}
	result.FrameCount = 0

	paths, err := p.artifacts.Save(img, cloudMask, roiMask)
	if err != nil {
		// the numeric result stands even when artifacts cannot be written
		p.logger.Warn("could not save artifacts", "path", req.Path, "error", err)
	}
	result.Artifacts = paths
	return result, nil
}

func (p *Pipeline) analyzeVideo(ctx context.Context, req Request, interval float64) (*types.AnalysisResult, error) {
	reader, err := media.OpenVideo(req.Path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var userROI *mask.Mask
	if req.ROIMethod.Manual() {
		// rasterize the shapes once against the first frame's geometry
		first, err := reader.FrameAt(0)
		if err != nil {
			return nil, fmt.Errorf("reading first frame: %w", err)
		}
		userROI = p.manualROI(req, first)
	}

	result, frames, err := p.aggregator.Run(ctx, reader, userROI, interval, req.Progress)
	if err != nil {
		return nil, err
	}

	if paths, err := p.saveVideoArtifacts(reader, frames); err != nil {
		p.logger.Warn("could not save video artifacts", "path", req.Path, "error", err)
	} else {
		result.Artifacts = paths
	}

	if req.OverlayVideo {
		if rel, err := p.writeOverlayVideo(reader, frames); err != nil {
			p.logger.Warn("could not write overlay video", "path", req.Path, "error", err)
		} else {
			result.Artifacts.Overlay = rel
		}
	}
	return result, nil
}

// saveVideoArtifacts stores the first analyzed frame's artifact set as
// the video's visual summary, reusing the masks from the analysis pass.
func (p *Pipeline) saveVideoArtifacts(reader *media.VideoReader, frames []video.FrameResult) (types.ArtifactPaths, error) {
	first := frames[0]
	img, err := reader.FrameAt(first.Index)
	if err != nil {
		return types.ArtifactPaths{}, err
	}
	return p.artifacts.Save(img, first.CloudMask, first.ROIMask)
}

func (p *Pipeline) writeOverlayVideo(reader *media.VideoReader, frames []video.FrameResult) (string, error) {
	overlays := make([]image.Image, 0, len(frames))
	for _, fr := range frames {
		img, err := reader.FrameAt(fr.Index)
		if err != nil {
			return "", fmt.Errorf("re-reading frame %d: %w", fr.Index, err)
		}
		overlays = append(overlays, artifacts.RenderOverlay(img, fr.CloudMask, fr.ROIMask))
	}
	full, rel, err := p.artifacts.OverlayVideoPath()
	if err != nil {
		return "", err
	}
	if err := video.WriteOverlayVideo(full, overlays, reader.Duration()); err != nil {
		return "", err
	}
	return rel, nil
}

func (p *Pipeline) manualROI(req Request, img image.Image) *mask.Mask {
	if !req.ROIMethod.Manual() {
		return nil
	}
	bounds := img.Bounds()
	canvasW, canvasH := req.CanvasWidth, req.CanvasHeight
	if canvasW <= 0 || canvasH <= 0 {
		canvasW, canvasH = bounds.Dx(), bounds.Dy()
	}
	return roi.Rasterize(req.Shapes, canvasW, canvasH, bounds.Dx(), bounds.Dy())
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
