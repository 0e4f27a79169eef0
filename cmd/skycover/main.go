package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/skycam/skycover"
	"github.com/skycam/skycover/internal/config"
	"github.com/skycam/skycover/internal/utils"
	"github.com/skycam/skycover/pkg/roi"
	"github.com/skycam/skycover/pkg/types"
)

func main() {
	var in, configDir, roiMethod string
	var interval float64
	var canvasW, canvasH int
	var historyLimit int
	var deleteID int64
	var overlayVideo bool
	var jsonOut bool
	var verbose bool
	var shapes []roi.Shape

	flag.StringVar(&in, "in", "", "input image/video path, or a directory to analyze recursively")
	flag.StringVar(&configDir, "config", ".", "directory containing skycover.yaml")
	flag.StringVar(&roiMethod, "roi", "automatic", "ROI method: automatic|manual_rect|manual_polygon|manual_circle")
	flag.Float64Var(&interval, "interval", 0, "video sampling interval in seconds (0 = configured default)")
	flag.IntVar(&canvasW, "canvasw", 0, "width of the canvas the shapes were drawn on (0 = frame width)")
	flag.IntVar(&canvasH, "canvash", 0, "height of the canvas the shapes were drawn on (0 = frame height)")
	flag.BoolVar(&overlayVideo, "overlayvideo", false, "render an overlay video for video inputs")
	flag.IntVar(&historyLimit, "history", 0, "list the N most recent analyses and exit")
	flag.Int64Var(&deleteID, "delete", 0, "delete the history entry with this id and exit")
	flag.BoolVar(&jsonOut, "json", false, "print results as JSON")
	flag.BoolVar(&verbose, "v", false, "verbose logging")

	flag.Func("rect", "manual rectangle as left,top,width,height (repeatable)", func(s string) error {
		vals, err := parseFloats(s, 4)
		if err != nil {
			return err
		}
		shapes = append(shapes, roi.Rect{Left: vals[0], Top: vals[1], Width: vals[2], Height: vals[3]})
		return nil
	})
	flag.Func("circle", "manual circle as diameter endpoints x1,y1,x2,y2 (repeatable)", func(s string) error {
		vals, err := parseFloats(s, 4)
		if err != nil {
			return err
		}
		shapes = append(shapes, roi.CircleFromLine{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]})
		return nil
	})
	flag.Func("polygon", "manual polygon as x1,y1;x2,y2;... (repeatable)", func(s string) error {
		poly, err := parsePolygon(s)
		if err != nil {
			return err
		}
		shapes = append(shapes, poly)
		return nil
	})

	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configDir, "skycover")
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	pipeline, err := skycover.NewPipeline(cfg, logger)
	if err != nil {
		log.Fatalf("initializing pipeline: %v", err)
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case deleteID > 0:
		if err := pipeline.DeleteHistoryEntry(ctx, deleteID); err != nil {
			log.Fatalf("deleting entry %d: %v", deleteID, err)
		}
		fmt.Printf("deleted entry %d\n", deleteID)
		return
	case historyLimit > 0:
		printHistory(ctx, pipeline, historyLimit, jsonOut)
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -in sky.jpg|clip.mp4|dir [-roi automatic|manual_rect|...] [-rect l,t,w,h] [-interval 5]", filepath.Base(os.Args[0]))
	}

	reqs, err := buildRequests(in, types.ROIMethod(roiMethod), shapes, canvasW, canvasH, interval, overlayVideo)
	if err != nil {
		log.Fatal(err)
	}

	items := pipeline.AnalyzeBatch(ctx, reqs)
	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", item.Path, item.Err)
			continue
		}
		printResult(item, jsonOut)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func buildRequests(in string, method types.ROIMethod, shapes []roi.Shape, canvasW, canvasH int, interval float64, overlayVideo bool) ([]skycover.Request, error) {
	info, err := os.Stat(in)
	if err != nil {
		return nil, err
	}

	paths := []string{in}
	if info.IsDir() {
		paths, err = utils.ListMediaFiles(in)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", in, err)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no image or video files under %s", in)
		}
	}

	reqs := make([]skycover.Request, 0, len(paths))
	for _, path := range paths {
		reqs = append(reqs, skycover.Request{
			Path:            path,
			ROIMethod:       method,
			Shapes:          shapes,
			CanvasWidth:     canvasW,
			CanvasHeight:    canvasH,
			IntervalSeconds: interval,
			OverlayVideo:    overlayVideo,
			Progress: func(done, total int) {
				slog.Debug("frame analyzed", "path", path, "done", done, "total", total)
			},
		})
	}
	return reqs, nil
}

func printResult(item skycover.BatchItem, jsonOut bool) {
	if jsonOut {
		out := struct {
			Path   string                `json:"path"`
			Cached bool                  `json:"cached"`
			Result *types.AnalysisResult `json:"result"`
		}{item.Path, item.Cached, item.Result}
		js, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(js))
		return
	}

	r := item.Result
	cached := ""
	if item.Cached {
		cached = " (cached)"
	}
	fmt.Printf("%s%s\n", item.Path, cached)
	if info, err := os.Stat(item.Path); err == nil {
		fmt.Printf("  size:      %s\n", utils.FormatFileSize(info.Size()))
	}
	fmt.Printf("  coverage:  %.1f%%\n", r.Coverage)
	fmt.Printf("  okta:      %d (%s)\n", r.Okta, r.SkyCondition)
	fmt.Printf("  dominant:  %s\n", r.DominantCloudType)
	for _, p := range r.Predictions {
		fmt.Printf("    %-16s %.2f\n", p.Label, p.Confidence)
	}
	if r.FrameCount > 0 {
		fmt.Printf("  frames:    %d\n", r.FrameCount)
	}
	if r.Artifacts.Overlay != "" {
		fmt.Printf("  overlay:   %s\n", r.Artifacts.Overlay)
	}
}

func printHistory(ctx context.Context, pipeline *skycover.Pipeline, limit int, jsonOut bool) {
	entries, err := pipeline.History(ctx, limit)
	if err != nil {
		log.Fatalf("listing history: %v", err)
	}
	if jsonOut {
		js, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(js))
		return
	}
	for _, e := range entries {
		fmt.Printf("%-4d %s  %-28s %5.1f%%  %d okta  %s\n",
			e.ID, e.AnalyzedAt.Format("2006-01-02 15:04"), e.FileName,
			e.Result.Coverage, e.Result.Okta, e.Result.DominantCloudType)
	}
}

func parseFloats(s string, n int) ([]float64, error) {
	fields := strings.Split(s, ",")
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d comma-separated numbers, got %q", n, s)
	}
	vals := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", f, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func parsePolygon(s string) (roi.Polygon, error) {
	var poly roi.Polygon
	for _, pair := range strings.Split(s, ";") {
		vals, err := parseFloats(pair, 2)
		if err != nil {
			return roi.Polygon{}, err
		}
		poly.Points = append(poly.Points, roi.Point{X: vals[0], Y: vals[1]})
	}
	if len(poly.Points) < 3 {
		return roi.Polygon{}, fmt.Errorf("polygon needs at least 3 points, got %d", len(poly.Points))
	}
	return poly, nil
}
