package movie

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/puc-capture/driver"
)

type pipelineConfig struct {
	Path    string
	Width   int
	Height  int
	FPS     int
	Quality int
}

type pipelineElements struct {
	Pipeline *gst.Pipeline
	Source   *app.Source
}

// createPipeline builds the encoding pipeline in the NULL state.
func createPipeline(cfg pipelineConfig) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	src.SetCaps(gst.NewCapsFromString(buildGrayCaps(cfg.Width, cfg.Height, cfg.FPS)))
	src.SetFormat(gst.FormatTime)
	src.SetProperty("is-live", false)
	src.SetProperty("block", true) // back-pressure instead of unbounded queueing
	src.SetMaxBytes(uint64(frameStride(cfg.Width) * cfg.Height * 8))

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	encoder, err := gst.NewElement("jpegenc")
	if err != nil {
		return nil, fmt.Errorf("failed to create jpegenc: %w", err)
	}
	encoder.SetProperty("quality", cfg.Quality)

	mux, err := gst.NewElement("avimux")
	if err != nil {
		return nil, fmt.Errorf("failed to create avimux: %w", err)
	}
	sink, err := gst.NewElement("filesink")
	if err != nil {
		return nil, fmt.Errorf("failed to create filesink: %w", err)
	}
	sink.SetProperty("location", cfg.Path)

	if err := pipeline.AddMany(src.Element, convert, encoder, mux, sink); err != nil {
		return nil, fmt.Errorf("failed to add movie elements: %w", err)
	}
	if err := gst.ElementLinkMany(src.Element, convert, encoder, mux, sink); err != nil {
		return nil, fmt.Errorf("failed to link movie elements: %w", err)
	}

	slog.Debug("movie: pipeline created",
		"path", cfg.Path,
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
		"quality", cfg.Quality,
	)
	return &pipelineElements{Pipeline: pipeline, Source: src}, nil
}

// buildGrayCaps describes raw GRAY8 input. GStreamer expects GRAY8 lines
// padded to 4 bytes, the same layout the camera produces.
func buildGrayCaps(width, height, fps int) string {
	return fmt.Sprintf(
		"video/x-raw,format=GRAY8,width=%d,height=%d,framerate=%d/1",
		width, height, fps,
	)
}

func frameStride(width int) int {
	return int(driver.Align4(uint32(width)))
}
