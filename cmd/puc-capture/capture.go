package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/capture"
	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/movie"
	"github.com/e7canasta/puc-capture/telemetry"
)

// captureRun is one continuous capture from an open camera.
type captureRun struct {
	cfg           *puccapture.Config
	cam           *puccapture.Camera
	maxFrames     int
	duration      time.Duration
	outputDir     string
	saveEvery     int
	statsInterval time.Duration
	skipWarmup    bool
}

func (r *captureRun) Run(ctx context.Context) error {
	if !r.skipWarmup {
		fmt.Printf("Running warmup (2 seconds) to measure arrival stability...\n")
		stats, err := r.cam.Warmup(ctx, 2*time.Second)
		if err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
		printWarmup(stats)
	}

	res, err := r.cam.Resolution()
	if err != nil {
		return err
	}
	sink, err := newFrameSink(r.cfg, r.cam, res, r.outputDir, r.saveEvery, r.maxFrames)
	if err != nil {
		return err
	}
	defer sink.Close()

	var publisher *telemetry.Publisher
	if r.cfg.Telemetry.Broker != "" {
		publisher = telemetry.NewPublisher(r.cfg.Telemetry)
		if err := publisher.Connect(ctx); err != nil {
			slog.Warn("puc-capture: telemetry disabled", "error", err)
			publisher = nil
		} else {
			defer publisher.Disconnect()
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.duration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, r.duration)
		defer cancel()
	}

	if err := r.cam.BeginTransfer(sink.Handle); err != nil {
		return err
	}
	startTime := time.Now()

	if publisher != nil {
		go publisher.Run(runCtx, r.cam)
	}
	go reportStats(runCtx, r.cam, r.statsInterval, startTime)

	fmt.Printf("Capturing... press Ctrl+C to stop\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	select {
	case <-runCtx.Done():
	case <-sink.Done():
		fmt.Printf("\nReached maximum frames (%d), stopping...\n", r.maxFrames)
	}

	endErr := r.cam.EndTransfer()
	printFinal(r.cam.TransferStats(), sink, time.Since(startTime))
	return endErr
}

// frameSink is the FrameCallback of a capture run. It runs on the transfer
// consumer goroutine.
type frameSink struct {
	decoder   *puccapture.Decoder
	region    puccapture.Region
	outputDir string
	saveEvery int
	maxFrames int

	recorder *capture.Writer
	movie    *movie.Writer

	seen    atomic.Int64
	saved   atomic.Int64
	encoded atomic.Int64

	doneOnce sync.Once
	done     chan struct{}
}

func newFrameSink(cfg *puccapture.Config, cam *puccapture.Camera, res puccapture.Resolution, outputDir string, saveEvery, maxFrames int) (*frameSink, error) {
	opts := []puccapture.DecoderOption{puccapture.WithDefaultThreads(cfg.Decode.Threads)}
	if cfg.Decode.VendorThreading {
		opts = append(opts, puccapture.WithVendorThreading())
	}
	dec, err := cam.Decoder(opts...)
	if err != nil && !errors.Is(err, puccapture.ErrUnsupported) {
		return nil, err
	}

	region := puccapture.FullFrame(res)
	if len(cfg.Decode.ROI) == 4 {
		if region, err = cfg.Decode.Region(); err != nil {
			return nil, err
		}
	}

	s := &frameSink{
		decoder:   dec,
		region:    region,
		outputDir: outputDir,
		saveEvery: max(saveEvery, 1),
		maxFrames: maxFrames,
		done:      make(chan struct{}),
	}

	if cfg.Record.Path != "" {
		ropts := []capture.WriterOption{
			capture.WithSessionFunc(cam.Transfer().ID, cam.DeviceNo()),
			capture.WithQuantization(cam.Quantization()),
		}
		if cfg.Record.Decode && dec != nil {
			ropts = append(ropts, capture.WithDecoder(dec))
		}
		if s.recorder, err = capture.Create(cfg.Record.Path, ropts...); err != nil {
			return nil, err
		}
	}
	if cfg.Movie.Path != "" {
		s.movie, err = movie.Create(movie.Config{
			Path:   cfg.Movie.Path,
			Width:  region.Width,
			Height: region.Height,
			FPS:    cfg.Movie.FPS,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Handle processes one delivered frame.
func (s *frameSink) Handle(buf *puccapture.TransferBuffer) error {
	n := s.seen.Add(1)
	if s.maxFrames > 0 {
		if n > int64(s.maxFrames) {
			return nil
		}
		if n == int64(s.maxFrames) {
			defer s.doneOnce.Do(func() { close(s.done) })
		}
	}

	if s.recorder != nil {
		if err := s.recorder.Record(buf); err != nil {
			return err
		}
	}

	save := s.outputDir != "" && n%int64(s.saveEvery) == 1%int64(s.saveEvery)
	if s.movie == nil && !save {
		return nil
	}
	img, err := s.image(buf)
	if err != nil {
		slog.Warn("puc-capture: frame not decoded", "seq", buf.SequenceNumber(), "error", err)
		return nil
	}
	if s.movie != nil {
		if err := s.movie.WriteImage(img); err != nil {
			return err
		}
		s.encoded.Add(1)
	}
	if save {
		if err := savePNG(s.outputDir, buf.SequenceNumber(), buf.Arrived(), img); err != nil {
			slog.Error("puc-capture: failed to save frame", "error", err, "seq", buf.SequenceNumber())
		} else {
			s.saved.Add(1)
		}
	}
	return nil
}

// image decodes the configured region of buf.
func (s *frameSink) image(buf *puccapture.TransferBuffer) (*image.Gray, error) {
	if buf.IsCompressed() {
		if s.decoder == nil {
			return nil, puccapture.ErrUnsupported
		}
		return s.decoder.DecodeBufferRegion(buf, s.region)
	}
	img, err := buf.GrayImage()
	if err != nil {
		return nil, err
	}
	rect := image.Rect(int(s.region.X), int(s.region.Y),
		int(s.region.X+s.region.Width), int(s.region.Y+s.region.Height))
	if rect == img.Bounds() {
		return img, nil
	}
	sub, ok := img.SubImage(rect).(*image.Gray)
	if !ok || sub.Bounds() != rect {
		return nil, fmt.Errorf("region %s outside frame %s", s.region, buf.Resolution())
	}
	return sub, nil
}

// Done is closed once maxFrames frames were handled.
func (s *frameSink) Done() <-chan struct{} { return s.done }

func (s *frameSink) Close() {
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			slog.Error("puc-capture: recording close", "error", err)
		}
	}
	if s.movie != nil {
		if err := s.movie.Close(); err != nil {
			slog.Error("puc-capture: movie close", "error", err)
		}
	}
}

// runReplay feeds a recording through the same sink a live capture uses.
func runReplay(ctx context.Context, cfg *puccapture.Config, path, outputDir string, saveEvery int) error {
	r, err := capture.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	first, err := capture.Open(path)
	if err != nil {
		return err
	}
	head, err := first.Next()
	first.Close()
	if err != nil {
		return fmt.Errorf("empty recording %s: %w", path, err)
	}

	var dec *puccapture.Decoder
	if table, ok := head.Table(); ok {
		codec, err := replayCodec(cfg.Library)
		if err != nil {
			return err
		}
		if dec, err = puccapture.NewDecoder(codec, table, puccapture.WithDefaultThreads(cfg.Decode.Threads)); err != nil {
			return err
		}
	} else if head.Mode == puccapture.DataModeCompressed.String() {
		slog.Warn("puc-capture: recording has no quantization table, compressed frames will not be decoded", "path", path)
	}
	region := puccapture.FullFrame(head.Resolution())
	if len(cfg.Decode.ROI) == 4 {
		if region, err = cfg.Decode.Region(); err != nil {
			return err
		}
	}

	sink := &frameSink{
		decoder:   dec,
		region:    region,
		outputDir: outputDir,
		saveEvery: max(saveEvery, 1),
		done:      make(chan struct{}),
	}
	if cfg.Movie.Path != "" {
		if sink.movie, err = movie.Create(movie.Config{
			Path:   cfg.Movie.Path,
			Width:  region.Width,
			Height: region.Height,
			FPS:    cfg.Movie.FPS,
		}); err != nil {
			return err
		}
	}
	defer sink.Close()

	start := time.Now()
	n, err := r.Replay(ctx, sink.Handle)
	slog.Info("puc-capture: replay finished",
		"path", path,
		"frames", n,
		"saved", sink.saved.Load(),
		"encoded", sink.encoded.Load(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return err
}

// replayCodec returns the block decoder for offline frames.
func replayCodec(cfg puccapture.LibraryConfig) (driver.Codec, error) {
	drv, err := openDriver(cfg)
	if err != nil {
		return nil, err
	}
	codec, ok := drv.(driver.Codec)
	if !ok {
		return nil, fmt.Errorf("driver %T has no decoder", drv)
	}
	return codec, nil
}
