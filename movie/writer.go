package movie

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

const (
	defaultFPS     = 30
	defaultQuality = 85
	closeTimeout   = 5 * time.Second
)

// Config describes one movie file.
type Config struct {
	Path    string
	Width   uint32
	Height  uint32
	FPS     int // 0 selects 30
	Quality int // jpegenc quality 1..100, 0 selects 85
}

func (c *Config) validate() error {
	if c.Path == "" {
		return errors.New("movie: empty path")
	}
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("movie: invalid size %dx%d", c.Width, c.Height)
	}
	if c.FPS < 0 || c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("movie: invalid fps %d or quality %d", c.FPS, c.Quality)
	}
	if c.FPS == 0 {
		c.FPS = defaultFPS
	}
	if c.Quality == 0 {
		c.Quality = defaultQuality
	}
	return nil
}

// Writer pushes frames into a running encoding pipeline.
type Writer struct {
	cfg      Config
	elements *pipelineElements
	frameDur time.Duration
	stride   int

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	frames uint64
	busErr error
	eos    bool
	closed bool
}

// Create starts a pipeline writing to cfg.Path.
func Create(cfg Config) (*Writer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	elements, err := createPipeline(pipelineConfig{
		Path:    cfg.Path,
		Width:   int(cfg.Width),
		Height:  int(cfg.Height),
		FPS:     cfg.FPS,
		Quality: cfg.Quality,
	})
	if err != nil {
		return nil, fmt.Errorf("movie: %w", err)
	}
	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("movie: failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		cfg:      cfg,
		elements: elements,
		frameDur: time.Second / time.Duration(cfg.FPS),
		stride:   frameStride(int(cfg.Width)),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.monitor(ctx)

	slog.Info("movie: writing",
		"path", cfg.Path,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
	)
	return w, nil
}

// WriteGray appends one frame. pix is either tight (width*height bytes) or
// already padded to 4-byte lines.
func (w *Writer) WriteGray(pix []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("movie: write on closed writer")
	}
	if w.busErr != nil {
		return w.busErr
	}

	frame, err := w.layout(pix)
	if err != nil {
		return err
	}

	buf := gst.NewBufferFromBytes(frame)
	buf.SetPresentationTimestamp(time.Duration(w.frames) * w.frameDur)
	buf.SetDuration(w.frameDur)
	if ret := w.elements.Source.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("movie: push frame %d: flow %v", w.frames, ret)
	}
	w.frames++
	return nil
}

// WriteImage appends img, which must match the movie size.
func (w *Writer) WriteImage(img *image.Gray) error {
	b := img.Bounds()
	if b.Dx() != int(w.cfg.Width) || b.Dy() != int(w.cfg.Height) {
		return fmt.Errorf("movie: image %dx%d does not match movie %dx%d",
			b.Dx(), b.Dy(), w.cfg.Width, w.cfg.Height)
	}
	if img.Stride == b.Dx() && len(img.Pix) >= b.Dx()*b.Dy() {
		return w.WriteGray(img.Pix[:b.Dx()*b.Dy()])
	}
	tight := make([]byte, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(tight[y*b.Dx():], img.Pix[off:off+b.Dx()])
	}
	return w.WriteGray(tight)
}

// layout returns pix in GStreamer's padded GRAY8 layout. Must be called
// with w.mu held.
func (w *Writer) layout(pix []byte) ([]byte, error) {
	width, height := int(w.cfg.Width), int(w.cfg.Height)
	padded := w.stride * height
	switch len(pix) {
	case padded:
		return append([]byte(nil), pix...), nil
	case width * height:
		// PushBuffer keeps the bytes, so every frame gets a new slice.
		out := make([]byte, padded)
		padRows(out, pix, width, height, w.stride)
		return out, nil
	default:
		return nil, fmt.Errorf("movie: frame holds %d bytes, want %d or %d", len(pix), width*height, padded)
	}
}

// padRows copies tight rows into dst with the given stride.
func padRows(dst, src []byte, width, height, stride int) {
	for y := 0; y < height; y++ {
		copy(dst[y*stride:y*stride+width], src[y*width:(y+1)*width])
	}
}

// Frames returns how many frames were pushed.
func (w *Writer) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close ends the stream, waits for the muxer to finalize the file and
// releases the pipeline. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	frames := w.frames
	w.mu.Unlock()

	w.elements.Source.EndStream()

	var err error
	select {
	case <-w.done:
	case <-time.After(closeTimeout):
		err = fmt.Errorf("movie: timed out after %v waiting for end of stream", closeTimeout)
	}
	w.cancel()
	<-w.done

	if serr := w.elements.Pipeline.SetState(gst.StateNull); serr != nil && err == nil {
		err = fmt.Errorf("movie: failed to stop pipeline: %w", serr)
	}

	w.mu.Lock()
	if err == nil {
		err = w.busErr
	}
	eos := w.eos
	w.mu.Unlock()

	slog.Info("movie: closed",
		"path", w.cfg.Path,
		"frames", frames,
		"eos", eos,
		"error", err,
	)
	return err
}

// monitor polls the pipeline bus until end of stream, an error, or ctx is
// cancelled.
func (w *Writer) monitor(ctx context.Context) {
	defer close(w.done)
	bus := w.elements.Pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			w.mu.Lock()
			w.eos = true
			w.mu.Unlock()
			slog.Debug("movie: end of stream", "path", w.cfg.Path)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			category := classifyBusError(gerr)
			slog.Error("movie: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"path", w.cfg.Path,
			)
			w.mu.Lock()
			w.busErr = fmt.Errorf("movie: pipeline error [%s]: %s", category, gerr.Error())
			w.mu.Unlock()
			return
		}
	}
}
