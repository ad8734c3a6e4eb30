package capture

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/driver"
)

// Writer appends frames to a recording. It is safe for concurrent use.
type Writer struct {
	path      string
	sessionID func() string
	deviceNo  uint32
	decoder   *puccapture.Decoder
	table     []uint16

	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	frames  uint64
	bytes   uint64
	closed  bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithSession tags every frame with a session ID and device number.
func WithSession(sessionID string, deviceNo uint32) WriterOption {
	return WithSessionFunc(func() string { return sessionID }, deviceNo)
}

// WithSessionFunc tags every frame with the ID fn returns at record time,
// for writers created before the transfer session starts.
func WithSessionFunc(fn func() string, deviceNo uint32) WriterOption {
	return func(w *Writer) {
		w.sessionID = fn
		w.deviceNo = deviceNo
	}
}

// WithQuantization stores t with every compressed frame so the recording
// can be decoded offline.
func WithQuantization(t puccapture.QuantizationTable) WriterOption {
	return func(w *Writer) {
		v := t.Values()
		w.table = v[:]
	}
}

// WithDecoder records compressed frames as decoded gray frames.
func WithDecoder(dec *puccapture.Decoder) WriterOption {
	return func(w *Writer) { w.decoder = dec }
}

// Create opens path for appending, creating it with mode 0644 if needed.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: open recording: %w", err)
	}
	w := &Writer{path: path, file: f, encoder: newEncoder(f)}
	for _, opt := range opts {
		opt(w)
	}
	slog.Info("capture: recording",
		"path", path,
		"device_no", w.deviceNo,
		"decode", w.decoder != nil,
	)
	return w, nil
}

// Record appends buf. Borrowed buffers must be recorded from inside the
// frame callback; the payload is encoded before Record returns.
func (w *Writer) Record(buf *puccapture.TransferBuffer) error {
	f, err := w.frame(buf)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("capture: record on closed writer %s", w.path)
	}
	if err := w.encoder.Encode(f); err != nil {
		return fmt.Errorf("capture: encode frame %d: %w", f.Sequence, err)
	}
	w.frames++
	w.bytes += uint64(len(f.Data))
	return nil
}

func (w *Writer) frame(buf *puccapture.TransferBuffer) (Frame, error) {
	data, err := buf.Bytes()
	if err != nil {
		return Frame{}, err
	}
	res := buf.Resolution()
	mode := buf.Mode()

	if w.decoder != nil && buf.IsCompressed() {
		gray := make([]byte, driver.Align4(res.Width)*res.Height)
		if err := w.decoder.DecodeLuminanceInto(gray, data, puccapture.FullFrame(res), w.decoder.Threads()); err != nil {
			return Frame{}, fmt.Errorf("capture: decode frame %d: %w", buf.SequenceNumber(), err)
		}
		data = gray
		mode = puccapture.DataModeDecompressedGray
	}

	var sessionID string
	if w.sessionID != nil {
		sessionID = w.sessionID()
	}
	var table []uint16
	if mode == puccapture.DataModeCompressed {
		table = w.table
	}
	return Frame{
		SessionID:    sessionID,
		DeviceNo:     w.deviceNo,
		Quantization: table,
		Sequence:     buf.SequenceNumber(),
		Arrived:      buf.Arrived(),
		Width:        res.Width,
		Height:       res.Height,
		Mode:         mode.String(),
		Data:         data,
	}, nil
}

// Callback returns a FrameCallback that records each frame and then calls
// next, if any. A recording failure stops the transfer like any callback
// error.
func (w *Writer) Callback(next puccapture.FrameCallback) puccapture.FrameCallback {
	return func(buf *puccapture.TransferBuffer) error {
		if err := w.Record(buf); err != nil {
			return err
		}
		if next != nil {
			return next(buf)
		}
		return nil
	}
}

// Frames returns how many frames were written.
func (w *Writer) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close closes the file. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	slog.Info("capture: recording closed",
		"path", w.path,
		"frames", w.frames,
		"bytes", w.bytes,
	)
	return w.file.Close()
}
