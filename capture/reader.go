package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/driver"
)

// Filter selects frames during reading. Zero fields match everything.
type Filter struct {
	SessionID string
	DeviceNo  *uint32
	// Frames that arrived before Since are skipped.
	Since time.Time
}

func (f *Filter) matches(fr Frame) bool {
	if f.SessionID != "" && fr.SessionID != f.SessionID {
		return false
	}
	if f.DeviceNo != nil && fr.DeviceNo != *f.DeviceNo {
		return false
	}
	if !f.Since.IsZero() && fr.Arrived.Before(f.Since) {
		return false
	}
	return true
}

// Reader streams frames from a recording.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// Open opens a recording for reading.
func Open(path string) (*Reader, error) {
	return OpenFiltered(path, Filter{})
}

// OpenFiltered opens a recording and yields only frames matching filter.
func OpenFiltered(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open recording: %w", err)
	}
	return &Reader{file: f, decoder: newDecoder(f), filter: filter}, nil
}

// Next returns the next matching frame, or io.EOF at the end of the file.
func (r *Reader) Next() (Frame, error) {
	for {
		var fr Frame
		if err := r.decoder.Decode(&fr); err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("capture: decode frame: %w", err)
		}
		if r.filter.matches(fr) {
			return fr, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay hands every remaining frame to cb as a borrowed buffer, the same
// way a live transfer does: the buffer is revoked when cb returns. Replay
// stops at the end of the file, on ctx cancellation, or on the first
// callback error. It returns the number of frames delivered.
func (r *Reader) Replay(ctx context.Context, cb puccapture.FrameCallback) (int, error) {
	if cb == nil {
		return 0, fmt.Errorf("capture: replay: %w", puccapture.ErrInvalidArgument)
	}
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		fr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
		if err := deliver(fr, cb); err != nil {
			return delivered, err
		}
		delivered++
	}
}

func deliver(fr Frame, cb puccapture.FrameCallback) error {
	mode, err := fr.DataMode()
	if err != nil {
		return fmt.Errorf("capture: frame %d: %w", fr.Sequence, err)
	}
	rec := &driver.FrameRecord{
		Data:       fr.Data,
		Size:       uint32(len(fr.Data)),
		SequenceNo: fr.Sequence,
	}
	buf, revoke, err := puccapture.WrapFrame(rec, fr.Arrived, fr.Resolution(), mode)
	if err != nil {
		return fmt.Errorf("capture: frame %d: %w", fr.Sequence, err)
	}
	defer revoke()
	return cb(buf)
}
