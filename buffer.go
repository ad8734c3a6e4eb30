package puccapture

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/puc-capture/driver"
)

// TransferBuffer is one frame's transferred payload.
//
// Storage is either owned or borrowed. An owned buffer (from Grab, Own or
// NewTransferBuffer) lives until Release. A borrowed buffer is what a
// FrameCallback receives: it views memory owned by the transfer session and
// is only readable until the callback returns. Reads after that fail with
// ErrBufferReleased instead of returning recycled memory. Call Own inside the
// callback to keep a frame.
type TransferBuffer struct {
	storage    bufferStorage
	size       uint32
	sequenceNo uint16
	resolution Resolution
	mode       DataMode
	arrived    time.Time
}

// bufferStorage is the tagged variant behind TransferBuffer.
type bufferStorage interface {
	view() ([]byte, bool)
	release()
	owned() bool
}

type ownedStorage struct {
	once sync.Once
	mu   sync.RWMutex
	data []byte
}

func (s *ownedStorage) view() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.data != nil
}

func (s *ownedStorage) release() {
	s.once.Do(func() {
		s.mu.Lock()
		s.data = nil
		s.mu.Unlock()
	})
}

func (s *ownedStorage) owned() bool { return true }

// borrowedStorage is valid while its lease is live.
type borrowedStorage struct {
	data []byte
	live atomic.Bool
}

func (s *borrowedStorage) view() ([]byte, bool) {
	if !s.live.Load() {
		return nil, false
	}
	return s.data, true
}

func (s *borrowedStorage) release() {}

func (s *borrowedStorage) owned() bool { return false }

// revoke ends the lease; later reads fail.
func (s *borrowedStorage) revoke() {
	s.live.Store(false)
}

// NewTransferBuffer allocates a zeroed owned buffer of size bytes.
func NewTransferBuffer(size uint32, res Resolution, mode DataMode) (*TransferBuffer, error) {
	data, err := allocate("NewTransferBuffer", uint64(size))
	if err != nil {
		return nil, err
	}
	return &TransferBuffer{
		storage:    &ownedStorage{data: data},
		size:       size,
		resolution: res,
		mode:       mode,
	}, nil
}

// WrapRecord creates a borrowed buffer over a vendor record without copying
// pixel bytes. The caller ends the borrow with the returned revoke func.
func WrapRecord(rec *driver.FrameRecord, res Resolution, mode DataMode) (*TransferBuffer, func(), error) {
	if rec == nil || rec.Data == nil {
		return nil, nil, newError("WrapRecord", KindInvalidArgument, "nil frame record")
	}
	if int(rec.Size) > len(rec.Data) {
		return nil, nil, newError("WrapRecord", KindInvalidArgument,
			"record size %d exceeds data length %d", rec.Size, len(rec.Data))
	}
	st := &borrowedStorage{data: rec.Data[:rec.Size]}
	st.live.Store(true)
	return &TransferBuffer{
		storage:    st,
		size:       rec.Size,
		sequenceNo: rec.SequenceNo,
		resolution: res,
		mode:       mode,
	}, st.revoke, nil
}

// WrapFrame is WrapRecord for frames that did not come from a live
// transfer, such as recorded ones. Arrived reports arrived.
func WrapFrame(rec *driver.FrameRecord, arrived time.Time, res Resolution, mode DataMode) (*TransferBuffer, func(), error) {
	buf, revoke, err := WrapRecord(rec, res, mode)
	if err != nil {
		return nil, nil, err
	}
	buf.arrived = arrived
	return buf, revoke, nil
}

// Size returns the payload length in bytes.
func (b *TransferBuffer) Size() uint32 { return b.size }

// SequenceNumber returns the vendor sequence counter of the frame.
func (b *TransferBuffer) SequenceNumber() uint16 { return b.sequenceNo }

// Arrived returns when the frame reached the host, or the zero time for
// buffers not produced by a transfer.
func (b *TransferBuffer) Arrived() time.Time { return b.arrived }

// Resolution returns the frame size in pixels.
func (b *TransferBuffer) Resolution() Resolution { return b.resolution }

// Mode returns the payload format.
func (b *TransferBuffer) Mode() DataMode { return b.mode }

// IsCompressed reports whether the payload is block encoded.
func (b *TransferBuffer) IsCompressed() bool { return b.mode == DataModeCompressed }

// IsOwned reports whether the buffer owns its storage.
func (b *TransferBuffer) IsOwned() bool { return b.storage.owned() }

// Bytes returns the raw payload without copying. For borrowed buffers the
// slice must not be retained past the callback.
func (b *TransferBuffer) Bytes() ([]byte, error) {
	data, ok := b.storage.view()
	if !ok {
		return nil, newError("TransferBuffer.Bytes", KindTransferState, "%w", ErrBufferReleased)
	}
	return data[:b.size], nil
}

// Materialize returns a copy of the payload. Compressed frames are copied
// as-is. Gray frames are copied row by row from the vendor stride (width
// rounded up to 4) into a tight width*height slice.
func (b *TransferBuffer) Materialize() ([]byte, error) {
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	if b.IsCompressed() {
		out, err := allocate("TransferBuffer.Materialize", uint64(len(data)))
		if err != nil {
			return nil, err
		}
		copy(out, data)
		return out, nil
	}

	w, h := b.resolution.Width, b.resolution.Height
	stride := driver.Align4(w)
	if uint64(stride)*uint64(h) > uint64(len(data)) {
		return nil, newError("TransferBuffer.Materialize", KindInvalidArgument,
			"%w: %d bytes cannot hold %s with stride %d", ErrSizeMismatch, len(data), b.resolution, stride)
	}
	out, err := allocate("TransferBuffer.Materialize", uint64(w)*uint64(h))
	if err != nil {
		return nil, err
	}
	copyWithoutAlign(out, data, int(w), int(h), int(stride))
	return out, nil
}

// GrayImage materializes a decompressed gray frame as an image.
func (b *TransferBuffer) GrayImage() (*image.Gray, error) {
	if b.IsCompressed() {
		return nil, newError("TransferBuffer.GrayImage", KindInvalidArgument,
			"compressed frame needs a Decoder")
	}
	pix, err := b.Materialize()
	if err != nil {
		return nil, err
	}
	return &image.Gray{
		Pix:    pix,
		Stride: int(b.resolution.Width),
		Rect:   image.Rect(0, 0, int(b.resolution.Width), int(b.resolution.Height)),
	}, nil
}

// Own returns an owned copy. Owned buffers return a copy as well, so the
// result never shares storage with b.
func (b *TransferBuffer) Own() (*TransferBuffer, error) {
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	cp, err := allocate("TransferBuffer.Own", uint64(b.size))
	if err != nil {
		return nil, err
	}
	copy(cp, data)
	return &TransferBuffer{
		storage:    &ownedStorage{data: cp},
		size:       b.size,
		sequenceNo: b.sequenceNo,
		resolution: b.resolution,
		mode:       b.mode,
		arrived:    b.arrived,
	}, nil
}

// Release frees owned storage. It is safe to call more than once; on a
// borrowed buffer it does nothing.
func (b *TransferBuffer) Release() {
	b.storage.release()
}

func (b *TransferBuffer) String() string {
	kind := "borrowed"
	if b.IsOwned() {
		kind = "owned"
	}
	return fmt.Sprintf("TransferBuffer{seq=%d size=%d res=%s mode=%s %s}",
		b.sequenceNo, b.size, b.resolution, b.mode, kind)
}

// copyWithoutAlign copies h rows of w bytes from src (srcStride per row) into
// the tight dst.
func copyWithoutAlign(dst, src []byte, w, h, srcStride int) {
	for y := 0; y < h; y++ {
		copy(dst[y*w:(y+1)*w], src[y*srcStride:y*srcStride+w])
	}
}

// allocate turns a failed make into an Allocation error.
func allocate(op string, size uint64) (buf []byte, err error) {
	if size > maxFrameBytes {
		return nil, newError(op, KindAllocation, "%d bytes exceeds the %d byte frame limit", size, maxFrameBytes)
	}
	defer func() {
		if rec := recover(); rec != nil {
			buf, err = nil, newError(op, KindAllocation, "%d bytes: %v", size, rec)
		}
	}()
	return make([]byte, size), nil
}
