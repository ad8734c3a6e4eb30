package puccapture

import (
	"context"
	"time"
)

// Device is the capability surface of one camera.
//
// Implementations must guarantee:
//   - Open snapshots the device quantization table
//   - Close ends an active transfer first and is idempotent
//   - IsOpen, IsTransferring and TransferStats are safe from any goroutine
//   - the raw vendor handle is never exposed
type Device interface {
	// DeviceNo returns the enumeration number (0..15).
	DeviceNo() uint32

	// Open acquires the device handle. Opening an open device is a no-op.
	Open(ctx context.Context) error

	// Close releases the handle. An active transfer is ended first; errors
	// from that implicit End are logged and suppressed.
	Close() error

	IsOpen() bool

	// Grab transfers one frame synchronously into an owned buffer. Grabbing
	// while a continuous transfer runs is allowed but may return torn data.
	Grab() (*TransferBuffer, error)

	// BeginTransfer starts continuous transfer; see ContinuousTransferSession.
	BeginTransfer(cb FrameCallback) error
	EndTransfer() error
	IsTransferring() bool
	TransferStats() TransferStats

	// Decoder returns a decoder bound to the snapshot quantization table.
	Decoder(opts ...DecoderOption) (*Decoder, error)

	// Warmup runs a short continuous transfer and reports arrival stability.
	Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error)
}

var _ Device = (*Camera)(nil)
