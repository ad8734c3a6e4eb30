package puccapture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/internal/retry"
)

// Camera is one device session: an owned handle plus the continuous transfer
// session and quantization snapshot that belong to it.
//
// Control operations (Open, Close, setters, Grab, Begin/EndTransfer) must be
// serialized by the caller and must not be called from a FrameCallback.
// IsOpen, IsTransferring, TransferStats, Quantization and Decoder are safe
// from any goroutine.
type Camera struct {
	drv      driver.Driver
	codec    driver.Codec
	deviceNo uint32
	retryCfg retry.Config

	mu      sync.Mutex
	handle  driver.Handle
	open    atomic.Bool
	session atomic.Pointer[ContinuousTransferSession]

	tableMu sync.RWMutex
	table   QuantizationTable
}

// NewCamera creates a closed session for deviceNo. codec may be nil, in
// which case Decoder fails with an Unsupported error.
func NewCamera(drv driver.Driver, codec driver.Codec, deviceNo uint32) *Camera {
	return &Camera{drv: drv, codec: codec, deviceNo: deviceNo, retryCfg: retry.Config{}}
}

// DeviceNo returns the enumeration number.
func (c *Camera) DeviceNo() uint32 { return c.deviceNo }

// IsOpen reports whether the handle is held.
func (c *Camera) IsOpen() bool { return c.open.Load() }

// Open acquires the handle and snapshots the quantization table. Transport
// failures are retried with backoff when the camera was created by a Library
// with a retry configuration.
func (c *Camera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open.Load() {
		return nil
	}

	var h driver.Handle
	err := retry.Run(ctx, "puc-capture: open device", c.retryCfg, isTransient, func(context.Context) error {
		var err error
		h, err = c.drv.OpenDevice(c.deviceNo)
		return fromDriver("PUC_OpenDevice", err)
	})
	if err != nil {
		return err
	}

	table, err := c.readQuantization(h)
	if err != nil {
		if cerr := c.drv.CloseDevice(h); cerr != nil {
			slog.Warn("puc-capture: close after failed open", "device_no", c.deviceNo, "error", cerr)
		}
		return err
	}

	c.handle = h
	c.setTable(table)
	c.session.Store(newTransferSession(c.drv, h, c.deviceNo))
	c.open.Store(true)

	slog.Info("puc-capture: device opened", "device_no", c.deviceNo)
	return nil
}

// isTransient reports whether an open failure is worth retrying.
func isTransient(err error) bool {
	return errors.Is(err, ErrTransportIO) || errors.Is(err, ErrTimedOut)
}

// Close ends an active transfer and releases the handle. It is best effort:
// failures from the implicit end and from PUC_CloseDevice are logged, the
// camera is marked closed and Close returns nil.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open.Load() {
		return nil
	}
	if s := c.session.Load(); s != nil && s.IsActive() {
		if err := s.End(); err != nil {
			slog.Warn("puc-capture: implicit end on close failed",
				"device_no", c.deviceNo,
				"session_id", s.ID(),
				"error", err,
			)
		}
	}

	if err := c.drv.CloseDevice(c.handle); err != nil {
		slog.Warn("puc-capture: close device failed",
			"device_no", c.deviceNo,
			"error", fromDriver("PUC_CloseDevice", err),
		)
	}
	c.open.Store(false)
	c.handle = 0

	slog.Info("puc-capture: device closed", "device_no", c.deviceNo)
	return nil
}

// checkOpen must be called with c.mu held.
func (c *Camera) checkOpen(op string) error {
	if !c.open.Load() {
		return newError(op, KindHandleInvalid, "device %d is not open", c.deviceNo)
	}
	return nil
}

// Grab transfers one frame into an owned buffer sized for the current data
// mode.
func (c *Camera) Grab() (*TransferBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen("PUC_GetSingleXferData"); err != nil {
		return nil, err
	}
	res, mode, size, err := c.geometry()
	if err != nil {
		return nil, err
	}
	data, err := allocate("PUC_GetSingleXferData", uint64(size))
	if err != nil {
		return nil, err
	}
	rec, err := c.drv.GrabSingleXfer(c.handle, data)
	if err != nil {
		return nil, fromDriver("PUC_GetSingleXferData", err)
	}
	n := rec.Size
	if n == 0 || n > size {
		n = size
	}
	return &TransferBuffer{
		storage:    &ownedStorage{data: data},
		size:       n,
		sequenceNo: rec.SequenceNo,
		resolution: res,
		mode:       mode,
		arrived:    time.Now(),
	}, nil
}

// geometry must be called with c.mu held.
func (c *Camera) geometry() (Resolution, DataMode, uint32, error) {
	w, h, err := c.drv.Resolution(c.handle)
	if err != nil {
		return Resolution{}, 0, 0, fromDriver("PUC_GetResolution", err)
	}
	mode, err := c.drv.XferDataMode(c.handle)
	if err != nil {
		return Resolution{}, 0, 0, fromDriver("PUC_GetXferDataMode", err)
	}
	size, err := c.drv.XferDataSize(c.handle, mode)
	if err != nil {
		return Resolution{}, 0, 0, fromDriver("PUC_GetXferDataSize", err)
	}
	return Resolution{Width: w, Height: h}, dataModeFromDriver(mode), size, nil
}

// Transfer returns the continuous transfer session, or nil while closed.
func (c *Camera) Transfer() *ContinuousTransferSession {
	if !c.open.Load() {
		return nil
	}
	return c.session.Load()
}

// BeginTransfer starts continuous transfer on the device.
func (c *Camera) BeginTransfer(cb FrameCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_BeginXfer"); err != nil {
		return err
	}
	return c.session.Load().Begin(cb)
}

// EndTransfer stops continuous transfer; see ContinuousTransferSession.End.
func (c *Camera) EndTransfer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_EndXfer"); err != nil {
		return err
	}
	return c.session.Load().End()
}

// IsTransferring reports whether a continuous transfer is active.
func (c *Camera) IsTransferring() bool {
	s := c.session.Load()
	return c.open.Load() && s != nil && s.IsActive()
}

// TransferStats returns the statistics of the current or last transfer.
func (c *Camera) TransferStats() TransferStats {
	if s := c.session.Load(); s != nil {
		return s.Stats()
	}
	return TransferStats{DeviceNo: c.deviceNo}
}

// Decoder returns a decoder bound to the current quantization snapshot.
func (c *Camera) Decoder(opts ...DecoderOption) (*Decoder, error) {
	if c.codec == nil {
		return nil, newError("Decoder", KindUnsupported, "no codec for device %d", c.deviceNo)
	}
	return NewDecoder(c.codec, c.Quantization(), opts...)
}

// Quantization returns the table snapshot taken at Open or by the last
// RefreshQuantization / SetQuantization.
func (c *Camera) Quantization() QuantizationTable {
	c.tableMu.RLock()
	defer c.tableMu.RUnlock()
	return c.table
}

func (c *Camera) setTable(t QuantizationTable) {
	c.tableMu.Lock()
	c.table = t
	c.tableMu.Unlock()
}

// RefreshQuantization re-reads the table from the device.
func (c *Camera) RefreshQuantization() (QuantizationTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_GetQuantization"); err != nil {
		return QuantizationTable{}, err
	}
	t, err := c.readQuantization(c.handle)
	if err != nil {
		return QuantizationTable{}, err
	}
	c.setTable(t)
	return t, nil
}

// SetQuantization writes all 64 entries to the device and refreshes the
// snapshot.
func (c *Camera) SetQuantization(t QuantizationTable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_SetQuantization"); err != nil {
		return err
	}
	for i, v := range t.values {
		if err := c.drv.SetQuantization(c.handle, uint32(i), v); err != nil {
			return fromDriver("PUC_SetQuantization", err)
		}
	}
	read, err := c.readQuantization(c.handle)
	if err != nil {
		return err
	}
	c.setTable(read)
	return nil
}

func (c *Camera) readQuantization(h driver.Handle) (QuantizationTable, error) {
	var values [QuantizationCount]uint16
	for i := range values {
		v, err := c.drv.Quantization(h, uint32(i))
		if err != nil {
			return QuantizationTable{}, fromDriver("PUC_GetQuantization", err)
		}
		values[i] = v
	}
	return QuantizationFromArray(values), nil
}

// RingBufferCount returns the configured number of transfer ring slots.
func (c *Camera) RingBufferCount() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_GetRingBufferCount"); err != nil {
		return 0, err
	}
	n, err := c.drv.RingBufferCount(c.handle)
	return n, fromDriver("PUC_GetRingBufferCount", err)
}

// SetRingBufferCount sets the ring slot count. Counts outside [4,65535] and
// changes during a transfer fail with a TransferState error.
func (c *Camera) SetRingBufferCount(n uint32) error {
	const op = "PUC_SetRingBufferCount"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(op); err != nil {
		return err
	}
	if n < MinRingBufferCount || n > MaxRingBufferCount {
		return &Error{Op: op, Code: driver.StatusRingBufCount, Kind: KindTransferState,
			Err: errors.New(driver.StatusRingBufCount.Message())}
	}
	if s := c.session.Load(); s != nil && s.IsActive() {
		return newError(op, KindTransferState, "cannot resize the ring during a transfer")
	}
	return fromDriver(op, c.drv.SetRingBufferCount(c.handle, n))
}

// Timeouts returns the single and continuous transfer timeouts.
func (c *Camera) Timeouts() (Timeouts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_GetXferTimeOut"); err != nil {
		return Timeouts{}, err
	}
	single, cont, err := c.drv.XferTimeout(c.handle)
	if err != nil {
		return Timeouts{}, fromDriver("PUC_GetXferTimeOut", err)
	}
	return Timeouts{Single: single, Continuous: cont}, nil
}

// SetTimeouts sets both transfer timeouts in milliseconds.
func (c *Camera) SetTimeouts(t Timeouts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_SetXferTimeOut"); err != nil {
		return err
	}
	return fromDriver("PUC_SetXferTimeOut", c.drv.SetXferTimeout(c.handle, t.Single, t.Continuous))
}

// Resolution returns the frame size.
func (c *Camera) Resolution() (Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_GetResolution"); err != nil {
		return Resolution{}, err
	}
	w, h, err := c.drv.Resolution(c.handle)
	if err != nil {
		return Resolution{}, fromDriver("PUC_GetResolution", err)
	}
	return Resolution{Width: w, Height: h}, nil
}

// SetResolution changes the frame size.
func (c *Camera) SetResolution(r Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_SetResolution"); err != nil {
		return err
	}
	return fromDriver("PUC_SetResolution", c.drv.SetResolution(c.handle, r.Width, r.Height))
}

// DataMode returns the transfer payload format.
func (c *Camera) DataMode() (DataMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_GetXferDataMode"); err != nil {
		return 0, err
	}
	m, err := c.drv.XferDataMode(c.handle)
	if err != nil {
		return 0, fromDriver("PUC_GetXferDataMode", err)
	}
	return dataModeFromDriver(m), nil
}

// SetDataMode selects the transfer payload format.
func (c *Camera) SetDataMode(m DataMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_SetXferDataMode"); err != nil {
		return err
	}
	return fromDriver("PUC_SetXferDataMode", c.drv.SetXferDataMode(c.handle, m.driverMode()))
}

// FrameSize returns the transferred byte count per frame for mode.
func (c *Camera) FrameSize(m DataMode) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_GetXferDataSize"); err != nil {
		return 0, err
	}
	n, err := c.drv.XferDataSize(c.handle, m.driverMode())
	return n, fromDriver("PUC_GetXferDataSize", err)
}

// FramerateShutter returns the framerate and shutter speed, both in frames
// per second.
func (c *Camera) FramerateShutter() (framerate, shutterFps uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_GetFramerateShutter"); err != nil {
		return 0, 0, err
	}
	framerate, shutterFps, err = c.drv.FramerateShutter(c.handle)
	return framerate, shutterFps, fromDriver("PUC_GetFramerateShutter", err)
}

// SetFramerateShutter sets the framerate and shutter speed.
func (c *Camera) SetFramerateShutter(framerate, shutterFps uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_SetFramerateShutter"); err != nil {
		return err
	}
	return fromDriver("PUC_SetFramerateShutter", c.drv.SetFramerateShutter(c.handle, framerate, shutterFps))
}

// ResetSequenceNumber restarts the device frame counter at 0.
func (c *Camera) ResetSequenceNumber() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PUC_ResetSequenceNo"); err != nil {
		return err
	}
	return fromDriver("PUC_ResetSequenceNo", c.drv.ResetSequenceNo(c.handle))
}

// Warmup runs a continuous transfer for duration, discarding frames, and
// reports arrival rate stability. It fails when a transfer is already active
// or fewer than two frames arrive.
func (c *Camera) Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error) {
	slog.Info("puc-capture: starting warm-up", "device_no", c.deviceNo, "duration", duration)

	var (
		mu       sync.Mutex
		arrivals = make([]time.Time, 0, 1024)
	)
	start := time.Now()
	err := c.BeginTransfer(func(buf *TransferBuffer) error {
		mu.Lock()
		arrivals = append(arrivals, buf.Arrived())
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	var ctxErr error
	select {
	case <-timer.C:
	case <-ctx.Done():
		ctxErr = ctx.Err()
	}
	elapsed := time.Since(start)

	if err := c.EndTransfer(); err != nil {
		return nil, err
	}
	if ctxErr != nil {
		return nil, ctxErr
	}

	mu.Lock()
	defer mu.Unlock()
	if len(arrivals) < 2 {
		return nil, newError("Warmup", KindTimedOut, "only %d frames in %s", len(arrivals), elapsed)
	}
	stats := CalculateArrivalStats(arrivals, elapsed)

	slog.Info("puc-capture: warm-up complete",
		"device_no", c.deviceNo,
		"frames", stats.FramesReceived,
		"fps_mean", stats.FPSMean,
		"fps_stddev", stats.FPSStdDev,
		"stable", stats.IsStable,
	)
	return stats, nil
}
