package puccapture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/internal/ring"
	"github.com/e7canasta/puc-capture/internal/warmup"
)

// FrameCallback receives every delivered frame, in arrival order, on the
// session's consumer goroutine. The buffer is borrowed: it is readable until
// the callback returns. Use Own to keep a frame.
//
// Returning an error (or panicking) stops delivery for the rest of the
// session; End reports the error. The callback must not call End.
type FrameCallback func(buf *TransferBuffer) error

// ContinuousTransferSession streams frames from one open device.
//
// Begin registers a trampoline with the driver. The trampoline copies each
// arriving frame into a ring slot and returns without blocking; when every
// slot is queued the newest frame is dropped and counted. A consumer
// goroutine pops slots in order and invokes the callback.
//
// Begin and End must be serialized by the caller. IsActive, Stats and ID are
// safe from any goroutine, including the callback.
type ContinuousTransferSession struct {
	drv      driver.Driver
	handle   driver.Handle
	deviceNo uint32

	mu     sync.Mutex // serializes Begin/End
	active atomic.Bool
	run    atomic.Pointer[transferRun]
}

// transferRun is the state of one Begin..End cycle. Stats of the last run
// stay readable after End.
type transferRun struct {
	id         string
	startedAt  time.Time
	resolution Resolution
	mode       DataMode
	ring       *ring.Ring
	arrivals   *warmup.Window
	done       chan struct{}

	received  atomic.Uint64
	delivered atomic.Uint64
	drained   atomic.Uint64 // popped after a callback failure
	gaps      atomic.Uint64
	faults    atomic.Uint64
	lastSeq   atomic.Uint32

	errMu       sync.Mutex
	lastErr     error
	callbackErr error
}

func newTransferSession(drv driver.Driver, h driver.Handle, deviceNo uint32) *ContinuousTransferSession {
	return &ContinuousTransferSession{drv: drv, handle: h, deviceNo: deviceNo}
}

// Begin starts continuous transfer and delivers frames to cb. It fails with
// a TransferState error when the session is already active.
func (s *ContinuousTransferSession) Begin(cb FrameCallback) error {
	if cb == nil {
		return newError("BeginXfer", KindInvalidArgument, "nil frame callback")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.Load() {
		return newError("BeginXfer", KindTransferState, "transfer already active on device %d", s.deviceNo)
	}

	run, err := s.prepare()
	if err != nil {
		return err
	}

	go s.consume(run, cb)

	if err := s.drv.BeginXfer(s.handle, s.trampoline(run)); err != nil {
		run.ring.Close()
		<-run.done
		return fromDriver("PUC_BeginXfer", err)
	}

	s.run.Store(run)
	s.active.Store(true)

	slog.Info("puc-capture: transfer session started",
		"device_no", s.deviceNo,
		"session_id", run.id,
		"resolution", run.resolution.String(),
		"mode", run.mode.String(),
		"ring_capacity", run.ring.Cap(),
	)
	return nil
}

// prepare reads the transfer geometry from the device and sizes the ring.
func (s *ContinuousTransferSession) prepare() (*transferRun, error) {
	w, h, err := s.drv.Resolution(s.handle)
	if err != nil {
		return nil, fromDriver("PUC_GetResolution", err)
	}
	mode, err := s.drv.XferDataMode(s.handle)
	if err != nil {
		return nil, fromDriver("PUC_GetXferDataMode", err)
	}
	size, err := s.drv.XferDataSize(s.handle, mode)
	if err != nil {
		return nil, fromDriver("PUC_GetXferDataSize", err)
	}
	count, err := s.drv.RingBufferCount(s.handle)
	if err != nil {
		return nil, fromDriver("PUC_GetRingBufferCount", err)
	}
	if count < MinRingBufferCount {
		count = MinRingBufferCount
	}

	r, err := ring.New(int(count), int(size))
	if err != nil {
		return nil, newError("BeginXfer", KindAllocation, "%w", err)
	}
	return &transferRun{
		id:         uuid.New().String(),
		startedAt:  time.Now(),
		resolution: Resolution{Width: w, Height: h},
		mode:       dataModeFromDriver(mode),
		ring:       r,
		arrivals:   warmup.NewWindow(arrivalWindowFrames),
		done:       make(chan struct{}),
	}, nil
}

// trampoline runs on the driver's acquisition goroutine.
func (s *ContinuousTransferSession) trampoline(run *transferRun) driver.Trampoline {
	return func(rec *driver.FrameRecord, err error) {
		if err != nil {
			run.faults.Add(1)
			ferr := fromDriver("PUC_XferCallback", err)
			run.setLastError(ferr)
			slog.Warn("puc-capture: transfer fault",
				"device_no", s.deviceNo,
				"session_id", run.id,
				"kind", KindOf(ferr).String(),
				"error", ferr,
			)
			return
		}
		if rec == nil {
			return
		}

		now := time.Now()
		run.received.Add(1)
		run.arrivals.Add(now)

		data := rec.Data
		if int(rec.Size) < len(data) {
			data = data[:rec.Size]
		}
		ok, perr := run.ring.Push(data, rec.SequenceNo, now)
		if perr != nil {
			run.setLastError(newError("BeginXfer", KindAllocation, "%w", perr))
		}
		if !ok {
			slog.Debug("puc-capture: frame dropped",
				"session_id", run.id,
				"seq", rec.SequenceNo,
				"queued", run.ring.Len(),
			)
		}
	}
}

// consume delivers queued frames until the ring is closed.
func (s *ContinuousTransferSession) consume(run *transferRun, cb FrameCallback) {
	defer close(run.done)

	failed := false
	first := true
	for {
		slot, ok := run.ring.Pop()
		if !ok {
			return
		}
		if failed {
			run.drained.Add(1)
			run.ring.Recycle(slot)
			continue
		}

		if !first {
			prev := uint16(run.lastSeq.Load())
			if gap := slot.SequenceNo - prev; gap > 1 {
				run.gaps.Add(uint64(gap - 1))
			}
		}
		first = false
		run.lastSeq.Store(uint32(slot.SequenceNo))

		if err := run.deliver(slot, cb); err != nil {
			failed = true
			run.setCallbackError(err)
			slog.Error("puc-capture: frame callback failed, delivery stopped",
				"device_no", s.deviceNo,
				"session_id", run.id,
				"seq", slot.SequenceNo,
				"error", err,
			)
		}
		run.ring.Recycle(slot)
	}
}

// deliver lends slot to cb and revokes the lease when cb returns.
func (run *transferRun) deliver(slot *ring.Slot, cb FrameCallback) (err error) {
	rec := driver.FrameRecord{Data: slot.Data, Size: uint32(len(slot.Data)), SequenceNo: slot.SequenceNo}
	buf, revoke, err := WrapRecord(&rec, run.resolution, run.mode)
	if err != nil {
		return err
	}
	buf.arrived = slot.Arrived
	defer func() {
		revoke()
		run.delivered.Add(1)
		if p := recover(); p != nil {
			err = fmt.Errorf("frame callback panic: %v", p)
		}
	}()
	return cb(buf)
}

// End stops the transfer. Frames still queued are discarded and counted as
// dropped. When End returns no callback is running and none will run.
//
// The session is idle afterwards even if the driver reports a failure; that
// failure is returned, otherwise the callback's error, if any.
func (s *ContinuousTransferSession) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active.Load() {
		return newError("EndXfer", KindTransferState, "transfer not active on device %d", s.deviceNo)
	}
	run := s.run.Load()

	endErr := fromDriver("PUC_EndXfer", s.drv.EndXfer(s.handle))
	discarded := run.ring.Close()
	<-run.done
	s.active.Store(false)

	slog.Info("puc-capture: transfer session ended",
		"device_no", s.deviceNo,
		"session_id", run.id,
		"received", run.received.Load(),
		"delivered", run.delivered.Load(),
		"dropped", run.ring.Drops()+run.drained.Load(),
		"discarded", discarded,
	)

	if endErr != nil {
		return endErr
	}
	run.errMu.Lock()
	defer run.errMu.Unlock()
	return run.callbackErr
}

// IsActive reports whether a transfer is running.
func (s *ContinuousTransferSession) IsActive() bool {
	return s.active.Load()
}

// ID returns the current or last session ID, or "" before the first Begin.
func (s *ContinuousTransferSession) ID() string {
	if run := s.run.Load(); run != nil {
		return run.id
	}
	return ""
}

// Stats returns a snapshot of the current or last run.
func (s *ContinuousTransferSession) Stats() TransferStats {
	st := TransferStats{DeviceNo: s.deviceNo, State: StateIdle}
	if s.active.Load() {
		st.State = StateActive
	}
	run := s.run.Load()
	if run == nil {
		return st
	}

	st.SessionID = run.id
	st.StartedAt = run.startedAt
	st.FramesReceived = run.received.Load()
	st.FramesDelivered = run.delivered.Load()
	st.FramesDropped = run.ring.Drops() + run.drained.Load()
	st.SequenceGaps = run.gaps.Load()
	st.Faults = run.faults.Load()
	st.RingCapacity = run.ring.Cap()
	st.QueueDepth = run.ring.Len()
	st.LastSequence = uint16(run.lastSeq.Load())

	ws := run.arrivals.Stats()
	st.ArrivalFPS = ws.FPSMean
	st.JitterMean = ws.JitterMean
	st.IsStable = ws.IsStable

	run.errMu.Lock()
	if run.lastErr != nil {
		st.LastError = run.lastErr.Error()
	}
	if run.callbackErr != nil {
		st.CallbackError = run.callbackErr.Error()
	}
	run.errMu.Unlock()
	return st
}

func (run *transferRun) setLastError(err error) {
	run.errMu.Lock()
	run.lastErr = err
	run.errMu.Unlock()
}

func (run *transferRun) setCallbackError(err error) {
	run.errMu.Lock()
	run.callbackErr = err
	run.errMu.Unlock()
}
