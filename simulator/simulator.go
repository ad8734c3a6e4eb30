// Package simulator is an in-process PUC device driver.
//
// It reports a configurable set of device numbers, keeps per-device settings
// like the real library, and produces frames in the reference block format
// (or padded gray) with an incrementing sequence number. Frames are paced by
// the configured framerate, or delivered on demand with Trigger when the
// simulator is created WithManualTrigger.
//
// Faults can be injected: a one-shot transfer status (InjectFault), failing
// opens (FailOpen), and device removal (Unplug / Plug).
package simulator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/e7canasta/puc-capture/driver"
)

const (
	defaultWidth     = 1280
	defaultHeight    = 1024
	defaultFramerate = 1000
	defaultRingCount = 64
	maxDimension     = 4096
	maxFramerate     = 1_000_000
)

// defaultQuantization is the JPEG luminance table in zig-zag order, halved.
var defaultQuantization = func() (q [driver.QuantizationCount]uint16) {
	base := [driver.QuantizationCount]uint16{
		16, 11, 12, 14, 12, 10, 16, 14, 13, 14, 18, 17, 16, 19, 24, 40,
		26, 24, 22, 22, 24, 49, 35, 37, 29, 40, 58, 51, 61, 60, 57, 51,
		56, 55, 64, 72, 92, 78, 64, 68, 87, 69, 55, 56, 80, 109, 81, 87,
		95, 98, 103, 104, 103, 62, 77, 113, 121, 112, 100, 120, 92, 101, 103, 99,
	}
	for i, v := range base {
		q[i] = (v + 1) / 2
	}
	return q
}()

// Option configures a Simulator.
type Option func(*Simulator)

// WithDevices sets the device numbers reported by DetectDevices.
func WithDevices(nos ...uint32) Option {
	return func(s *Simulator) {
		s.present = make(map[uint32]bool, len(nos))
		for _, n := range nos {
			s.present[n] = true
		}
	}
}

// WithResolution sets the initial resolution of every device.
func WithResolution(width, height uint32) Option {
	return func(s *Simulator) { s.width, s.height = width, height }
}

// WithFramerate sets the initial framerate (and shutter) of every device.
func WithFramerate(fps uint32) Option {
	return func(s *Simulator) { s.framerate = fps }
}

// WithManualTrigger disables pacing; frames are produced only by Trigger.
func WithManualTrigger() Option {
	return func(s *Simulator) { s.manual = true }
}

// Simulator implements driver.Driver and driver.Codec.
type Simulator struct {
	width, height uint32
	framerate     uint32
	manual        bool

	mu          sync.Mutex
	initialized bool
	present     map[uint32]bool
	handles     map[driver.Handle]*device
	nextHandle  driver.Handle
	failOpen    map[uint32]openFailure
}

type openFailure struct {
	remaining int
	status    driver.Status
}

// device is the state behind one open handle. Fields are guarded by
// Simulator.mu.
type device struct {
	no         uint32
	width      uint32
	height     uint32
	framerate  uint32
	shutterFps uint32
	mode       driver.DataMode
	ringCount  uint32
	timeoutS   uint32
	timeoutC   uint32
	quant      [driver.QuantizationCount]uint16
	seq        uint16
	unplugged  bool
	fault      driver.Status

	frames frameCache
	xfer   *xfer
}

// xfer is one registered continuous transfer.
type xfer struct {
	mu      sync.Mutex // held while the trampoline runs
	t       driver.Trampoline
	stopped bool
	scratch []byte

	stop chan struct{}
	done chan struct{} // closed by the pacer; nil when manual
}

// New creates a simulator. Without WithDevices it reports device 0.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		width:      defaultWidth,
		height:     defaultHeight,
		framerate:  defaultFramerate,
		present:    map[uint32]bool{0: true},
		handles:    make(map[driver.Handle]*device),
		nextHandle: 1,
		failOpen:   make(map[uint32]openFailure),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ driver.Driver = (*Simulator)(nil)
	_ driver.Codec  = (*Simulator)(nil)
)

// Initialize marks the library initialized; a second call reports
// StatusInitialized like the vendor library.
func (s *Simulator) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return driver.StatusInitialized
	}
	s.initialized = true
	return nil
}

// DetectDevices returns the present device numbers, ascending.
func (s *Simulator) DetectDevices() ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, driver.StatusUninitialized
	}
	out := make([]uint32, 0, len(s.present))
	for n, ok := range s.present {
		if ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// OpenDevice opens a present device with default settings.
func (s *Simulator) OpenDevice(deviceNo uint32) (driver.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return 0, driver.StatusUninitialized
	}
	if f, ok := s.failOpen[deviceNo]; ok && f.remaining > 0 {
		f.remaining--
		s.failOpen[deviceNo] = f
		return 0, f.status
	}
	if deviceNo >= driver.MaxDevices || !s.present[deviceNo] {
		return 0, driver.StatusNotExistDeviceNo
	}
	for _, d := range s.handles {
		if d.no == deviceNo {
			return 0, driver.StatusDeviceOpen
		}
	}

	h := s.nextHandle
	s.nextHandle++
	s.handles[h] = &device{
		no:         deviceNo,
		width:      s.width,
		height:     s.height,
		framerate:  s.framerate,
		shutterFps: s.framerate,
		mode:       driver.DataCompressed,
		ringCount:  defaultRingCount,
		timeoutS:   driver.XferTimeoutAuto,
		timeoutC:   driver.XferTimeoutAuto,
		quant:      defaultQuantization,
	}
	slog.Debug("simulator: device opened", "device_no", deviceNo, "handle", uintptr(h))
	return h, nil
}

// CloseDevice ends an active transfer and invalidates the handle.
func (s *Simulator) CloseDevice(h driver.Handle) error {
	s.mu.Lock()
	d, err := s.lookup(h)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	x := d.xfer
	d.xfer = nil
	delete(s.handles, h)
	s.mu.Unlock()

	if x != nil {
		x.halt()
	}
	slog.Debug("simulator: device closed", "device_no", d.no)
	return nil
}

// lookup must be called with s.mu held.
func (s *Simulator) lookup(h driver.Handle) (*device, error) {
	if !s.initialized {
		return nil, driver.StatusUninitialized
	}
	d, ok := s.handles[h]
	if !ok {
		return nil, driver.StatusIllegalDeviceHandle
	}
	return d, nil
}

// control looks up h for a command; unplugged devices fail with a read error.
func (s *Simulator) control(h driver.Handle) (*device, error) {
	d, err := s.lookup(h)
	if err != nil {
		return nil, err
	}
	if d.unplugged {
		return nil, driver.StatusDeviceRead
	}
	return d, nil
}

func (s *Simulator) Quantization(h driver.Handle, index uint32) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return 0, err
	}
	if index >= driver.QuantizationCount {
		return 0, driver.StatusIllegalArg
	}
	return d.quant[index], nil
}

func (s *Simulator) SetQuantization(h driver.Handle, index uint32, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return err
	}
	if index >= driver.QuantizationCount {
		return driver.StatusIllegalArg
	}
	d.quant[index] = value
	return nil
}

func (s *Simulator) Resolution(h driver.Handle) (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return 0, 0, err
	}
	return d.width, d.height, nil
}

// SetResolution accepts multiples of 4 up to 4096 in both directions.
func (s *Simulator) SetResolution(h driver.Handle, width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return err
	}
	if d.xfer != nil {
		return driver.StatusXferring
	}
	if width == 0 || height == 0 || width > maxDimension || height > maxDimension || width%4 != 0 || height%4 != 0 {
		return driver.StatusIllegalResolution
	}
	d.width, d.height = width, height
	return nil
}

func (s *Simulator) XferDataMode(h driver.Handle) (driver.DataMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return 0, err
	}
	return d.mode, nil
}

func (s *Simulator) SetXferDataMode(h driver.Handle, mode driver.DataMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return err
	}
	if d.xfer != nil {
		return driver.StatusXferring
	}
	if mode != driver.DataCompressed && mode != driver.DataDecompressedGray {
		return driver.StatusIllegalArg
	}
	d.mode = mode
	return nil
}

func (s *Simulator) XferDataSize(h driver.Handle, mode driver.DataMode) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return 0, err
	}
	switch mode {
	case driver.DataCompressed:
		return compressedSize(d.width, d.height), nil
	case driver.DataDecompressedGray:
		return driver.Align4(d.width) * d.height, nil
	default:
		return 0, driver.StatusIllegalArg
	}
}

func (s *Simulator) FramerateShutter(h driver.Handle) (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return 0, 0, err
	}
	return d.framerate, d.shutterFps, nil
}

// SetFramerateShutter requires shutterFps >= framerate.
func (s *Simulator) SetFramerateShutter(h driver.Handle, framerate, shutterFps uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return err
	}
	if d.xfer != nil {
		return driver.StatusXferring
	}
	if framerate == 0 || framerate > maxFramerate || shutterFps < framerate {
		return driver.StatusIllegalFrameRate
	}
	d.framerate, d.shutterFps = framerate, shutterFps
	return nil
}

func (s *Simulator) RingBufferCount(h driver.Handle) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return 0, err
	}
	return d.ringCount, nil
}

func (s *Simulator) SetRingBufferCount(h driver.Handle, count uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return err
	}
	if d.xfer != nil {
		return driver.StatusXferring
	}
	if count < driver.MinRingBufferCount || count > driver.MaxRingBufferCount {
		return driver.StatusRingBufCount
	}
	d.ringCount = count
	return nil
}

func (s *Simulator) XferTimeout(h driver.Handle) (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return 0, 0, err
	}
	return d.timeoutS, d.timeoutC, nil
}

func (s *Simulator) SetXferTimeout(h driver.Handle, single, continuous uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return err
	}
	d.timeoutS, d.timeoutC = single, continuous
	return nil
}

func (s *Simulator) ResetSequenceNo(h driver.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return err
	}
	d.seq = 0
	return nil
}

// GrabSingleXfer writes the next frame into dst.
func (s *Simulator) GrabSingleXfer(h driver.Handle, dst []byte) (driver.FrameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(h)
	if err != nil {
		return driver.FrameRecord{}, err
	}
	if d.unplugged {
		return driver.FrameRecord{}, driver.StatusXferDataWait
	}
	frame, seq, err := d.nextFrame()
	if err != nil {
		return driver.FrameRecord{}, err
	}
	if len(dst) < len(frame) {
		return driver.FrameRecord{}, driver.StatusIllegalArg
	}
	n := copy(dst, frame)
	return driver.FrameRecord{Data: dst[:n], Size: uint32(n), SequenceNo: seq}, nil
}

// BeginXfer registers t. Unless the simulator is manual, a pacer goroutine
// delivers one frame per framerate period.
func (s *Simulator) BeginXfer(h driver.Handle, t driver.Trampoline) error {
	if t == nil {
		return driver.StatusIllegalArg
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.control(h)
	if err != nil {
		return err
	}
	if d.xfer != nil {
		return driver.StatusXferring
	}

	x := &xfer{t: t, stop: make(chan struct{})}
	d.xfer = x
	if !s.manual {
		x.done = make(chan struct{})
		go s.pace(d, x, time.Second/time.Duration(d.framerate))
	}
	slog.Debug("simulator: transfer started", "device_no", d.no, "framerate", d.framerate, "manual", s.manual)
	return nil
}

// EndXfer deregisters the trampoline. It returns after any trampoline call
// in progress has finished.
func (s *Simulator) EndXfer(h driver.Handle) error {
	s.mu.Lock()
	d, err := s.lookup(h)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	x := d.xfer
	d.xfer = nil
	s.mu.Unlock()

	if x == nil {
		return driver.StatusXferDataFinish
	}
	x.halt()
	slog.Debug("simulator: transfer ended", "device_no", d.no)
	return nil
}

func (s *Simulator) IsXferring(h driver.Handle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(h)
	if err != nil {
		return false, err
	}
	return d.xfer != nil, nil
}

// halt stops the pacer and waits out a trampoline call in progress.
func (x *xfer) halt() {
	close(x.stop)
	if x.done != nil {
		<-x.done
	}
	x.mu.Lock()
	x.stopped = true
	x.mu.Unlock()
}

func (s *Simulator) pace(d *device, x *xfer, interval time.Duration) {
	defer close(x.done)
	if interval <= 0 {
		interval = time.Microsecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-x.stop:
			return
		case <-ticker.C:
			s.deliver(d, x)
		}
	}
}

// deliver produces one frame (or the pending fault) and hands it to the
// trampoline. It reports false once the transfer has stopped.
func (s *Simulator) deliver(d *device, x *xfer) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stopped {
		return false
	}

	s.mu.Lock()
	var (
		rec  *driver.FrameRecord
		ferr error
	)
	switch {
	case d.unplugged:
		ferr = driver.StatusXferDataWait
	case d.fault != driver.StatusSucceeded:
		ferr, d.fault = d.fault, driver.StatusSucceeded
	default:
		frame, seq, err := d.nextFrame()
		if err != nil {
			ferr = err
			break
		}
		x.scratch = append(x.scratch[:0], frame...)
		rec = &driver.FrameRecord{Data: x.scratch, Size: uint32(len(x.scratch)), SequenceNo: seq}
	}
	s.mu.Unlock()

	x.t(rec, ferr)
	return true
}

// Trigger synchronously delivers n frames to the active transfer of
// deviceNo. Each trampoline call returns before the next starts.
func (s *Simulator) Trigger(deviceNo uint32, n int) error {
	for i := 0; i < n; i++ {
		s.mu.Lock()
		d := s.byNumber(deviceNo)
		var x *xfer
		if d != nil {
			x = d.xfer
		}
		s.mu.Unlock()

		if x == nil || !s.deliver(d, x) {
			return fmt.Errorf("simulator: device %d is not transferring", deviceNo)
		}
	}
	return nil
}

// byNumber must be called with s.mu held.
func (s *Simulator) byNumber(deviceNo uint32) *device {
	for _, d := range s.handles {
		if d.no == deviceNo {
			return d
		}
	}
	return nil
}

// InjectFault makes the next transfer delivery on deviceNo report status
// instead of a frame.
func (s *Simulator) InjectFault(deviceNo uint32, status driver.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.byNumber(deviceNo)
	if d == nil {
		return fmt.Errorf("simulator: device %d is not open", deviceNo)
	}
	d.fault = status
	return nil
}

// FailOpen makes the next n OpenDevice calls for deviceNo fail with status.
func (s *Simulator) FailOpen(deviceNo uint32, n int, status driver.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpen[deviceNo] = openFailure{remaining: n, status: status}
}

// Unplug removes deviceNo from detection. An open handle stays valid but
// commands fail with a read error and transfers time out.
func (s *Simulator) Unplug(deviceNo uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.present, deviceNo)
	if d := s.byNumber(deviceNo); d != nil {
		d.unplugged = true
	}
	slog.Info("simulator: device unplugged", "device_no", deviceNo)
}

// Plug makes deviceNo detectable again and revives its open handle.
func (s *Simulator) Plug(deviceNo uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[deviceNo] = true
	if d := s.byNumber(deviceNo); d != nil {
		d.unplugged = false
	}
	slog.Info("simulator: device plugged", "device_no", deviceNo)
}
