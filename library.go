package puccapture

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/internal/retry"
)

// RetryConfig is the backoff schedule for opening devices.
type RetryConfig = retry.Config

// DefaultRetryConfig retries twice, starting at 100ms.
func DefaultRetryConfig() RetryConfig { return retry.DefaultConfig() }

// Library is the process-level lifecycle object for one driver: it
// initializes the vendor library once, enumerates devices and tracks the
// cameras it created. Close it at exit.
type Library struct {
	drv      driver.Driver
	codec    driver.Codec
	retryCfg RetryConfig

	mu          sync.Mutex
	initialized bool
	cameras     map[uint32]*Camera
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithCodec sets the decode primitives. By default the driver is used when
// it implements driver.Codec.
func WithCodec(codec driver.Codec) LibraryOption {
	return func(l *Library) { l.codec = codec }
}

// WithRetry sets the open backoff schedule.
func WithRetry(cfg RetryConfig) LibraryOption {
	return func(l *Library) { l.retryCfg = cfg }
}

// NewLibrary wraps drv. Call Init before any other method.
func NewLibrary(drv driver.Driver, opts ...LibraryOption) *Library {
	l := &Library{
		drv:      drv,
		retryCfg: DefaultRetryConfig(),
		cameras:  make(map[uint32]*Camera),
	}
	if codec, ok := drv.(driver.Codec); ok {
		l.codec = codec
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Codec returns the decode primitives, or nil.
func (l *Library) Codec() driver.Codec { return l.codec }

// Init initializes the vendor library. Calling it again is a no-op.
func (l *Library) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return nil
	}
	if err := fromDriver("PUC_Initialize", l.drv.Initialize()); err != nil && !errors.Is(err, ErrAlreadyInitialized) {
		return err
	}
	l.initialized = true
	slog.Info("puc-capture: library initialized")
	return nil
}

// Detect returns the device numbers currently present, ascending. The set
// may change across plug and unplug.
func (l *Library) Detect() ([]uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkInit("PUC_DetectDevice"); err != nil {
		return nil, err
	}
	return l.detect()
}

func (l *Library) detect() ([]uint32, error) {
	devices, err := l.drv.DetectDevices()
	if err != nil {
		return nil, fromDriver("PUC_DetectDevice", err)
	}
	out := append([]uint32(nil), devices...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (l *Library) checkInit(op string) error {
	if !l.initialized {
		return newError(op, KindNotInitialized, "library not initialized")
	}
	return nil
}

// Create returns a camera for deviceNo, opening it when open is true. A
// device number that is not present fails with DeviceNotFound. Creating a
// number that already has a camera closes the old one first.
func (l *Library) Create(ctx context.Context, deviceNo uint32, open bool) (*Camera, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkInit("PUC_OpenDevice"); err != nil {
		return nil, err
	}
	if deviceNo >= MaxDevices {
		return nil, newError("PUC_OpenDevice", KindInvalidArgument, "device number %d outside [0,%d]", deviceNo, MaxDevices-1)
	}
	present, err := l.detect()
	if err != nil {
		return nil, err
	}
	if !contains(present, deviceNo) {
		return nil, &Error{Op: "PUC_OpenDevice", Code: driver.StatusNotExistDeviceNo, Kind: KindDeviceNotFound,
			Err: errors.New(driver.StatusNotExistDeviceNo.Message())}
	}

	if old, ok := l.cameras[deviceNo]; ok {
		old.Close()
		delete(l.cameras, deviceNo)
	}

	cam := NewCamera(l.drv, l.codec, deviceNo)
	cam.retryCfg = l.retryCfg
	if open {
		if err := cam.Open(ctx); err != nil {
			return nil, err
		}
	}
	l.cameras[deviceNo] = cam
	return cam, nil
}

// Release closes and forgets the camera for deviceNo. Releasing a number
// that was never created returns nil.
func (l *Library) Release(deviceNo uint32) error {
	l.mu.Lock()
	cam, ok := l.cameras[deviceNo]
	delete(l.cameras, deviceNo)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	return cam.Close()
}

// Cameras returns the created cameras ordered by device number.
func (l *Library) Cameras() []*Camera {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Camera, 0, len(l.cameras))
	for _, c := range l.cameras {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].deviceNo < out[j].deviceNo })
	return out
}

// Close closes every camera, best effort like Camera.Close. The library can
// be initialized again afterwards.
func (l *Library) Close() error {
	l.mu.Lock()
	cams := l.cameras
	l.cameras = make(map[uint32]*Camera)
	l.initialized = false
	l.mu.Unlock()

	for _, c := range cams {
		c.Close()
	}
	slog.Info("puc-capture: library closed", "cameras", len(cams))
	return nil
}

func contains(list []uint32, v uint32) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
