package puccapture

import (
	"fmt"
	"time"

	"github.com/e7canasta/puc-capture/driver"
)

// Vendor limits re-exported for callers that do not import driver.
const (
	MaxDevices          = driver.MaxDevices
	QuantizationCount   = driver.QuantizationCount
	MinRingBufferCount  = driver.MinRingBufferCount
	MaxRingBufferCount  = driver.MaxRingBufferCount
	MaxDecodeThreads    = driver.MaxDecodeThreads
	TimeoutAuto         = driver.XferTimeoutAuto
	TimeoutInfinite     = driver.XferTimeoutInfinite
	blockSize           = 8
	maxFrameBytes       = 1 << 30
	arrivalWindowFrames = 256
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  uint32
	Height uint32
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Pixels returns Width*Height.
func (r Resolution) Pixels() int {
	return int(r.Width) * int(r.Height)
}

// DataMode is the payload format of transferred frames.
type DataMode int

const (
	// DataModeCompressed is the block-encoded format decoded by Decoder.
	DataModeCompressed DataMode = iota
	// DataModeDecompressedGray is 8-bit luminance with lines padded to a
	// multiple of 4 bytes.
	DataModeDecompressedGray
)

func (m DataMode) String() string {
	switch m {
	case DataModeCompressed:
		return "compressed"
	case DataModeDecompressedGray:
		return "gray"
	default:
		return fmt.Sprintf("DataMode(%d)", int(m))
	}
}

// ParseDataMode accepts "compressed" and "gray".
func ParseDataMode(s string) (DataMode, error) {
	switch s {
	case "compressed", "":
		return DataModeCompressed, nil
	case "gray", "decompressed_gray":
		return DataModeDecompressedGray, nil
	default:
		return 0, fmt.Errorf("puc-capture: unknown data mode %q (want compressed or gray)", s)
	}
}

func (m DataMode) driverMode() driver.DataMode {
	if m == DataModeDecompressedGray {
		return driver.DataDecompressedGray
	}
	return driver.DataCompressed
}

func dataModeFromDriver(m driver.DataMode) DataMode {
	if m == driver.DataDecompressedGray {
		return DataModeDecompressedGray
	}
	return DataModeCompressed
}

// Region selects the decoded rectangle and the destination layout.
//
// X and Y must be 0 or multiples of 8. Width and Height need not be; blocks
// at the far edges are clipped. Stride is the destination line length in
// bytes: 0 selects Width rounded up to a multiple of 4, any other value must
// be at least Width and a multiple of 4.
type Region struct {
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
	Stride uint32
}

// FullFrame returns the region covering a whole frame.
func FullFrame(res Resolution) Region {
	return Region{Width: res.Width, Height: res.Height}
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d stride=%d)", r.X, r.Y, r.Width, r.Height, r.Stride)
}

// lineBytes returns the effective destination stride.
func (r Region) lineBytes() uint32 {
	if r.Stride == 0 {
		return driver.Align4(r.Width)
	}
	return r.Stride
}

func (r Region) validate(op string) error {
	if r.X%blockSize != 0 || r.Y%blockSize != 0 {
		return newError(op, KindInvalidArgument, "region origin (%d,%d) must be a multiple of %d", r.X, r.Y, blockSize)
	}
	if r.Width == 0 || r.Height == 0 {
		return newError(op, KindInvalidArgument, "region size %dx%d must be positive", r.Width, r.Height)
	}
	if r.Stride != 0 && (r.Stride < r.Width || r.Stride%4 != 0) {
		return newError(op, KindInvalidArgument, "stride %d must be >= width %d and a multiple of 4", r.Stride, r.Width)
	}
	return nil
}

// Timeouts are the vendor transfer timeouts in milliseconds. TimeoutAuto
// derives the bound from the framerate; TimeoutInfinite disables it.
type Timeouts struct {
	Single     uint32
	Continuous uint32
}

// SessionState is the continuous transfer state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateActive
)

func (s SessionState) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// TransferStats is a snapshot of one continuous transfer session.
type TransferStats struct {
	SessionID string
	DeviceNo  uint32
	State     SessionState
	StartedAt time.Time

	// Frames handed over by the vendor trampoline.
	FramesReceived uint64
	// Frames the callback returned from.
	FramesDelivered uint64
	// Frames lost to a full ring, to End, or after a callback failure.
	FramesDropped uint64
	// Missing sequence numbers between consecutive delivered frames.
	SequenceGaps uint64
	// Transfer-level failures reported through the trampoline.
	Faults uint64

	RingCapacity int
	QueueDepth   int
	LastSequence uint16

	ArrivalFPS float64
	JitterMean float64 // seconds
	IsStable   bool

	LastError     string
	CallbackError string
}

// DropRate returns dropped / received, or 0 before the first frame.
func (s TransferStats) DropRate() float64 {
	if s.FramesReceived == 0 {
		return 0
	}
	return float64(s.FramesDropped) / float64(s.FramesReceived)
}
