// Package driver describes the vendor camera library as seen by puc-capture.
//
// The vendor library owns device enumeration, the command protocol over the
// transport link, continuous image transfer and the block decoder inner loop.
// This package only names that surface: a Driver for device control and
// transfer, a Codec for the raw decode primitives, and the Status codes every
// call reports. Implementations live in driver/puclib (cgo binding to the
// vendor DLL) and in the simulator package.
//
// Every method returns nil on success and a Status (or an error wrapping one)
// on failure. The root package converts those into typed errors.
package driver

// Vendor limits.
const (
	MaxDevices          = 16
	QuantizationCount   = 64
	MinRingBufferCount  = 4
	MaxRingBufferCount  = 65535
	MaxDecodeThreads    = 32
	XferTimeoutAuto     = 0
	XferTimeoutInfinite = 0xFFFFFFFF
)

// Handle is an opaque token for one open device. Its value is meaningful only
// to the Driver that issued it.
type Handle uintptr

// DataMode selects the payload format the device transfers.
type DataMode uint32

const (
	DataCompressed       DataMode = 0
	DataDecompressedGray DataMode = 1
)

// FrameRecord is the vendor transfer record (PUC_XFER_DATA_INFO).
//
// Inside a Trampoline, Data aliases memory owned by the acquisition subsystem
// and is valid only until the trampoline returns.
type FrameRecord struct {
	Data       []byte
	Size       uint32
	SequenceNo uint16
}

// Trampoline receives one completed frame arrival. It runs on a goroutine or
// OS thread owned by the driver, never on the caller of BeginXfer.
//
// err is non-nil when the driver reports a transfer-level failure (for
// example a continuous transfer timeout) instead of a frame; rec is nil then.
type Trampoline func(rec *FrameRecord, err error)

// Driver is the device control and transfer surface.
type Driver interface {
	Initialize() error
	DetectDevices() ([]uint32, error)

	OpenDevice(deviceNo uint32) (Handle, error)
	CloseDevice(h Handle) error

	Quantization(h Handle, index uint32) (uint16, error)
	SetQuantization(h Handle, index uint32, value uint16) error

	Resolution(h Handle) (width, height uint32, err error)
	SetResolution(h Handle, width, height uint32) error
	XferDataMode(h Handle) (DataMode, error)
	SetXferDataMode(h Handle, mode DataMode) error
	XferDataSize(h Handle, mode DataMode) (uint32, error)
	FramerateShutter(h Handle) (framerate, shutterFps uint32, err error)
	SetFramerateShutter(h Handle, framerate, shutterFps uint32) error

	RingBufferCount(h Handle) (uint32, error)
	SetRingBufferCount(h Handle, count uint32) error
	XferTimeout(h Handle) (single, continuous uint32, err error)
	SetXferTimeout(h Handle, single, continuous uint32) error
	ResetSequenceNo(h Handle) error

	// GrabSingleXfer copies one frame into dst, which must hold at least
	// XferDataSize bytes for the current data mode.
	GrabSingleXfer(h Handle, dst []byte) (FrameRecord, error)

	// BeginXfer registers t for continuous transfer. EndXfer deregisters it;
	// once EndXfer returns, t is never invoked again.
	BeginXfer(h Handle, t Trampoline) error
	EndXfer(h Handle) error
	IsXferring(h Handle) (bool, error)
}

// Codec holds the raw decode primitives. Geometry is in pixels for the
// luminance and coefficient calls and in blocks for DecodeDCData. q points at the
// 64 quantization values in device order. Implementations must be safe for
// concurrent use on disjoint destinations.
//
// lineBytes is the destination line length in bytes. DecodeDCTData takes
// lineLen in int16 values instead, a multiple of four.
type Codec interface {
	DecodeData(dst []byte, x, y, width, height, lineBytes uint32, src []byte, q *[QuantizationCount]uint16) error
	DecodeDataMultiThread(dst []byte, x, y, width, height, lineBytes uint32, src []byte, q *[QuantizationCount]uint16, threads uint32) error
	DecodeDCTData(dst []int16, x, y, width, height, lineLen uint32, src []byte, q *[QuantizationCount]uint16) error
	DecodeDCData(dst []byte, blockX, blockY, blockCountX, blockCountY uint32, src []byte) error
	ExtractSequenceNo(src []byte, width, height uint32) (uint16, error)
}

// Align4 rounds n up to a multiple of four, the vendor's line alignment for
// decompressed images.
func Align4(n uint32) uint32 {
	return (n + 3) &^ 3
}
