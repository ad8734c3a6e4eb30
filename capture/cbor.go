// Package capture records transferred frames to a CBOR file and replays
// them later through the same FrameCallback shape a live transfer uses.
//
// A recording is a plain sequence of CBOR maps, one per frame, so files can
// be appended to and streamed without an index. Payloads are stored in the
// vendor layout: compressed frames as received, gray frames with lines
// padded to a multiple of 4 bytes.
package capture

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	puccapture "github.com/e7canasta/puc-capture"
)

// Frame is one recorded frame.
type Frame struct {
	SessionID string    `cbor:"1,keyasint,omitempty"`
	DeviceNo  uint32    `cbor:"2,keyasint"`
	Sequence  uint16    `cbor:"3,keyasint"`
	Arrived   time.Time `cbor:"4,keyasint"`
	Width     uint32    `cbor:"5,keyasint"`
	Height    uint32    `cbor:"6,keyasint"`
	Mode      string    `cbor:"7,keyasint"`
	Data      []byte    `cbor:"8,keyasint"`
	// Quantization is the camera table at recording time, in device order.
	// Decoding a compressed frame offline needs it.
	Quantization []uint16 `cbor:"9,keyasint,omitempty"`
}

// Resolution returns the recorded frame geometry.
func (f Frame) Resolution() puccapture.Resolution {
	return puccapture.Resolution{Width: f.Width, Height: f.Height}
}

// DataMode parses the recorded payload format.
func (f Frame) DataMode() (puccapture.DataMode, error) {
	return puccapture.ParseDataMode(f.Mode)
}

// Table returns the recorded quantization table, if any.
func (f Frame) Table() (puccapture.QuantizationTable, bool) {
	if len(f.Quantization) != puccapture.QuantizationCount {
		return puccapture.QuantizationTable{}, false
	}
	var v [puccapture.QuantizationCount]uint16
	copy(v[:], f.Quantization)
	return puccapture.QuantizationFromArray(v), true
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: CBOR decoder mode: %v", err))
	}
}

// EncodeFrame encodes a single frame.
func EncodeFrame(f Frame) ([]byte, error) {
	return encMode.Marshal(f)
}

// DecodeFrame decodes a single frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func newEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

func newDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
