// Package blockcodec implements the reference 8x8 block format used by the
// simulator and by offline tests.
//
// Layout of one compressed frame:
//
//	offset  size  field
//	0       2     magic "PC"
//	2       1     version (1)
//	3       1     flags (0)
//	4       2     sequence number, little endian
//	6       2     width in pixels, little endian
//	8       2     height in pixels, little endian
//	10      6     reserved
//	16      ...   ceil(w/8) * ceil(h/8) blocks, row-major
//
// Each block is 64 little-endian int16 values in zig-zag order. Slot 0 is the
// DC term stored as the rounded block mean minus 128; it is not quantized, so
// q[0] has no effect. Slots 1..63 are AC terms divided by q[k].
package blockcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderSize = 16
	BlockSize  = 8

	blockCoefficients = 64
	blockBytes        = blockCoefficients * 2
	formatVersion     = 1
)

var (
	ErrHeader      = errors.New("blockcodec: invalid header")
	ErrGeometry    = errors.New("blockcodec: invalid geometry")
	ErrShortBuffer = errors.New("blockcodec: buffer too short")
)

// zigzag maps a zig-zag position to its natural (row-major) index in a block.
var zigzag = [blockCoefficients]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// Header is the fixed frame header.
type Header struct {
	Version  uint8
	Flags    uint8
	Sequence uint16
	Width    uint16
	Height   uint16
}

// Blocks returns how many 8-pixel blocks cover n pixels.
func Blocks(n int) int {
	return (n + BlockSize - 1) / BlockSize
}

// FrameSize returns the encoded size of a width x height frame.
func FrameSize(width, height int) int {
	return HeaderSize + Blocks(width)*Blocks(height)*blockBytes
}

// ParseHeader validates the header and that src holds the whole frame.
func ParseHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortBuffer, len(src), HeaderSize)
	}
	if src[0] != 'P' || src[1] != 'C' {
		return Header{}, fmt.Errorf("%w: magic %q", ErrHeader, src[0:2])
	}

	h := Header{
		Version:  src[2],
		Flags:    src[3],
		Sequence: binary.LittleEndian.Uint16(src[4:]),
		Width:    binary.LittleEndian.Uint16(src[6:]),
		Height:   binary.LittleEndian.Uint16(src[8:]),
	}
	if h.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: version %d", ErrHeader, h.Version)
	}
	if h.Width == 0 || h.Height == 0 {
		return Header{}, fmt.Errorf("%w: empty frame %dx%d", ErrHeader, h.Width, h.Height)
	}
	if need := FrameSize(int(h.Width), int(h.Height)); len(src) < need {
		return Header{}, fmt.Errorf("%w: %d bytes, frame needs %d", ErrShortBuffer, len(src), need)
	}
	return h, nil
}

// SetSequence rewrites the sequence number of an encoded frame in place.
func SetSequence(frame []byte, seq uint16) {
	binary.LittleEndian.PutUint16(frame[4:], seq)
}

func putHeader(dst []byte, width, height int, seq uint16) {
	dst[0], dst[1] = 'P', 'C'
	dst[2] = formatVersion
	dst[3] = 0
	binary.LittleEndian.PutUint16(dst[4:], seq)
	binary.LittleEndian.PutUint16(dst[6:], uint16(width))
	binary.LittleEndian.PutUint16(dst[8:], uint16(height))
	for i := 10; i < HeaderSize; i++ {
		dst[i] = 0
	}
}

func blockOffset(blocksPerRow, bx, by int) int {
	return HeaderSize + (by*blocksPerRow+bx)*blockBytes
}

func coefficient(src []byte, off, k int) int32 {
	return int32(int16(binary.LittleEndian.Uint16(src[off+2*k:])))
}

// checkRegion validates a pixel region against the frame in h.
func checkRegion(h Header, x, y, width, height int) error {
	if x < 0 || y < 0 || x%BlockSize != 0 || y%BlockSize != 0 {
		return fmt.Errorf("%w: origin (%d,%d) is not block aligned", ErrGeometry, x, y)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrGeometry, width, height)
	}
	if x+width > int(h.Width) || y+height > int(h.Height) {
		return fmt.Errorf("%w: region (%d,%d %dx%d) exceeds frame %dx%d",
			ErrGeometry, x, y, width, height, h.Width, h.Height)
	}
	return nil
}
