package blockcodec

import (
	"fmt"
	"math"
)

// DecodeLuma decodes the region (x, y, width, height) of src into dst, one
// byte per pixel, stride bytes per line. The origin must be block aligned;
// the far edges may cut through blocks.
func DecodeLuma(dst []byte, x, y, width, height, stride int, src []byte, q *[blockCoefficients]uint16) error {
	h, err := ParseHeader(src)
	if err != nil {
		return err
	}
	if err := checkRegion(h, x, y, width, height); err != nil {
		return err
	}
	if err := checkDestination(len(dst), width, height, stride); err != nil {
		return err
	}

	bw := Blocks(int(h.Width))
	var (
		blk [blockCoefficients]int32
		pix [blockCoefficients]byte
	)
	for by := y / BlockSize; by*BlockSize < y+height; by++ {
		oy := by*BlockSize - y
		rows := min(BlockSize, height-oy)
		for bx := x / BlockSize; bx*BlockSize < x+width; bx++ {
			ox := bx*BlockSize - x
			cols := min(BlockSize, width-ox)

			dequantize(src, blockOffset(bw, bx, by), q, &blk)
			idct(&blk, pix[:], BlockSize)

			for r := 0; r < rows; r++ {
				line := (oy+r)*stride + ox
				copy(dst[line:line+cols], pix[r*BlockSize:r*BlockSize+cols])
			}
		}
	}
	return nil
}

// DecodeCoefficients writes the dequantized coefficients of every block
// covering the region into dst at the pixel position each coefficient
// occupies in its block (natural order), stride values per line.
func DecodeCoefficients(dst []int16, x, y, width, height, stride int, src []byte, q *[blockCoefficients]uint16) error {
	h, err := ParseHeader(src)
	if err != nil {
		return err
	}
	if err := checkRegion(h, x, y, width, height); err != nil {
		return err
	}
	if err := checkDestination(len(dst), width, height, stride); err != nil {
		return err
	}

	bw := Blocks(int(h.Width))
	var blk [blockCoefficients]int32
	for by := y / BlockSize; by*BlockSize < y+height; by++ {
		oy := by*BlockSize - y
		rows := min(BlockSize, height-oy)
		for bx := x / BlockSize; bx*BlockSize < x+width; bx++ {
			ox := bx*BlockSize - x
			cols := min(BlockSize, width-ox)

			dequantize(src, blockOffset(bw, bx, by), q, &blk)
			for r := 0; r < rows; r++ {
				line := (oy+r)*stride + ox
				for c := 0; c < cols; c++ {
					dst[line+c] = int16(blk[r*BlockSize+c])
				}
			}
		}
	}
	return nil
}

// DecodeDC writes clip(dc+128) for countX x countY blocks starting at block
// (blockX, blockY), row-major, one byte per block.
func DecodeDC(dst []byte, blockX, blockY, countX, countY int, src []byte) error {
	h, err := ParseHeader(src)
	if err != nil {
		return err
	}
	bw, bh := Blocks(int(h.Width)), Blocks(int(h.Height))
	if blockX < 0 || blockY < 0 || countX <= 0 || countY <= 0 || blockX+countX > bw || blockY+countY > bh {
		return fmt.Errorf("%w: blocks (%d,%d %dx%d) exceed %dx%d",
			ErrGeometry, blockX, blockY, countX, countY, bw, bh)
	}
	if len(dst) < countX*countY {
		return fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(dst), countX*countY)
	}

	for j := 0; j < countY; j++ {
		for i := 0; i < countX; i++ {
			dc := coefficient(src, blockOffset(bw, blockX+i, blockY+j), 0)
			dst[j*countX+i] = clip(dc + 128)
		}
	}
	return nil
}

// ExtractSequence returns the sequence number of a frame whose header
// declares width x height.
func ExtractSequence(src []byte, width, height int) (uint16, error) {
	h, err := ParseHeader(src)
	if err != nil {
		return 0, err
	}
	if int(h.Width) != width || int(h.Height) != height {
		return 0, fmt.Errorf("%w: frame is %dx%d, expected %dx%d", ErrHeader, h.Width, h.Height, width, height)
	}
	return h.Sequence, nil
}

func dequantize(src []byte, off int, q *[blockCoefficients]uint16, blk *[blockCoefficients]int32) {
	*blk = [blockCoefficients]int32{}
	blk[0] = saturate32(coefficient(src, off, 0) * 8)
	for k := 1; k < blockCoefficients; k++ {
		v := coefficient(src, off, k)
		if v == 0 {
			continue
		}
		blk[zigzag[k]] = saturate32(v * int32(q[k]))
	}
}

func saturate32(v int32) int32 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return v
}

func checkDestination(n, width, height, stride int) error {
	if stride < width {
		return fmt.Errorf("%w: stride %d below width %d", ErrGeometry, stride, width)
	}
	if need := (height-1)*stride + width; n < need {
		return fmt.Errorf("%w: %d destination elements, need %d", ErrShortBuffer, n, need)
	}
	return nil
}
