package blockcodec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// dctBasis[u][x] = C(u)/2 * cos((2x+1)u*pi/16), C(0) = 1/sqrt(2).
var dctBasis = func() (b [BlockSize][BlockSize]float64) {
	for u := 0; u < BlockSize; u++ {
		cu := 1.0
		if u == 0 {
			cu = 1 / math.Sqrt2
		}
		for x := 0; x < BlockSize; x++ {
			b[u][x] = cu / 2 * math.Cos(float64(2*x+1)*float64(u)*math.Pi/16)
		}
	}
	return b
}()

// Encode compresses an 8-bit luminance image. Partial blocks at the right and
// bottom edges are padded by repeating the last column and row.
func Encode(pix []byte, width, height, stride int, seq uint16, q *[blockCoefficients]uint16) ([]byte, error) {
	if width <= 0 || height <= 0 || width > math.MaxUint16 || height > math.MaxUint16 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrGeometry, width, height)
	}
	if stride < width {
		return nil, fmt.Errorf("%w: stride %d below width %d", ErrGeometry, stride, width)
	}
	if need := (height-1)*stride + width; len(pix) < need {
		return nil, fmt.Errorf("%w: %d bytes, image needs %d", ErrShortBuffer, len(pix), need)
	}

	out := make([]byte, FrameSize(width, height))
	putHeader(out, width, height, seq)

	bw, bh := Blocks(width), Blocks(height)
	var blk [blockCoefficients]float64
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			for r := 0; r < BlockSize; r++ {
				sy := min(by*BlockSize+r, height-1)
				for c := 0; c < BlockSize; c++ {
					sx := min(bx*BlockSize+c, width-1)
					blk[r*BlockSize+c] = float64(pix[sy*stride+sx]) - 128
				}
			}
			fdct(&blk)

			off := blockOffset(bw, bx, by)
			for k := 0; k < blockCoefficients; k++ {
				coef := blk[zigzag[k]]
				var v float64
				switch {
				case k == 0:
					v = coef / 8
				case q[k] == 0:
					v = 0
				default:
					v = coef / float64(q[k])
				}
				binary.LittleEndian.PutUint16(out[off+2*k:], uint16(saturate16(math.Round(v))))
			}
		}
	}
	return out, nil
}

// fdct applies the separable 2-D forward DCT in place (JPEG scaling).
func fdct(blk *[blockCoefficients]float64) {
	var tmp [blockCoefficients]float64
	for r := 0; r < BlockSize; r++ {
		for u := 0; u < BlockSize; u++ {
			var s float64
			for x := 0; x < BlockSize; x++ {
				s += dctBasis[u][x] * blk[r*BlockSize+x]
			}
			tmp[r*BlockSize+u] = s
		}
	}
	for u := 0; u < BlockSize; u++ {
		for v := 0; v < BlockSize; v++ {
			var s float64
			for y := 0; y < BlockSize; y++ {
				s += dctBasis[v][y] * tmp[y*BlockSize+u]
			}
			blk[v*BlockSize+u] = s
		}
	}
}

func saturate16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
