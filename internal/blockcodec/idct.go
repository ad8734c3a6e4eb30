package blockcodec

// Fixed-point IDCT weights, 2048*sqrt(2)*cos(k*pi/16).
const (
	w1 = 2841
	w2 = 2676
	w3 = 2408
	w5 = 1609
	w6 = 1108
	w7 = 565
)

// idct transforms blk (natural order, dequantized) in place and writes the
// level-shifted 8x8 pixels to out with the given stride.
func idct(blk *[blockCoefficients]int32, out []byte, stride int) {
	for row := 0; row < blockCoefficients; row += BlockSize {
		idctRow(blk[row : row+BlockSize])
	}
	for col := 0; col < BlockSize; col++ {
		idctCol(blk, col, out[col:], stride)
	}
}

func idctRow(b []int32) {
	_ = b[7]

	x1 := b[4] << 11
	x2 := b[6]
	x3 := b[2]
	x4 := b[1]
	x5 := b[7]
	x6 := b[5]
	x7 := b[3]

	if x1|x2|x3|x4|x5|x6|x7 == 0 {
		dc := b[0] << 3
		for i := range b[:8] {
			b[i] = dc
		}
		return
	}

	x0 := (b[0] << 11) + 128

	x8 := w7 * (x4 + x5)
	x4 = x8 + (w1-w7)*x4
	x5 = x8 - (w1+w7)*x5
	x8 = w3 * (x6 + x7)
	x6 = x8 - (w3-w5)*x6
	x7 = x8 - (w3+w5)*x7

	x8 = x0 + x1
	x0 -= x1
	x1 = w6 * (x3 + x2)
	x2 = x1 - (w2+w6)*x2
	x3 = x1 + (w2-w6)*x3

	x1 = x4 + x6
	x4 -= x6
	x6 = x5 + x7
	x5 -= x7

	x7 = x8 + x3
	x8 -= x3
	x3 = x0 + x2
	x0 -= x2

	x2 = (181*(x4+x5) + 128) >> 8
	x4 = (181*(x4-x5) + 128) >> 8

	b[0] = (x7 + x1) >> 8
	b[1] = (x3 + x2) >> 8
	b[2] = (x0 + x4) >> 8
	b[3] = (x8 + x6) >> 8
	b[4] = (x8 - x6) >> 8
	b[5] = (x0 - x4) >> 8
	b[6] = (x3 - x2) >> 8
	b[7] = (x7 - x1) >> 8
}

func idctCol(blk *[blockCoefficients]int32, col int, out []byte, stride int) {
	_ = out[7*stride]

	x1 := blk[col+8*4] << 8
	x2 := blk[col+8*6]
	x3 := blk[col+8*2]
	x4 := blk[col+8*1]
	x5 := blk[col+8*7]
	x6 := blk[col+8*5]
	x7 := blk[col+8*3]

	if x1|x2|x3|x4|x5|x6|x7 == 0 {
		v := clip(((blk[col] + 32) >> 6) + 128)
		for i := 0; i < BlockSize; i++ {
			out[i*stride] = v
		}
		return
	}

	x0 := (blk[col] << 8) + 8192

	x8 := w7*(x4+x5) + 4
	x4 = (x8 + (w1-w7)*x4) >> 3
	x5 = (x8 - (w1+w7)*x5) >> 3
	x8 = w3*(x6+x7) + 4
	x6 = (x8 - (w3-w5)*x6) >> 3
	x7 = (x8 - (w3+w5)*x7) >> 3

	x8 = x0 + x1
	x0 -= x1
	x1 = w6*(x3+x2) + 4
	x2 = (x1 - (w2+w6)*x2) >> 3
	x3 = (x1 + (w2-w6)*x3) >> 3

	x1 = x4 + x6
	x4 -= x6
	x6 = x5 + x7
	x5 -= x7

	x7 = x8 + x3
	x8 -= x3
	x3 = x0 + x2
	x0 -= x2

	x2 = (181*(x4+x5) + 128) >> 8
	x4 = (181*(x4-x5) + 128) >> 8

	out[0*stride] = clip(((x7 + x1) >> 14) + 128)
	out[1*stride] = clip(((x3 + x2) >> 14) + 128)
	out[2*stride] = clip(((x0 + x4) >> 14) + 128)
	out[3*stride] = clip(((x8 + x6) >> 14) + 128)
	out[4*stride] = clip(((x8 - x6) >> 14) + 128)
	out[5*stride] = clip(((x0 - x4) >> 14) + 128)
	out[6*stride] = clip(((x3 - x2) >> 14) + 128)
	out[7*stride] = clip(((x7 - x1) >> 14) + 128)
}

// clip clamps x to the 8-bit pixel range.
func clip(x int32) byte {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return byte(x)
}
