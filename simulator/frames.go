package simulator

import (
	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/internal/blockcodec"
)

// patternCount frames are rendered per configuration and cycled.
const patternCount = 16

type frameKey struct {
	width, height uint32
	mode          driver.DataMode
	quant         [driver.QuantizationCount]uint16
}

// frameCache holds the rendered patterns for one configuration.
type frameCache struct {
	key    frameKey
	frames [][]byte
}

func compressedSize(width, height uint32) uint32 {
	return uint32(blockcodec.FrameSize(int(width), int(height)))
}

// nextFrame returns the frame for the current sequence number and advances
// it. Compressed frames carry the sequence in their header. The returned
// slice is shared with the cache and must be copied before it escapes.
// Must be called with Simulator.mu held.
func (d *device) nextFrame() ([]byte, uint16, error) {
	key := frameKey{width: d.width, height: d.height, mode: d.mode, quant: d.quant}
	if d.frames.key != key || d.frames.frames == nil {
		frames, err := renderPatterns(key)
		if err != nil {
			return nil, 0, err
		}
		d.frames = frameCache{key: key, frames: frames}
	}

	seq := d.seq
	d.seq++
	frame := d.frames.frames[int(seq)%patternCount]
	if key.mode == driver.DataCompressed {
		blockcodec.SetSequence(frame, seq)
	}
	return frame, seq, nil
}

func renderPatterns(key frameKey) ([][]byte, error) {
	w, h := int(key.width), int(key.height)
	stride := int(driver.Align4(key.width))
	out := make([][]byte, patternCount)
	for p := range out {
		pix := Pattern(w, h, stride, p)
		if key.mode == driver.DataDecompressedGray {
			out[p] = pix
			continue
		}
		q := key.quant
		frame, err := blockcodec.Encode(pix, w, h, stride, 0, &q)
		if err != nil {
			return nil, driver.StatusIllegalResolution
		}
		out[p] = frame
	}
	return out, nil
}

// Pattern renders test image p: a diagonal gradient that shifts by 8 pixels
// per pattern, with a bright square marking the pattern index. Lines are
// stride bytes long; padding bytes are zero.
func Pattern(width, height, stride, p int) []byte {
	pix := make([]byte, stride*height)
	shift := p * 8
	for y := 0; y < height; y++ {
		row := pix[y*stride : y*stride+width]
		for x := range row {
			row[x] = byte((x + y + shift) & 0xff)
		}
	}

	size := 16
	ox := (p * size) % max(width-size, 1)
	for y := 0; y < size && y < height; y++ {
		for x := ox; x < ox+size && x < width; x++ {
			pix[y*stride+x] = 255
		}
	}
	return pix
}
