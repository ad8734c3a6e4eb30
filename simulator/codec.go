package simulator

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/internal/blockcodec"
)

// codecStatus maps a blockcodec failure to the vendor status.
func codecStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, blockcodec.ErrGeometry):
		return fmt.Errorf("%w: %w", driver.StatusIllegalArg, err)
	default:
		return fmt.Errorf("%w: %w", driver.StatusXferDataInvalidHeader, err)
	}
}

func (s *Simulator) DecodeData(dst []byte, x, y, width, height, lineBytes uint32, src []byte, q *[driver.QuantizationCount]uint16) error {
	if q == nil {
		return driver.StatusIllegalArg
	}
	return codecStatus(blockcodec.DecodeLuma(dst, int(x), int(y), int(width), int(height), int(lineBytes), src, q))
}

// DecodeDataMultiThread splits the region into block-row bands, one
// goroutine per band.
func (s *Simulator) DecodeDataMultiThread(dst []byte, x, y, width, height, lineBytes uint32, src []byte, q *[driver.QuantizationCount]uint16, threads uint32) error {
	if q == nil || threads == 0 || threads > driver.MaxDecodeThreads {
		return driver.StatusIllegalArg
	}
	rows := (height + blockcodec.BlockSize - 1) / blockcodec.BlockSize
	n := min(threads, rows)
	if n <= 1 {
		return s.DecodeData(dst, x, y, width, height, lineBytes, src, q)
	}

	per := (rows + n - 1) / n * blockcodec.BlockSize
	var g errgroup.Group
	for top := uint32(0); top < height; top += per {
		bandH := min(per, height-top)
		off := uint64(top) * uint64(lineBytes)
		if off > uint64(len(dst)) {
			return driver.StatusIllegalArg
		}
		out := dst[off:]
		g.Go(func() error {
			return s.DecodeData(out, x, y+top, width, bandH, lineBytes, src, q)
		})
	}
	return g.Wait()
}

func (s *Simulator) DecodeDCTData(dst []int16, x, y, width, height, lineLen uint32, src []byte, q *[driver.QuantizationCount]uint16) error {
	if q == nil || lineLen%4 != 0 {
		return driver.StatusIllegalArg
	}
	return codecStatus(blockcodec.DecodeCoefficients(dst, int(x), int(y), int(width), int(height), int(lineLen), src, q))
}

func (s *Simulator) DecodeDCData(dst []byte, blockX, blockY, blockCountX, blockCountY uint32, src []byte) error {
	return codecStatus(blockcodec.DecodeDC(dst, int(blockX), int(blockY), int(blockCountX), int(blockCountY), src))
}

func (s *Simulator) ExtractSequenceNo(src []byte, width, height uint32) (uint16, error) {
	seq, err := blockcodec.ExtractSequence(src, int(width), int(height))
	return seq, codecStatus(err)
}
