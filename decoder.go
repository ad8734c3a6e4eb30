package puccapture

import (
	"image"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/puc-capture/driver"
)

// Decoder turns compressed frames into luminance pixels, dequantized DCT
// coefficients or per-block DC values.
//
// A Decoder owns its quantization table. Decode calls take a snapshot of the
// table, so concurrent decodes are safe and SetQuantization never tears a
// decode in flight.
//
// DecodeLuminance with threads > 1 splits the region into row bands of whole
// blocks, decodes the bands concurrently and joins them before returning.
// Blocks decode independently, so the output is bit-identical for every
// thread count.
type Decoder struct {
	codec driver.Codec

	mu             sync.RWMutex
	table          QuantizationTable
	vendorThreads  bool
	defaultThreads int
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithVendorThreading hands multi-thread decodes to the codec's own
// DecodeDataMultiThread instead of splitting bands here.
func WithVendorThreading() DecoderOption {
	return func(d *Decoder) { d.vendorThreads = true }
}

// WithDefaultThreads sets the thread count used by DecodeBuffer.
func WithDefaultThreads(n int) DecoderOption {
	return func(d *Decoder) { d.defaultThreads = n }
}

// NewDecoder creates a decoder over codec with the given table.
func NewDecoder(codec driver.Codec, table QuantizationTable, opts ...DecoderOption) (*Decoder, error) {
	if codec == nil {
		return nil, newError("NewDecoder", KindInvalidArgument, "nil codec")
	}
	d := &Decoder{codec: codec, table: table, defaultThreads: 1}
	for _, opt := range opts {
		opt(d)
	}
	if err := checkThreads("NewDecoder", d.defaultThreads); err != nil {
		return nil, err
	}
	return d, nil
}

// Threads returns the thread count DecodeBuffer uses.
func (d *Decoder) Threads() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaultThreads
}

// Quantization returns the current table.
func (d *Decoder) Quantization() QuantizationTable {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.table
}

// SetQuantization replaces the whole table; see QuantizationFromList for
// clamping and size rules.
func (d *Decoder) SetQuantization(values []int) error {
	t, err := QuantizationFromList(values)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.table = t
	d.mu.Unlock()
	return nil
}

// DecodeLuminance decodes region of src into a tight Width*Height slice.
func (d *Decoder) DecodeLuminance(src []byte, region Region, threads int) ([]byte, error) {
	if err := region.validate("DecodeLuminance"); err != nil {
		return nil, err
	}
	stride := region.lineBytes()
	dst, err := allocate("DecodeLuminance", uint64(stride)*uint64(region.Height))
	if err != nil {
		return nil, err
	}
	if err := d.DecodeLuminanceInto(dst, src, region, threads); err != nil {
		return nil, err
	}
	if stride == region.Width {
		return dst, nil
	}
	out := make([]byte, int(region.Width)*int(region.Height))
	copyWithoutAlign(out, dst, int(region.Width), int(region.Height), int(stride))
	return out, nil
}

// DecodeLuminanceInto decodes region of src into dst using region's stride.
func (d *Decoder) DecodeLuminanceInto(dst, src []byte, region Region, threads int) error {
	const op = "DecodeLuminance"
	if err := region.validate(op); err != nil {
		return err
	}
	if err := checkThreads(op, threads); err != nil {
		return err
	}
	if len(src) == 0 {
		return newError(op, KindInvalidArgument, "empty source")
	}
	stride := region.lineBytes()
	if need := uint64(stride)*uint64(region.Height-1) + uint64(region.Width); uint64(len(dst)) < need {
		return newError(op, KindInvalidArgument, "%w: destination holds %d bytes, need %d", ErrSizeMismatch, len(dst), need)
	}

	q := d.Quantization().ptr()
	blockRows := int((region.Height + blockSize - 1) / blockSize)
	bands := min(threads, blockRows)

	if bands <= 1 {
		return fromDriver("PUC_DecodeData",
			d.codec.DecodeData(dst, region.X, region.Y, region.Width, region.Height, stride, src, q))
	}

	d.mu.RLock()
	vendor := d.vendorThreads
	d.mu.RUnlock()
	if vendor {
		return fromDriver("PUC_DecodeDataMultiThread",
			d.codec.DecodeDataMultiThread(dst, region.X, region.Y, region.Width, region.Height, stride, src, q, uint32(threads)))
	}

	var g errgroup.Group
	for _, b := range splitBands(region, blockRows, bands) {
		g.Go(func() error {
			out := dst[b.rowOffset*int(stride):]
			return fromDriver("PUC_DecodeData",
				d.codec.DecodeData(out, region.X, b.y, region.Width, b.height, stride, src, q))
		})
	}
	return g.Wait()
}

// band is a horizontal slice of a region made of whole block rows.
type band struct {
	y         uint32 // absolute frame row
	height    uint32
	rowOffset int // first destination row
}

// splitBands partitions blockRows block rows into n bands whose sizes differ
// by at most one block row.
func splitBands(region Region, blockRows, n int) []band {
	out := make([]band, 0, n)
	base, extra := blockRows/n, blockRows%n
	row := 0
	for i := 0; i < n; i++ {
		rows := base
		if i < extra {
			rows++
		}
		top := uint32(row * blockSize)
		height := min(uint32(rows*blockSize), region.Height-top)
		out = append(out, band{y: region.Y + top, height: height, rowOffset: int(top)})
		row += rows
	}
	return out
}

// DecodeCoefficients returns the dequantized coefficients of the region,
// Width*Height values, tight. The codec writes lines of Align4(Width) values.
func (d *Decoder) DecodeCoefficients(src []byte, region Region) ([]int16, error) {
	const op = "DecodeCoefficients"
	if err := region.validate(op); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, newError(op, KindInvalidArgument, "empty source")
	}
	stride := driver.Align4(region.Width)
	n := uint64(stride) * uint64(region.Height)
	if n*2 > maxFrameBytes {
		return nil, newError(op, KindAllocation, "%d coefficients exceeds the frame limit", n)
	}
	dst := make([]int16, n)
	err := d.codec.DecodeDCTData(dst, region.X, region.Y, region.Width, region.Height, stride, src, d.Quantization().ptr())
	if err != nil {
		return nil, fromDriver("PUC_DecodeDCTData", err)
	}
	if stride == region.Width {
		return dst, nil
	}
	w := int(region.Width)
	out := make([]int16, w*int(region.Height))
	for y := 0; y < int(region.Height); y++ {
		copy(out[y*w:(y+1)*w], dst[y*int(stride):])
	}
	return out, nil
}

// DecodeDC returns one byte per block for countX*countY blocks starting at
// block (blockX, blockY), row-major. No dequantization or IDCT is done.
func (d *Decoder) DecodeDC(src []byte, blockX, blockY, countX, countY uint32) ([]byte, error) {
	const op = "DecodeDC"
	if countX == 0 || countY == 0 {
		return nil, newError(op, KindInvalidArgument, "block count %dx%d must be positive", countX, countY)
	}
	if len(src) == 0 {
		return nil, newError(op, KindInvalidArgument, "empty source")
	}
	dst, err := allocate(op, uint64(countX)*uint64(countY))
	if err != nil {
		return nil, err
	}
	if err := d.codec.DecodeDCData(dst, blockX, blockY, countX, countY, src); err != nil {
		return nil, fromDriver("PUC_DecodeDCData", err)
	}
	return dst, nil
}

// ExtractSequenceNumber reads the sequence counter embedded in a compressed
// frame of the given size. It does not use the quantization table.
func (d *Decoder) ExtractSequenceNumber(src []byte, width, height uint32) (uint16, error) {
	return ExtractSequenceNumber(d.codec, src, width, height)
}

// ExtractSequenceNumber is the table-free form of Decoder.ExtractSequenceNumber.
func ExtractSequenceNumber(codec driver.Codec, src []byte, width, height uint32) (uint16, error) {
	if len(src) == 0 {
		return 0, newError("ExtractSequenceNumber", KindInvalidArgument, "empty source")
	}
	seq, err := codec.ExtractSequenceNo(src, width, height)
	if err != nil {
		return 0, fromDriver("PUC_ExtractSequenceNo", err)
	}
	return seq, nil
}

// DecodeBuffer decodes a whole compressed TransferBuffer with the default
// thread count. For borrowed buffers call it inside the callback.
func (d *Decoder) DecodeBuffer(buf *TransferBuffer) (*image.Gray, error) {
	return d.DecodeBufferRegion(buf, FullFrame(buf.Resolution()))
}

// DecodeBufferRegion decodes region of a compressed TransferBuffer into an
// image whose bounds are the region size.
func (d *Decoder) DecodeBufferRegion(buf *TransferBuffer, region Region) (*image.Gray, error) {
	if !buf.IsCompressed() {
		return nil, newError("DecodeBuffer", KindInvalidArgument, "buffer is %s, not compressed", buf.Mode())
	}
	src, err := buf.Bytes()
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	threads := d.defaultThreads
	d.mu.RUnlock()

	region.Stride = 0
	pix, err := d.DecodeLuminance(src, region, threads)
	if err != nil {
		slog.Debug("puc-capture: decode failed", "seq", buf.SequenceNumber(), "region", region.String(), "error", err)
		return nil, err
	}
	return &image.Gray{
		Pix:    pix,
		Stride: int(region.Width),
		Rect:   image.Rect(0, 0, int(region.Width), int(region.Height)),
	}, nil
}

func checkThreads(op string, n int) error {
	if n < 1 || n > MaxDecodeThreads {
		return newError(op, KindInvalidArgument, "thread count %d outside [1,%d]", n, MaxDecodeThreads)
	}
	return nil
}
