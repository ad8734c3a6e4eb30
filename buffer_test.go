package puccapture_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/driver"
)

var gray6x2 = puccapture.Resolution{Width: 6, Height: 2}

func TestNewTransferBufferIsOwnedAndZeroed(t *testing.T) {
	buf, err := puccapture.NewTransferBuffer(16, gray6x2, puccapture.DataModeDecompressedGray)
	require.NoError(t, err)
	assert.True(t, buf.IsOwned())
	assert.False(t, buf.IsCompressed())
	assert.Equal(t, uint32(16), buf.Size())

	data, err := buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), data)

	buf.Release()
	buf.Release()
	_, err = buf.Bytes()
	assert.True(t, errors.Is(err, puccapture.ErrBufferReleased))
}

func TestWrapRecordRejectsNil(t *testing.T) {
	_, _, err := puccapture.WrapRecord(nil, gray6x2, puccapture.DataModeCompressed)
	assert.True(t, errors.Is(err, puccapture.ErrInvalidArgument))

	_, _, err = puccapture.WrapRecord(&driver.FrameRecord{Size: 4}, gray6x2, puccapture.DataModeCompressed)
	assert.True(t, errors.Is(err, puccapture.ErrInvalidArgument))
}

func TestWrapRecordAliasesUntilRevoked(t *testing.T) {
	vendor := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf, revoke, err := puccapture.WrapRecord(&driver.FrameRecord{Data: vendor, Size: 6, SequenceNo: 77}, gray6x2, puccapture.DataModeCompressed)
	require.NoError(t, err)
	assert.False(t, buf.IsOwned())
	assert.Equal(t, uint16(77), buf.SequenceNumber())

	data, err := buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, vendor[:6], data)
	vendor[0] = 42
	assert.Equal(t, byte(42), data[0], "no copy at construction")

	kept, err := buf.Own()
	require.NoError(t, err)
	assert.True(t, kept.IsOwned())

	revoke()
	_, err = buf.Bytes()
	assert.True(t, errors.Is(err, puccapture.ErrBufferReleased))
	assert.True(t, errors.Is(err, puccapture.ErrTransferState))
	_, err = buf.Materialize()
	assert.Error(t, err)

	vendor[0] = 0
	keptData, err := kept.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{42, 2, 3, 4, 5, 6}, keptData)
	t.Logf("✅ borrowed view revoked, owned copy intact")
}

func TestMaterializeStripsAlignment(t *testing.T) {
	// 6 pixels wide: vendor lines are 8 bytes.
	vendor := []byte{
		1, 2, 3, 4, 5, 6, 0xEE, 0xEE,
		7, 8, 9, 10, 11, 12, 0xEE, 0xEE,
	}
	buf, revoke, err := puccapture.WrapRecord(&driver.FrameRecord{Data: vendor, Size: 16}, gray6x2, puccapture.DataModeDecompressedGray)
	require.NoError(t, err)
	defer revoke()

	pix, err := buf.Materialize()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, pix)

	img, err := buf.GrayImage()
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, uint8(9), img.GrayAt(2, 1).Y)
}

func TestMaterializeCompressedCopies(t *testing.T) {
	vendor := []byte{9, 8, 7}
	buf, revoke, err := puccapture.WrapRecord(&driver.FrameRecord{Data: vendor, Size: 3}, gray6x2, puccapture.DataModeCompressed)
	require.NoError(t, err)
	defer revoke()

	out, err := buf.Materialize()
	require.NoError(t, err)
	vendor[0] = 0
	assert.Equal(t, []byte{9, 8, 7}, out)

	_, err = buf.GrayImage()
	assert.True(t, errors.Is(err, puccapture.ErrInvalidArgument))
}

func TestMaterializeShortGrayFrame(t *testing.T) {
	buf, revoke, err := puccapture.WrapRecord(&driver.FrameRecord{Data: make([]byte, 10), Size: 10}, gray6x2, puccapture.DataModeDecompressedGray)
	require.NoError(t, err)
	defer revoke()
	_, err = buf.Materialize()
	assert.True(t, errors.Is(err, puccapture.ErrSizeMismatch))
}

func TestOversizedAllocation(t *testing.T) {
	_, err := puccapture.NewTransferBuffer(2<<30, gray6x2, puccapture.DataModeCompressed)
	assert.True(t, errors.Is(err, puccapture.ErrAllocation))
}
