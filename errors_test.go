package puccapture_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/driver"
)

func TestStatusKind(t *testing.T) {
	tests := []struct {
		status driver.Status
		want   puccapture.Kind
	}{
		{driver.StatusUninitialized, puccapture.KindNotInitialized},
		{driver.StatusInitialized, puccapture.KindAlreadyInitialized},
		{driver.StatusNotExistDeviceNo, puccapture.KindDeviceNotFound},
		{driver.StatusIllegalDeviceHandle, puccapture.KindHandleInvalid},
		{driver.StatusDeviceNotOpen, puccapture.KindHandleInvalid},
		{driver.StatusIllegalArg, puccapture.KindInvalidArgument},
		{driver.StatusIllegalResolution, puccapture.KindInvalidArgument},
		{driver.StatusDeviceRead, puccapture.KindTransportIO},
		{driver.StatusNotEqualWriteSize, puccapture.KindTransportIO},
		{driver.StatusLockTimeout, puccapture.KindTimedOut},
		{driver.StatusXferDataWait, puccapture.KindTimedOut},
		{driver.StatusXferring, puccapture.KindTransferState},
		{driver.StatusRingBufCount, puccapture.KindTransferState},
		{driver.StatusXferDataInvalidHeader, puccapture.KindDecode},
		{driver.StatusAllocateBuffer, puccapture.KindAllocation},
		{driver.StatusNotSupport, puccapture.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, puccapture.StatusKind(tt.status))
		})
	}
}

func TestErrorCarriesOpAndCode(t *testing.T) {
	_, _, cam := newTestCamera(t)

	err := cam.SetResolution(puccapture.Resolution{Width: 30, Height: 8})
	require.Error(t, err)

	var e *puccapture.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "PUC_SetResolution", e.Op)
	assert.Equal(t, driver.StatusIllegalResolution, e.Code)
	assert.Equal(t, puccapture.KindInvalidArgument, e.Kind)
	assert.True(t, errors.Is(err, puccapture.ErrInvalidArgument))
	assert.False(t, errors.Is(err, puccapture.ErrTimedOut))
	assert.Contains(t, err.Error(), "PUC_SetResolution")
	assert.Contains(t, err.Error(), "(code 6)")
	t.Logf("✅ %v", err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, puccapture.KindUnknown, puccapture.KindOf(errors.New("plain")))
	assert.Equal(t, puccapture.KindUnknown, puccapture.KindOf(nil))

	_, err := puccapture.QuantizationFromList(nil)
	wrapped := fmt.Errorf("loading table: %w", err)
	assert.Equal(t, puccapture.KindInvalidArgument, puccapture.KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, puccapture.ErrSizeMismatch))
	assert.Equal(t, "invalid_argument", puccapture.KindInvalidArgument.String())
}
