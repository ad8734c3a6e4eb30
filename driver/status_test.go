package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTableComplete(t *testing.T) {
	for s := Status(0); s < statusCount; s++ {
		assert.NotEmpty(t, s.String(), "name for %d", s)
		assert.NotEmpty(t, s.Message(), "message for %d", s)
	}
	assert.Equal(t, "PUC_SUCCEEDED", StatusSucceeded.String())
	assert.Equal(t, "PUC_ERROR_RING_BUF_COUNT", StatusRingBufCount.String())
	t.Logf("✅ %d status codes named", statusCount)
}

func TestStatusUnknown(t *testing.T) {
	s := Status(999)
	assert.Equal(t, "PUC_STATUS(999)", s.String())
	assert.Equal(t, "unknown status", s.Message())
}

func TestStatusAsError(t *testing.T) {
	assert.NoError(t, Result(StatusSucceeded))
	assert.True(t, StatusSucceeded.OK())

	err := fmt.Errorf("open: %w", Result(StatusDeviceOpen))
	var s Status
	assert.True(t, errors.As(err, &s))
	assert.Equal(t, StatusDeviceOpen, s)
	assert.Contains(t, err.Error(), "PUC_ERROR_DEVICE_OPEN")
	assert.True(t, errors.Is(err, StatusDeviceOpen))
}

func TestAlign4(t *testing.T) {
	tests := []struct{ in, want uint32 }{
		{0, 0}, {1, 4}, {4, 4}, {5, 8}, {1279, 1280}, {1280, 1280},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Align4(tt.in), "Align4(%d)", tt.in)
	}
}
