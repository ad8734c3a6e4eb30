package puccapture_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puccapture "github.com/e7canasta/puc-capture"
)

func TestQuantizationRoundTrip(t *testing.T) {
	values := make([]int, 64)
	for i := range values {
		values[i] = i * 1000
	}
	values[63] = 65535

	table, err := puccapture.QuantizationFromList(values)
	require.NoError(t, err)
	assert.Equal(t, values, table.ToList())

	again, err := puccapture.QuantizationFromList(table.ToList())
	require.NoError(t, err)
	assert.Equal(t, table, again)
}

func TestQuantizationSizeMismatch(t *testing.T) {
	for _, n := range []int{0, 1, 63, 65, 128} {
		_, err := puccapture.QuantizationFromList(make([]int, n))
		assert.True(t, errors.Is(err, puccapture.ErrSizeMismatch), "len %d", n)
		assert.True(t, errors.Is(err, puccapture.ErrInvalidArgument), "len %d", n)
	}
}

func TestQuantizationClamps(t *testing.T) {
	values := make([]int, 64)
	values[0] = -5
	values[1] = 70000
	values[2] = 42

	table, err := puccapture.QuantizationFromList(values)
	require.NoError(t, err)
	got := table.Values()
	assert.Equal(t, uint16(0), got[0])
	assert.Equal(t, uint16(65535), got[1])
	assert.Equal(t, uint16(42), got[2])
	t.Logf("✅ [-5 70000 42] clamped to %v", got[:3])
}

func TestQuantizationValuesIsACopy(t *testing.T) {
	table, err := puccapture.QuantizationFromList(make([]int, 64))
	require.NoError(t, err)
	v := table.Values()
	v[0] = 9
	assert.Equal(t, uint16(0), table.Values()[0])
}
