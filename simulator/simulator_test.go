package simulator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/internal/blockcodec"
)

func openSim(t *testing.T, opts ...Option) (*Simulator, driver.Handle) {
	t.Helper()
	s := New(append([]Option{WithResolution(64, 48), WithManualTrigger()}, opts...)...)
	require.NoError(t, s.Initialize())
	h, err := s.OpenDevice(0)
	require.NoError(t, err)
	return s, h
}

func TestLifecycleStatuses(t *testing.T) {
	s := New(WithDevices(0, 2))

	_, err := s.DetectDevices()
	assert.ErrorIs(t, err, driver.StatusUninitialized)
	_, err = s.OpenDevice(0)
	assert.ErrorIs(t, err, driver.StatusUninitialized)

	require.NoError(t, s.Initialize())
	assert.ErrorIs(t, s.Initialize(), driver.StatusInitialized)

	devices, err := s.DetectDevices()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2}, devices)

	_, err = s.OpenDevice(1)
	assert.ErrorIs(t, err, driver.StatusNotExistDeviceNo)

	h, err := s.OpenDevice(2)
	require.NoError(t, err)
	_, err = s.OpenDevice(2)
	assert.ErrorIs(t, err, driver.StatusDeviceOpen)

	require.NoError(t, s.CloseDevice(h))
	assert.ErrorIs(t, s.CloseDevice(h), driver.StatusIllegalDeviceHandle)
	t.Logf("✅ lifecycle statuses match the vendor library")
}

func TestSettingsValidation(t *testing.T) {
	s, h := openSim(t)

	assert.ErrorIs(t, s.SetRingBufferCount(h, 3), driver.StatusRingBufCount)
	assert.ErrorIs(t, s.SetRingBufferCount(h, 65536), driver.StatusRingBufCount)
	assert.NoError(t, s.SetRingBufferCount(h, 4))
	assert.NoError(t, s.SetRingBufferCount(h, 65535))

	assert.ErrorIs(t, s.SetResolution(h, 0, 8), driver.StatusIllegalResolution)
	assert.ErrorIs(t, s.SetResolution(h, 30, 8), driver.StatusIllegalResolution)
	assert.NoError(t, s.SetResolution(h, 36, 20))
	w, hh, err := s.Resolution(h)
	require.NoError(t, err)
	assert.Equal(t, [2]uint32{36, 20}, [2]uint32{w, hh})

	assert.ErrorIs(t, s.SetFramerateShutter(h, 1000, 500), driver.StatusIllegalFrameRate)
	assert.NoError(t, s.SetFramerateShutter(h, 500, 1000))

	_, err = s.Quantization(h, 64)
	assert.ErrorIs(t, err, driver.StatusIllegalArg)
	require.NoError(t, s.SetQuantization(h, 5, 7))
	v, err := s.Quantization(h, 5)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), v)
}

func TestXferDataSize(t *testing.T) {
	s, h := openSim(t)
	require.NoError(t, s.SetResolution(h, 36, 20))

	n, err := s.XferDataSize(h, driver.DataCompressed)
	require.NoError(t, err)
	assert.Equal(t, uint32(blockcodec.FrameSize(36, 20)), n)

	n, err = s.XferDataSize(h, driver.DataDecompressedGray)
	require.NoError(t, err)
	assert.Equal(t, uint32(36*20), n)
}

func TestGrabIncrementsSequence(t *testing.T) {
	s, h := openSim(t)
	size, err := s.XferDataSize(h, driver.DataCompressed)
	require.NoError(t, err)

	for want := uint16(0); want < 3; want++ {
		dst := make([]byte, size)
		rec, err := s.GrabSingleXfer(h, dst)
		require.NoError(t, err)
		assert.Equal(t, want, rec.SequenceNo)
		assert.Equal(t, size, rec.Size)

		seq, err := s.ExtractSequenceNo(dst, 64, 48)
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}

	require.NoError(t, s.ResetSequenceNo(h))
	rec, err := s.GrabSingleXfer(h, make([]byte, size))
	require.NoError(t, err)
	assert.Zero(t, rec.SequenceNo)

	_, err = s.GrabSingleXfer(h, make([]byte, size-1))
	assert.ErrorIs(t, err, driver.StatusIllegalArg)
}

func TestGrayFrameMatchesPattern(t *testing.T) {
	s, h := openSim(t)
	require.NoError(t, s.SetXferDataMode(h, driver.DataDecompressedGray))

	dst := make([]byte, 64*48)
	rec, err := s.GrabSingleXfer(h, dst)
	require.NoError(t, err)
	assert.Equal(t, Pattern(64, 48, 64, 0), dst[:rec.Size])
}

func TestTriggerDeliversInOrder(t *testing.T) {
	s, h := openSim(t)

	var seqs []uint16
	require.NoError(t, s.BeginXfer(h, func(rec *driver.FrameRecord, err error) {
		require.NoError(t, err)
		seqs = append(seqs, rec.SequenceNo)
	}))
	ok, err := s.IsXferring(h)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, s.BeginXfer(h, func(*driver.FrameRecord, error) {}), driver.StatusXferring)
	assert.ErrorIs(t, s.SetResolution(h, 32, 32), driver.StatusXferring)

	require.NoError(t, s.Trigger(0, 5))
	require.NoError(t, s.EndXfer(h))
	assert.Equal(t, []uint16{0, 1, 2, 3, 4}, seqs)

	assert.Error(t, s.Trigger(0, 1), "trigger after EndXfer")
	assert.ErrorIs(t, s.EndXfer(h), driver.StatusXferDataFinish)
	t.Logf("✅ manual trigger delivered %d frames", len(seqs))
}

func TestInjectFaultAndUnplug(t *testing.T) {
	s, h := openSim(t)

	var (
		frames int
		faults []error
	)
	require.NoError(t, s.BeginXfer(h, func(rec *driver.FrameRecord, err error) {
		if err != nil {
			faults = append(faults, err)
			return
		}
		frames++
	}))

	require.NoError(t, s.InjectFault(0, driver.StatusXferDataWait))
	require.NoError(t, s.Trigger(0, 2))
	assert.Equal(t, 1, frames)
	require.Len(t, faults, 1)
	assert.True(t, errors.Is(faults[0], driver.StatusXferDataWait))

	s.Unplug(0)
	devices, err := s.DetectDevices()
	require.NoError(t, err)
	assert.Empty(t, devices)
	require.NoError(t, s.Trigger(0, 1))
	assert.Len(t, faults, 2)
	_, _, err = s.Resolution(h)
	assert.ErrorIs(t, err, driver.StatusDeviceRead)

	s.Plug(0)
	require.NoError(t, s.Trigger(0, 1))
	assert.Equal(t, 2, frames)
	require.NoError(t, s.EndXfer(h))
}

func TestFailOpen(t *testing.T) {
	s := New()
	require.NoError(t, s.Initialize())
	s.FailOpen(0, 2, driver.StatusDeviceRead)

	_, err := s.OpenDevice(0)
	assert.ErrorIs(t, err, driver.StatusDeviceRead)
	_, err = s.OpenDevice(0)
	assert.ErrorIs(t, err, driver.StatusDeviceRead)
	_, err = s.OpenDevice(0)
	assert.NoError(t, err)
}

func TestPacedTransfer(t *testing.T) {
	s := New(WithResolution(32, 32), WithFramerate(500))
	require.NoError(t, s.Initialize())
	h, err := s.OpenDevice(0)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		count int
	)
	require.NoError(t, s.BeginXfer(h, func(rec *driver.FrameRecord, err error) {
		mu.Lock()
		count++
		mu.Unlock()
	}))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.EndXfer(h))

	mu.Lock()
	got := count
	mu.Unlock()
	assert.Greater(t, got, 5)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, got, count, "no trampoline after EndXfer")
	mu.Unlock()
	t.Logf("✅ paced transfer delivered %d frames in 100ms", got)
}

func TestCodecStatuses(t *testing.T) {
	s, h := openSim(t)
	size, err := s.XferDataSize(h, driver.DataCompressed)
	require.NoError(t, err)
	src := make([]byte, size)
	_, err = s.GrabSingleXfer(h, src)
	require.NoError(t, err)
	q := defaultQuantization

	err = s.DecodeData(make([]byte, 64*48), 4, 0, 8, 8, 64, src, &q)
	assert.ErrorIs(t, err, driver.StatusIllegalArg)

	err = s.DecodeData(make([]byte, 64*48), 0, 0, 64, 48, 64, src[:20], &q)
	assert.ErrorIs(t, err, driver.StatusXferDataInvalidHeader)

	_, err = s.ExtractSequenceNo(src, 32, 48)
	assert.ErrorIs(t, err, driver.StatusXferDataInvalidHeader)

	err = s.DecodeDCData(make([]byte, 100), 0, 0, 9, 6, src)
	assert.ErrorIs(t, err, driver.StatusIllegalArg)
}

func TestMultiThreadMatchesSingle(t *testing.T) {
	s, h := openSim(t)
	size, err := s.XferDataSize(h, driver.DataCompressed)
	require.NoError(t, err)
	src := make([]byte, size)
	_, err = s.GrabSingleXfer(h, src)
	require.NoError(t, err)
	q := defaultQuantization

	want := make([]byte, 64*48)
	require.NoError(t, s.DecodeData(want, 0, 0, 64, 48, 64, src, &q))
	for _, threads := range []uint32{2, 3, 6, 32} {
		got := make([]byte, 64*48)
		require.NoError(t, s.DecodeDataMultiThread(got, 0, 0, 64, 48, 64, src, &q, threads))
		assert.Equal(t, want, got, "threads=%d", threads)
	}
	assert.ErrorIs(t, s.DecodeDataMultiThread(want, 0, 0, 64, 48, 64, src, &q, 33), driver.StatusIllegalArg)
}
