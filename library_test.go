package puccapture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/simulator"
)

func TestLibraryRequiresInit(t *testing.T) {
	lib := puccapture.NewLibrary(simulator.New())

	_, err := lib.Detect()
	assert.True(t, errors.Is(err, puccapture.ErrNotInitialized))
	_, err = lib.Create(context.Background(), 0, true)
	assert.True(t, errors.Is(err, puccapture.ErrNotInitialized))

	require.NoError(t, lib.Init())
	require.NoError(t, lib.Init(), "init is idempotent")
	require.NoError(t, lib.Close())
	require.NoError(t, lib.Init(), "re-init after close tolerates the vendor's already-initialized status")
	require.NoError(t, lib.Close())
}

func TestLibraryDeviceScenario(t *testing.T) {
	ctx := context.Background()
	sim := simulator.New(simulator.WithDevices(2, 0), simulator.WithResolution(32, 32), simulator.WithManualTrigger())
	lib := puccapture.NewLibrary(sim)
	require.NoError(t, lib.Init())
	defer lib.Close()

	devices, err := lib.Detect()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2}, devices)

	_, err = lib.Create(ctx, 1, true)
	assert.True(t, errors.Is(err, puccapture.ErrDeviceNotFound), "got %v", err)

	first, err := lib.Create(ctx, 0, true)
	require.NoError(t, err)
	second, err := lib.Create(ctx, 0, true)
	require.NoError(t, err, "re-create closes then opens")
	assert.False(t, first.IsOpen())
	assert.True(t, second.IsOpen())

	assert.NoError(t, lib.Release(2), "release of a never-opened device")
	require.Len(t, lib.Cameras(), 1)

	require.NoError(t, lib.Release(0))
	assert.False(t, second.IsOpen())
	assert.Empty(t, lib.Cameras())
	t.Logf("✅ detect %v, open(1) rejected, re-create and release behave", devices)
}

func TestLibraryCreateClosed(t *testing.T) {
	sim := simulator.New(simulator.WithResolution(32, 32))
	lib := puccapture.NewLibrary(sim)
	require.NoError(t, lib.Init())
	defer lib.Close()

	cam, err := lib.Create(context.Background(), 0, false)
	require.NoError(t, err)
	assert.False(t, cam.IsOpen())
	_, err = cam.Resolution()
	assert.True(t, errors.Is(err, puccapture.ErrHandleInvalid))

	require.NoError(t, cam.Open(context.Background()))
	require.NoError(t, cam.Open(context.Background()), "open twice is a no-op")
	res, err := cam.Resolution()
	require.NoError(t, err)
	assert.Equal(t, puccapture.Resolution{Width: 32, Height: 32}, res)
}

func TestLibraryOpenRetry(t *testing.T) {
	sim := simulator.New(simulator.WithResolution(32, 32))
	lib := puccapture.NewLibrary(sim, puccapture.WithRetry(puccapture.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}))
	require.NoError(t, lib.Init())
	defer lib.Close()

	sim.FailOpen(0, 2, driver.StatusDeviceRead)
	cam, err := lib.Create(context.Background(), 0, true)
	require.NoError(t, err)
	assert.True(t, cam.IsOpen())
	require.NoError(t, lib.Release(0))

	sim.FailOpen(0, 3, driver.StatusLockTimeout)
	_, err = lib.Create(context.Background(), 0, true)
	assert.True(t, errors.Is(err, puccapture.ErrTimedOut), "got %v", err)

	sim.FailOpen(0, 1, driver.StatusIllegalArg)
	_, err = lib.Create(context.Background(), 0, true)
	assert.True(t, errors.Is(err, puccapture.ErrInvalidArgument), "not retried: %v", err)
}

func TestCameraSettingsPassThrough(t *testing.T) {
	_, _, cam := newTestCamera(t)

	require.NoError(t, cam.SetResolution(puccapture.Resolution{Width: 32, Height: 16}))
	size, err := cam.FrameSize(puccapture.DataModeDecompressedGray)
	require.NoError(t, err)
	assert.Equal(t, uint32(32*16), size)

	require.NoError(t, cam.SetFramerateShutter(250, 500))
	fr, sh, err := cam.FramerateShutter()
	require.NoError(t, err)
	assert.Equal(t, [2]uint32{250, 500}, [2]uint32{fr, sh})

	require.NoError(t, cam.SetTimeouts(puccapture.Timeouts{Single: 100, Continuous: puccapture.TimeoutInfinite}))
	to, err := cam.Timeouts()
	require.NoError(t, err)
	assert.Equal(t, uint32(puccapture.TimeoutInfinite), to.Continuous)

	require.NoError(t, cam.SetDataMode(puccapture.DataModeDecompressedGray))
	mode, err := cam.DataMode()
	require.NoError(t, err)
	assert.Equal(t, puccapture.DataModeDecompressedGray, mode)

	_, err = cam.Grab()
	require.NoError(t, err)
	require.NoError(t, cam.ResetSequenceNumber())
	buf, err := cam.Grab()
	require.NoError(t, err)
	assert.Zero(t, buf.SequenceNumber())
}

func TestCameraQuantizationWriteBack(t *testing.T) {
	_, _, cam := newTestCamera(t)

	values := make([]int, 64)
	for i := range values {
		values[i] = i + 1
	}
	table, err := puccapture.QuantizationFromList(values)
	require.NoError(t, err)
	require.NoError(t, cam.SetQuantization(table))
	assert.Equal(t, table, cam.Quantization())

	refreshed, err := cam.RefreshQuantization()
	require.NoError(t, err)
	assert.Equal(t, table, refreshed)

	dec, err := cam.Decoder()
	require.NoError(t, err)
	assert.Equal(t, table, dec.Quantization())
}

func TestUnpluggedDeviceFailsWithTransportError(t *testing.T) {
	sim, _, cam := newTestCamera(t)
	sim.Unplug(0)

	_, err := cam.Resolution()
	assert.True(t, errors.Is(err, puccapture.ErrTransportIO), "got %v", err)
	_, err = cam.Grab()
	assert.True(t, errors.Is(err, puccapture.ErrTransportIO) || errors.Is(err, puccapture.ErrTimedOut), "got %v", err)

	sim.Plug(0)
	_, err = cam.Resolution()
	assert.NoError(t, err)
}

// brokenLink fails every CloseDevice with a device write error.
type brokenLink struct {
	*simulator.Simulator
}

func (b brokenLink) CloseDevice(h driver.Handle) error {
	b.Simulator.CloseDevice(h)
	return driver.StatusDeviceWrite
}

func TestCloseIsBestEffortOnBrokenLink(t *testing.T) {
	sim := simulator.New(simulator.WithDevices(0, 1), simulator.WithResolution(32, 32))
	lib := puccapture.NewLibrary(brokenLink{sim})
	require.NoError(t, lib.Init())

	cam, err := lib.Create(context.Background(), 0, true)
	require.NoError(t, err)
	require.NoError(t, cam.BeginTransfer(func(*puccapture.TransferBuffer) error { return nil }))
	sim.Unplug(0)

	assert.NoError(t, cam.Close())
	assert.False(t, cam.IsOpen())
	assert.False(t, cam.IsTransferring())

	_, err = lib.Create(context.Background(), 1, true)
	require.NoError(t, err)
	assert.NoError(t, lib.Close(), "library close ignores per-camera close failures")
	assert.Empty(t, lib.Cameras())
	t.Logf("✅ close succeeds although PUC_CloseDevice fails")
}
