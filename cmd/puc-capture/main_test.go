package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/capture"
	"github.com/e7canasta/puc-capture/simulator"
)

func TestParseROI(t *testing.T) {
	got, err := parseROI("8, 16,320,240")
	require.NoError(t, err)
	assert.Equal(t, []uint32{8, 16, 320, 240}, got)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "1,2,3,-4"} {
		_, err := parseROI(bad)
		assert.Error(t, err, bad)
	}
}

func TestOpenDriverSimulated(t *testing.T) {
	cfg := puccapture.DefaultConfig()
	drv, err := openDriver(cfg.Library)
	require.NoError(t, err)

	codec, err := replayCodec(cfg.Library)
	require.NoError(t, err)
	assert.NotNil(t, codec)

	lib := puccapture.NewLibrary(drv)
	require.NoError(t, lib.Init())
	defer lib.Close()
	devices, err := lib.Detect()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, devices)
}

func TestFrameSinkStopsAtMaxFrames(t *testing.T) {
	sim := simulator.New(simulator.WithResolution(32, 24), simulator.WithManualTrigger())
	lib := puccapture.NewLibrary(sim)
	require.NoError(t, lib.Init())
	defer lib.Close()
	cam, err := lib.Create(context.Background(), 0, true)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := puccapture.DefaultConfig()
	cfg.Record.Path = filepath.Join(dir, "run.cbor")
	cfg.Decode.ROI = []uint32{8, 8, 16, 16}
	require.NoError(t, cfg.Validate())

	res, err := cam.Resolution()
	require.NoError(t, err)
	sink, err := newFrameSink(cfg, cam, res, filepath.Join(dir, "png"), 1, 3)
	require.NoError(t, err)

	require.NoError(t, cam.BeginTransfer(sink.Handle))
	require.NoError(t, sim.Trigger(0, 5))
	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("sink never reached max frames")
	}
	require.NoError(t, cam.EndTransfer())
	sink.Close()

	pngs, err := os.ReadDir(filepath.Join(dir, "png"))
	require.NoError(t, err)
	assert.Len(t, pngs, 3)

	r, err := capture.Open(cfg.Record.Path)
	require.NoError(t, err)
	defer r.Close()
	first, err := r.Next()
	require.NoError(t, err)
	assert.NotEmpty(t, first.SessionID)
	_, ok := first.Table()
	assert.True(t, ok, "compressed recordings carry the table")
	t.Logf("✅ %d PNGs from ROI decode, recording tagged %s", len(pngs), first.SessionID)
}
