package puccapture_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/simulator"
)

const (
	testWidth  = 64
	testHeight = 48
)

// newTestCamera returns an open camera on a manually triggered 64x48
// simulator.
func newTestCamera(t *testing.T, opts ...simulator.Option) (*simulator.Simulator, *puccapture.Library, *puccapture.Camera) {
	t.Helper()
	sim := simulator.New(append([]simulator.Option{
		simulator.WithResolution(testWidth, testHeight),
		simulator.WithManualTrigger(),
	}, opts...)...)
	lib := puccapture.NewLibrary(sim)
	require.NoError(t, lib.Init())
	t.Cleanup(func() { _ = lib.Close() })

	cam, err := lib.Create(context.Background(), 0, true)
	require.NoError(t, err)
	return sim, lib, cam
}

// grabCompressed grabs one compressed frame and returns its bytes.
func grabCompressed(t *testing.T, cam *puccapture.Camera) []byte {
	t.Helper()
	buf, err := cam.Grab()
	require.NoError(t, err)
	require.True(t, buf.IsCompressed())
	data, err := buf.Bytes()
	require.NoError(t, err)
	return data
}
