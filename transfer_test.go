package puccapture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puccapture "github.com/e7canasta/puc-capture"
	"github.com/e7canasta/puc-capture/driver"
	"github.com/e7canasta/puc-capture/simulator"
)

// seqRecorder collects delivered sequence numbers.
type seqRecorder struct {
	mu   sync.Mutex
	seqs []uint16
}

func (r *seqRecorder) add(seq uint16) {
	r.mu.Lock()
	r.seqs = append(r.seqs, seq)
	r.mu.Unlock()
}

func (r *seqRecorder) get() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.seqs...)
}

func TestBeginTwiceAndEndIdle(t *testing.T) {
	_, _, cam := newTestCamera(t)

	err := cam.EndTransfer()
	assert.True(t, errors.Is(err, puccapture.ErrTransferState), "end while idle: %v", err)

	noop := func(*puccapture.TransferBuffer) error { return nil }
	require.NoError(t, cam.BeginTransfer(noop))
	assert.True(t, cam.IsTransferring())

	err = cam.BeginTransfer(noop)
	assert.True(t, errors.Is(err, puccapture.ErrTransferState), "second begin: %v", err)
	assert.True(t, cam.IsTransferring(), "state unchanged")

	require.NoError(t, cam.EndTransfer())
	assert.False(t, cam.IsTransferring())
	assert.True(t, errors.Is(cam.EndTransfer(), puccapture.ErrTransferState))

	assert.True(t, errors.Is(cam.BeginTransfer(nil), puccapture.ErrInvalidArgument))
}

func TestDeliveryInArrivalOrder(t *testing.T) {
	sim, _, cam := newTestCamera(t)

	var rec seqRecorder
	require.NoError(t, cam.BeginTransfer(func(buf *puccapture.TransferBuffer) error {
		rec.add(buf.SequenceNumber())
		return nil
	}))
	require.NoError(t, sim.Trigger(0, 20))

	assert.Eventually(t, func() bool { return len(rec.get()) == 20 }, time.Second, time.Millisecond)
	require.NoError(t, cam.EndTransfer())

	seqs := rec.get()
	for i, s := range seqs {
		assert.Equal(t, uint16(i), s)
	}
	stats := cam.TransferStats()
	assert.Equal(t, uint64(20), stats.FramesReceived)
	assert.Equal(t, uint64(20), stats.FramesDelivered)
	assert.Zero(t, stats.FramesDropped)
	assert.Zero(t, stats.SequenceGaps)
	assert.Equal(t, puccapture.StateIdle, stats.State)
	assert.NotEmpty(t, stats.SessionID)
	t.Logf("✅ 20 frames delivered in order, session %s", stats.SessionID)
}

func TestSlowCallbackDropsBeyondRing(t *testing.T) {
	sim, _, cam := newTestCamera(t)
	require.NoError(t, cam.SetRingBufferCount(4))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var rec seqRecorder
	require.NoError(t, cam.BeginTransfer(func(buf *puccapture.TransferBuffer) error {
		rec.add(buf.SequenceNumber())
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}))

	require.NoError(t, sim.Trigger(0, 1))
	<-started

	// Callback is busy with frame 0: 1..4 fill the ring, 5..10 are dropped.
	require.NoError(t, sim.Trigger(0, 10))
	assert.Equal(t, 4, cam.TransferStats().QueueDepth)
	close(release)

	assert.Eventually(t, func() bool { return len(rec.get()) == 5 }, time.Second, time.Millisecond)
	require.NoError(t, sim.Trigger(0, 2))
	assert.Eventually(t, func() bool { return len(rec.get()) == 7 }, time.Second, time.Millisecond)
	require.NoError(t, cam.EndTransfer())

	assert.Equal(t, []uint16{0, 1, 2, 3, 4, 11, 12}, rec.get())
	stats := cam.TransferStats()
	assert.Equal(t, uint64(13), stats.FramesReceived)
	assert.Equal(t, uint64(7), stats.FramesDelivered)
	assert.Equal(t, uint64(6), stats.FramesDropped)
	assert.Equal(t, uint64(6), stats.SequenceGaps)
	assert.Equal(t, 4, stats.RingCapacity)
	t.Logf("✅ dropped %d frames while the callback was busy (rate %.2f)", stats.FramesDropped, stats.DropRate())
}

func TestEndDiscardsQueuedFrames(t *testing.T) {
	sim, _, cam := newTestCamera(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	require.NoError(t, cam.BeginTransfer(func(buf *puccapture.TransferBuffer) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}))
	require.NoError(t, sim.Trigger(0, 1))
	<-started
	require.NoError(t, sim.Trigger(0, 3))

	ended := make(chan error, 1)
	go func() { ended <- cam.EndTransfer() }()

	select {
	case <-ended:
		t.Fatal("EndTransfer returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-ended)

	stats := cam.TransferStats()
	assert.Equal(t, uint64(1), stats.FramesDelivered)
	assert.Equal(t, uint64(3), stats.FramesDropped)
	assert.Zero(t, stats.QueueDepth)
}

func TestCallbackErrorStopsDelivery(t *testing.T) {
	sim, _, cam := newTestCamera(t)
	boom := errors.New("boom")

	var calls seqRecorder
	require.NoError(t, cam.BeginTransfer(func(buf *puccapture.TransferBuffer) error {
		calls.add(buf.SequenceNumber())
		if buf.SequenceNumber() == 2 {
			return boom
		}
		return nil
	}))
	require.NoError(t, sim.Trigger(0, 5))
	assert.Eventually(t, func() bool { return cam.TransferStats().CallbackError != "" }, time.Second, time.Millisecond)

	// Delivery stopped but the trampoline keeps accepting frames.
	require.NoError(t, sim.Trigger(0, 2))

	err := cam.EndTransfer()
	assert.True(t, errors.Is(err, boom), "got %v", err)
	assert.False(t, cam.IsTransferring())
	assert.Equal(t, []uint16{0, 1, 2}, calls.get())

	stats := cam.TransferStats()
	assert.Equal(t, uint64(3), stats.FramesDelivered)
	assert.Equal(t, uint64(4), stats.FramesDropped)

	// The session can be restarted.
	require.NoError(t, cam.BeginTransfer(func(*puccapture.TransferBuffer) error { return nil }))
	require.NoError(t, cam.EndTransfer())
}

func TestCallbackPanicIsContained(t *testing.T) {
	sim, _, cam := newTestCamera(t)
	require.NoError(t, cam.BeginTransfer(func(*puccapture.TransferBuffer) error {
		panic("callback exploded")
	}))
	require.NoError(t, sim.Trigger(0, 3))
	assert.Eventually(t, func() bool { return cam.TransferStats().CallbackError != "" }, time.Second, time.Millisecond)

	err := cam.EndTransfer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callback exploded")
}

func TestBorrowedBufferInvalidAfterCallback(t *testing.T) {
	sim, _, cam := newTestCamera(t)

	var (
		mu       sync.Mutex
		borrowed *puccapture.TransferBuffer
		owned    *puccapture.TransferBuffer
	)
	require.NoError(t, cam.BeginTransfer(func(buf *puccapture.TransferBuffer) error {
		cp, err := buf.Own()
		if err != nil {
			return err
		}
		mu.Lock()
		borrowed, owned = buf, cp
		mu.Unlock()
		return nil
	}))
	require.NoError(t, sim.Trigger(0, 1))
	assert.Eventually(t, func() bool { return cam.TransferStats().FramesDelivered == 1 }, time.Second, time.Millisecond)
	require.NoError(t, cam.EndTransfer())

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, borrowed)
	assert.False(t, borrowed.IsOwned())
	_, err := borrowed.Bytes()
	assert.True(t, errors.Is(err, puccapture.ErrBufferReleased))

	data, err := owned.Bytes()
	require.NoError(t, err)
	seq, err := puccapture.ExtractSequenceNumber(sim, data, testWidth, testHeight)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), seq)
	assert.False(t, owned.Arrived().IsZero())
}

func TestTransferFaultKeepsSessionActive(t *testing.T) {
	sim, _, cam := newTestCamera(t)
	require.NoError(t, cam.BeginTransfer(func(*puccapture.TransferBuffer) error { return nil }))

	require.NoError(t, sim.InjectFault(0, driver.StatusXferDataWait))
	require.NoError(t, sim.Trigger(0, 2))

	stats := cam.TransferStats()
	assert.Equal(t, uint64(1), stats.Faults)
	assert.Contains(t, stats.LastError, "PUC_ERROR_XFER_DATA_WAIT")
	assert.Equal(t, puccapture.StateActive, stats.State)
	assert.Equal(t, uint64(1), stats.FramesReceived)
	require.NoError(t, cam.EndTransfer())
}

func TestCloseEndsActiveTransfer(t *testing.T) {
	sim, _, cam := newTestCamera(t)
	boom := errors.New("boom")
	require.NoError(t, cam.BeginTransfer(func(*puccapture.TransferBuffer) error { return boom }))
	require.NoError(t, sim.Trigger(0, 1))
	assert.Eventually(t, func() bool { return cam.TransferStats().CallbackError != "" }, time.Second, time.Millisecond)

	require.NoError(t, cam.Close(), "implicit end error is suppressed")
	assert.False(t, cam.IsOpen())
	assert.False(t, cam.IsTransferring())
	require.NoError(t, cam.Close(), "close is idempotent")

	_, err := cam.Grab()
	assert.True(t, errors.Is(err, puccapture.ErrHandleInvalid))
}

func TestRingBufferCountBounds(t *testing.T) {
	_, _, cam := newTestCamera(t)

	tests := []struct {
		count   uint32
		wantErr bool
	}{
		{3, true},
		{4, false},
		{65535, false},
		{65536, true},
	}
	for _, tt := range tests {
		err := cam.SetRingBufferCount(tt.count)
		if tt.wantErr {
			assert.True(t, errors.Is(err, puccapture.ErrTransferState), "count %d: %v", tt.count, err)
			continue
		}
		require.NoError(t, err, "count %d", tt.count)
		n, err := cam.RingBufferCount()
		require.NoError(t, err)
		assert.Equal(t, tt.count, n)
	}

	require.NoError(t, cam.BeginTransfer(func(*puccapture.TransferBuffer) error { return nil }))
	assert.True(t, errors.Is(cam.SetRingBufferCount(8), puccapture.ErrTransferState))
	require.NoError(t, cam.EndTransfer())
}

func TestGrabWhileTransferring(t *testing.T) {
	_, _, cam := newTestCamera(t)
	require.NoError(t, cam.BeginTransfer(func(*puccapture.TransferBuffer) error { return nil }))
	buf, err := cam.Grab()
	require.NoError(t, err)
	assert.True(t, buf.IsOwned())
	require.NoError(t, cam.EndTransfer())
}

func TestWarmupPacedStream(t *testing.T) {
	sim := simulator.New(simulator.WithResolution(32, 32), simulator.WithFramerate(200))
	lib := puccapture.NewLibrary(sim)
	require.NoError(t, lib.Init())
	defer lib.Close()
	cam, err := lib.Create(context.Background(), 0, true)
	require.NoError(t, err)

	stats, err := cam.Warmup(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, stats.FramesReceived, 10)
	assert.Greater(t, stats.FPSMean, 50.0)
	assert.False(t, cam.IsTransferring())
	t.Logf("✅ warm-up: %d frames, %.1f fps, stable=%v", stats.FramesReceived, stats.FPSMean, stats.IsStable)
}

func TestWarmupWithoutFrames(t *testing.T) {
	_, _, cam := newTestCamera(t)
	_, err := cam.Warmup(context.Background(), 20*time.Millisecond)
	assert.True(t, errors.Is(err, puccapture.ErrTimedOut))
	assert.False(t, cam.IsTransferring())
}
