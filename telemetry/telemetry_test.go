package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puccapture "github.com/e7canasta/puc-capture"
)

// doneToken is a completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{}          { c := make(chan struct{}); close(c); return c }
func (t doneToken) Error() error                   { return t.err }

// fakeClient records publishes. Methods not overridden panic through the
// nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	failWith error
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Disconnect(uint) {}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return doneToken{err: c.failWith}
	}
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return doneToken{}
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func connected(cfg puccapture.TelemetryConfig) (*Publisher, *fakeClient) {
	fc := &fakeClient{}
	p := NewPublisher(cfg)
	p.client = fc
	p.setConnected(true)
	return p, fc
}

type fixedSource puccapture.TransferStats

func (s fixedSource) TransferStats() puccapture.TransferStats { return puccapture.TransferStats(s) }

func sampleStats() puccapture.TransferStats {
	return puccapture.TransferStats{
		SessionID:       "4b1c",
		DeviceNo:        2,
		State:           puccapture.StateActive,
		FramesReceived:  100,
		FramesDelivered: 90,
		FramesDropped:   10,
		SequenceGaps:    3,
		RingCapacity:    64,
		QueueDepth:      5,
		LastSequence:    99,
		ArrivalFPS:      1999.5,
		IsStable:        true,
		LastError:       "PUC_ERROR_XFER_DATA_WAIT: timeout",
	}
}

func TestReportEncoding(t *testing.T) {
	ts := time.Unix(1700000000, 42)
	r := NewReport(sampleStats(), ts)
	assert.Equal(t, "active", r.State)
	assert.InDelta(t, 0.1, r.DropRate, 1e-9)

	data, err := Encode(r)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.Equal(t, ts.UnixNano(), got.Timestamp)
	t.Logf("✅ report encodes to %d bytes", len(data))

	_, err = Decode([]byte{0xc1})
	assert.Error(t, err)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestPublishRequiresConnection(t *testing.T) {
	p := NewPublisher(puccapture.TelemetryConfig{Topic: "puc/telemetry/0"})
	assert.Error(t, p.Publish(sampleStats()))
	assert.Equal(t, uint64(1), p.Stats().Errors)

	assert.Error(t, p.Connect(context.Background()), "empty broker")
}

func TestPublish(t *testing.T) {
	p, fc := connected(puccapture.TelemetryConfig{Topic: "puc/telemetry/2", QoS: 1})

	require.NoError(t, p.Publish(sampleStats()))
	require.Equal(t, 1, fc.count())
	assert.Equal(t, "puc/telemetry/2", fc.topics[0])

	r, err := Decode(fc.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.Received)
	assert.Equal(t, uint32(2), r.DeviceNo)

	fc.failWith = errors.New("broker said no")
	assert.Error(t, p.Publish(sampleStats()))

	st := p.Stats()
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(1), st.Published)
	assert.Equal(t, uint64(1), st.Errors)

	p.Disconnect()
	assert.False(t, p.Stats().Connected)
}

func TestRunPublishesOnInterval(t *testing.T) {
	p, fc := connected(puccapture.TelemetryConfig{Topic: "t", IntervalMS: 5})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, fixedSource(sampleStats()))
		close(done)
	}()

	assert.Eventually(t, func() bool { return fc.count() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
