package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	puccapture "github.com/e7canasta/puc-capture"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// StatsSource yields transfer statistics. *puccapture.Camera implements it.
type StatsSource interface {
	TransferStats() puccapture.TransferStats
}

// Publisher sends reports to one MQTT topic.
type Publisher struct {
	cfg    puccapture.TelemetryConfig
	client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewPublisher creates a publisher. Call Connect before publishing.
func NewPublisher(cfg puccapture.TelemetryConfig) *Publisher {
	return &Publisher{cfg: cfg}
}

// brokerURL adds the tcp scheme when the broker is given as host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. The client reconnects on its
// own after a connection loss.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.cfg.Broker == "" {
		return errors.New("telemetry: no broker configured")
	}
	broker := brokerURL(p.cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		slog.Info("telemetry: mqtt connection established",
			"broker", broker,
			"client_id", p.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
		)
	}

	p.client = mqtt.NewClient(opts)
	slog.Info("telemetry: connecting to mqtt broker", "broker", broker)

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("telemetry: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return nil
}

// Publish sends one stats snapshot.
func (p *Publisher) Publish(s puccapture.TransferStats) error {
	if !p.isConnected() {
		p.countError()
		return errors.New("telemetry: mqtt not connected")
	}

	payload, err := Encode(NewReport(s, time.Now()))
	if err != nil {
		p.countError()
		return fmt.Errorf("telemetry: failed to encode report: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.countError()
		return errors.New("telemetry: publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("telemetry: publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	slog.Debug("telemetry: report published",
		"topic", p.cfg.Topic,
		"qos", p.cfg.QoS,
		"size", len(payload),
		"session_id", s.SessionID,
	)
	return nil
}

// Run publishes src's statistics every interval until ctx is done. Publish
// failures are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, src StatsSource) {
	interval := p.cfg.Interval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Publish(src.TransferStats()); err != nil {
				slog.Warn("telemetry: publish failed", "error", err, "topic", p.cfg.Topic)
			}
		}
	}
}

// Disconnect closes the connection with a 250ms grace period.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		slog.Info("telemetry: mqtt disconnected")
	}
	p.setConnected(false)
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns publisher counters.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Connected: p.connected, Published: p.published, Errors: p.errors}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
