package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher pushes whole-collection snapshots to the feed topic.
type Publisher struct {
	client mqtt.Client
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(opts Options, logger *slog.Logger) (*Publisher, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		opts:   opts,
		logger: logger.With("component", "mqtt-publisher", "topic", opts.Topic),
		stopCh: make(chan struct{}),
	}
	p.client = mqtt.NewClient(opts.clientOptions(
		func() { p.setConnected(true) },
		func(error) { p.setConnected(false) },
		p.logger,
	))
	return p, nil
}

// Connect establishes connection to the MQTT broker.
// This function waits for the initial connection, and respects ctx and Disconnect().
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher: %w", errStopped)
	default:
	}

	if p.IsConnected() {
		return nil
	}
	if err := waitToken(ctx, p.client.Connect(), p.stopCh); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConnected(true)
	return nil
}

// Publish sends payload to the feed topic with QoS 1. Retained snapshots are
// delivered to subscribers as soon as they subscribe.
func (p *Publisher) Publish(ctx context.Context, payload []byte, retained bool) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := p.client.Publish(p.opts.Topic, 1, retained, payload)
	if err := waitToken(ctx, token, p.stopCh); err != nil {
		p.logger.Error("failed to publish snapshot", "error", err)
		return fmt.Errorf("publish snapshot: %w", err)
	}

	p.logger.Debug("published snapshot", "size", len(payload), "retained", retained)
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect stops the publisher and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	if p.client != nil {
		p.client.Disconnect(250)
	}

	p.setConnected(false)
	p.logger.Info("mqtt publisher disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
