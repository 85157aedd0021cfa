package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscriber keeps the most recent snapshot pushed to the feed topic. It
// implements the feed adapter's Remote.
type Subscriber struct {
	client mqtt.Client
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	connected  bool
	subscribed bool
	payload    []byte
	receivedAt time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSubscriber(opts Options, logger *slog.Logger) (*Subscriber, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		opts:   opts,
		logger: logger.With("component", "mqtt-subscriber", "topic", opts.Topic),
		stopCh: make(chan struct{}),
	}

	s.client = mqtt.NewClient(opts.clientOptions(s.onConnect, s.onConnectionLost, s.logger))
	return s, nil
}

// Connect waits for the broker and subscribes to the feed topic. Later
// reconnects resubscribe on their own.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber: %w", errStopped)
	default:
	}

	if s.IsConnected() {
		return nil
	}

	if err := waitToken(ctx, s.client.Connect(), s.stopCh); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	// The connect handler runs asynchronously; the token alone proves the link.
	s.setConnected(true)

	if err := s.subscribe(ctx); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}

	qos := byte(1) // At least once delivery
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := s.client.Subscribe(s.opts.Topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Payload())
	})
	if err := waitToken(ctx, token, s.stopCh); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.opts.Topic, err)
	}

	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()

	s.logger.Info("subscribed to mqtt topic", "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	s.mu.Lock()
	s.payload = buf
	s.receivedAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("received feed snapshot", "size", len(payload))
}

// Snapshot returns a copy of the last payload seen on the topic, or nil when
// nothing has arrived yet.
func (s *Subscriber) Snapshot(context.Context) ([]byte, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.payload == nil {
		return nil, nil
	}
	out := make([]byte, len(s.payload))
	copy(out, s.payload)
	return out, nil
}

// ReceivedAt reports when the current snapshot arrived.
func (s *Subscriber) ReceivedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receivedAt
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.opts.Topic)
		token.WaitTimeout(2 * time.Second)
	}

	// Disconnect without holding s.mu to avoid lock contention/deadlocks.
	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) onConnect() {
	s.setConnected(true)

	s.mu.RLock()
	resubscribe := s.subscribed
	s.mu.RUnlock()
	if !resubscribe {
		return
	}
	// Clean sessions drop subscriptions across reconnects.
	if err := s.subscribe(context.Background()); err != nil {
		s.logger.Error("resubscribe failed", "error", err)
	}
}

func (s *Subscriber) onConnectionLost(error) {
	s.setConnected(false)
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
