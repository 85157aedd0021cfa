// Package mqtt carries the sensor feed over an MQTT broker: the monitor
// subscribes to retained snapshots, the simulator publishes them.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"iotdrone-monitor/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned while the broker link is down.
var ErrNotConnected = errors.New("mqtt client not connected")

var errStopped = errors.New("mqtt client stopped")

// Options is the subset of the application config used to reach the broker.
type Options struct {
	Broker   string
	Port     int
	ClientID string
	Topic    string

	// ConnectRetryInterval defaults to 5s; tests shorten it.
	ConnectRetryInterval time.Duration
}

// OptionsFromConfig maps the feed settings onto broker options. The feed path
// doubles as the topic.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Broker:   cfg.MQTTBroker,
		Port:     cfg.MQTTPort,
		ClientID: cfg.MQTTClientID,
		Topic:    cfg.FeedPath,
	}
}

func (o Options) validate() error {
	if o.Broker == "" {
		return errors.New("mqtt: empty broker")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("mqtt: invalid port %d", o.Port)
	}
	if o.Topic == "" {
		return errors.New("mqtt: empty topic")
	}
	return nil
}

func (o Options) clientOptions(onConnect func(), onLost func(error), logger *slog.Logger) *mqtt.ClientOptions {
	retry := o.ConnectRetryInterval
	if retry <= 0 {
		retry = 5 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(retry)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", o.Broker, "port", o.Port)
		onConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
		onLost(err)
	})
	return opts
}

// waitToken blocks until token completes, ctx is done or stop is closed.
func waitToken(ctx context.Context, token mqtt.Token, stop <-chan struct{}) error {
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return errStopped
		default:
		}
	}
}
