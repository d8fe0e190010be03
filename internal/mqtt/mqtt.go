// Package mqtt carries surface messages over an MQTT topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coldwatch/internal/bus"
	"coldwatch/internal/config"
	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

var ErrNotConnected = errors.New("mqtt not connected")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Bus publishes and subscribes on one topic. Subscriptions are restored
// by the OnConnect handler after every reconnect.
type Bus struct {
	cfg    config.MQTTConfig
	client paho.Client
	hub    *bus.Hub
	codec  bus.Codec
	log    zerolog.Logger

	mu        sync.RWMutex
	connected bool
	errors    uint64
}

// NewBus connects to the broker and subscribes to the surfaces topic.
// Payloads use codec in both directions.
func NewBus(ctx context.Context, cfg config.MQTTConfig, buffer int, codec bus.Codec) (*Bus, error) {
	b := newBus(cfg, buffer, codec)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "coldwatch-" + uuid.NewString()
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)

	opts.OnConnect = func(c paho.Client) {
		b.setConnected(true)
		token := c.Subscribe(cfg.Topic, cfg.QoS, b.onMessage)
		if token.WaitTimeout(connectTimeout) && token.Error() == nil {
			b.log.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Msg("mqtt connection established")
			return
		}
		b.log.Error().Err(token.Error()).Str("topic", cfg.Topic).Msg("mqtt subscribe failed")
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		b.setConnected(false)
		b.log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	b.client = paho.NewClient(opts)

	token := b.client.Connect()
	deadline := connectTimeout
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	if !token.WaitTimeout(deadline) {
		b.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return b, nil
}

func newBus(cfg config.MQTTConfig, buffer int, codec bus.Codec) *Bus {
	if codec == nil {
		codec = bus.JSON
	}
	return &Bus{
		cfg:   cfg,
		hub:   bus.NewHub("mqtt", buffer),
		codec: codec,
		log:   logger.WithComponent("mqtt_bus"),
	}
}

func (b *Bus) onMessage(_ paho.Client, m paho.Message) {
	msg, err := bus.DecodeWith(b.codec, m.Payload())
	if err != nil {
		b.log.Warn().Err(err).Str("topic", m.Topic()).Msg("dropping undecodable surface message")
		return
	}
	b.hub.Deliver(msg)
}

func (b *Bus) Publish(ctx context.Context, msg models.Message) error {
	msg, err := bus.Prepare(msg)
	if err != nil {
		return err
	}
	if b.hub.Closed() {
		return bus.ErrBusClosed
	}
	if !b.isConnected() {
		b.countError()
		metrics.BusDroppedTotal.WithLabelValues("mqtt").Inc()
		return ErrNotConnected
	}

	payload, err := b.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", bus.ErrInvalidMessage, err)
	}
	token := b.client.Publish(b.cfg.Topic, b.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		b.countError()
		return fmt.Errorf("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		b.countError()
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	metrics.BusPublishedTotal.WithLabelValues("mqtt", msg.Action).Inc()
	return nil
}

func (b *Bus) Subscribe(name string) (*bus.Subscription, error) {
	return b.hub.Subscribe(name)
}

// Close unsubscribes and disconnects with a short grace period
func (b *Bus) Close() error {
	b.hub.Close()
	if b.client != nil && b.client.IsConnected() {
		b.client.Unsubscribe(b.cfg.Topic).WaitTimeout(time.Second)
		b.client.Disconnect(250)
	}
	b.setConnected(false)
	return nil
}

// Stats reports connection and hub counters
func (b *Bus) Stats() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]any{
		"connected": b.connected,
		"errors":    b.errors,
		"hub":       b.hub.Stats(),
	}
}

func (b *Bus) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

func (b *Bus) isConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *Bus) countError() {
	b.mu.Lock()
	b.errors++
	b.mu.Unlock()
}

var _ bus.Bus = (*Bus)(nil)
