package bus

import (
	"context"

	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// MemoryBus connects surfaces running in the same process
type MemoryBus struct {
	hub *Hub
}

func NewMemoryBus(buffer int) *MemoryBus {
	return &MemoryBus{hub: NewHub("memory", buffer)}
}

func (b *MemoryBus) Publish(ctx context.Context, msg models.Message) error {
	msg, err := Prepare(msg)
	if err != nil {
		return err
	}
	if b.hub.Closed() {
		return ErrBusClosed
	}
	metrics.BusPublishedTotal.WithLabelValues("memory", msg.Action).Inc()
	b.hub.Deliver(msg)
	return nil
}

func (b *MemoryBus) Subscribe(name string) (*Subscription, error) {
	return b.hub.Subscribe(name)
}

func (b *MemoryBus) Close() error {
	b.hub.Close()
	return nil
}

func (b *MemoryBus) Stats() Stats {
	return b.hub.Stats()
}

var _ Bus = (*MemoryBus)(nil)
