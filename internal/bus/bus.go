// Package bus carries cross-surface messages. Delivery is best effort:
// messages are unordered with respect to store writes, unacknowledged, and
// dropped for subscribers that are not keeping up.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

var (
	ErrBusClosed      = errors.New("bus is closed")
	ErrInvalidMessage = errors.New("invalid bus message")
)

// Bus is the publish/subscribe seam between surfaces
type Bus interface {
	Publish(ctx context.Context, msg models.Message) error
	Subscribe(name string) (*Subscription, error)
	Close() error
}

// Subscription receives messages on C until closed
type Subscription struct {
	C    <-chan models.Message
	Name string

	ch      chan models.Message
	hub     *Hub
	dropped atomic.Uint64
}

// Close detaches the subscription and closes C
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Dropped is the number of messages this subscriber missed
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub fans messages out to local subscribers with a drop-new policy.
// Every transport delivers what it receives through one.
type Hub struct {
	transport string
	buffer    int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub(transport string, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		transport: transport,
		buffer:    buffer,
		subs:      make(map[*Subscription]struct{}),
	}
}

func (h *Hub) Subscribe(name string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrBusClosed
	}
	ch := make(chan models.Message, h.buffer)
	sub := &Subscription{C: ch, Name: name, ch: ch, hub: h}
	h.subs[sub] = struct{}{}
	return sub, nil
}

// Deliver hands msg to every subscriber without blocking
func (h *Hub) Deliver(msg models.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
			h.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
			metrics.BusDroppedTotal.WithLabelValues(h.transport).Inc()
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Close closes every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}

// Closed reports whether Close was called
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Stats returns hub counters
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return Stats{
		Transport:   h.transport,
		Subscribers: n,
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Stats holds bus counters
type Stats struct {
	Transport   string `json:"transport"`
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Prepare normalizes and validates an outgoing message
func Prepare(msg models.Message) (models.Message, error) {
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// Decode parses a JSON wire payload into a message
func Decode(payload []byte) (models.Message, error) {
	return DecodeWith(JSON, payload)
}
