package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"coldwatch/internal/bus"
	"coldwatch/internal/logger"
)

// Subscriber reads the surfaces topic and hands every message to the
// local hub. Each process joins with its own consumer group so that every
// process sees every message, starting from the newest offset.
type Subscriber struct {
	reader *kafka.Reader
	hub    *bus.Hub
	codec  bus.Codec
	log    zerolog.Logger
}

// NewSubscriber creates a reader. Messages without a codec header are
// decoded with codec.
func NewSubscriber(brokers []string, topic string, hub *bus.Hub, codec bus.Codec) (*Subscriber, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "coldwatch-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     500 * time.Millisecond,
	})

	if codec == nil {
		codec = bus.JSON
	}
	return &Subscriber{
		reader: reader,
		hub:    hub,
		codec:  codec,
		log:    logger.WithComponent("kafka_subscriber"),
	}, nil
}

// Run reads until ctx is cancelled or the reader is closed
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			s.log.Warn().Err(err).Msg("kafka read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		s.handle(m)
	}
}

func (s *Subscriber) handle(m kafka.Message) {
	codec := s.codec
	if name := header(m, HeaderCodec); name != "" {
		c, err := bus.CodecFor(name)
		if err != nil {
			s.log.Warn().Err(err).Int64("offset", m.Offset).Msg("dropping surface message")
			return
		}
		codec = c
	}

	msg, err := bus.DecodeWith(codec, m.Value)
	if err != nil {
		s.log.Warn().
			Err(err).
			Int64("offset", m.Offset).
			Msg("dropping undecodable surface message")
		return
	}

	s.log.Debug().
		Str("action", msg.Action).
		Str("message_id", header(m, HeaderMessageID)).
		Str("surface_id", header(m, HeaderSurfaceID)).
		Msg("surface message received")
	s.hub.Deliver(msg)
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
