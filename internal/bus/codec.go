package bus

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"coldwatch/internal/models"
)

// Codec encodes messages for broker transports
type Codec interface {
	Name() string
	Marshal(msg models.Message) ([]byte, error)
	Unmarshal(payload []byte, msg *models.Message) error
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Name() string                                  { return "json" }
func (jsonCodec) Marshal(msg models.Message) ([]byte, error)    { return json.Marshal(msg) }
func (jsonCodec) Unmarshal(p []byte, msg *models.Message) error { return json.Unmarshal(p, msg) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                                  { return "msgpack" }
func (msgpackCodec) Marshal(msg models.Message) ([]byte, error)    { return msgpack.Marshal(msg) }
func (msgpackCodec) Unmarshal(p []byte, msg *models.Message) error { return msgpack.Unmarshal(p, msg) }

// CodecFor resolves a codec name; empty means JSON
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown bus codec %q", name)
	}
}

// Encode prepares msg and marshals it with c
func Encode(c Codec, msg models.Message) ([]byte, error) {
	msg, err := Prepare(msg)
	if err != nil {
		return nil, err
	}
	data, err := c.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return data, nil
}

// DecodeWith parses a payload written by c
func DecodeWith(c Codec, payload []byte) (models.Message, error) {
	var msg models.Message
	if err := c.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return Prepare(msg)
}
