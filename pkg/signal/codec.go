package signal

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes messages for one websocket frame each.
type Codec interface {
	Name() string
	FrameType() int
	Marshal(*Message) ([]byte, error)
	Unmarshal([]byte, *Message) error
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName resolves "json" or "msgpack". The empty name means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case Msgpack.Name():
		return Msgpack, nil
	}

	return nil, errors.Wrap(ErrUnknownCodec, name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Marshal(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (jsonCodec) Unmarshal(b []byte, m *Message) error {
	return json.Unmarshal(b, m)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Marshal(m *Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

func (msgpackCodec) Unmarshal(b []byte, m *Message) error {
	return msgpack.Unmarshal(b, m)
}
