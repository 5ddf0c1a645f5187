package tui

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// Envelope is the wire format for everything crossing the stack event bus:
// a type tag plus a raw JSON payload decoded by whoever recognizes the tag.
// Unknown types are skipped by consumers, so the dashboard and the state
// watcher can evolve independently.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(typ string, payload any) (Envelope, error) {
	if typ == "" {
		return Envelope{}, errors.New("empty envelope type")
	}
	env := Envelope{Type: typ}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "marshal %s payload", typ)
	}
	env.Payload = b
	return env, nil
}

func (e Envelope) MarshalJSONBytes() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}
	return b, nil
}

// PublishEnvelope wraps payload in an Envelope and publishes it on topic.
// This is the only way events enter the bus, so every message is guaranteed
// to carry a type tag.
func PublishEnvelope(pub message.Publisher, topic, typ string, payload any) error {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	b, err := env.MarshalJSONBytes()
	if err != nil {
		return err
	}
	if err := pub.Publish(topic, message.NewMessage(watermill.NewUUID(), b)); err != nil {
		return errors.Wrapf(err, "publish %s to %s", typ, topic)
	}
	return nil
}
