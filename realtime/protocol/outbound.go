// Package protocol defines the JSON frames exchanged over the realtime
// connection and the typed event payloads they carry.
package protocol

import (
	"encoding/json"

	"github.com/itskum47/pulsewire/realtime/topic"
)

// SchemaVersion is the highest policy_version this client understands.
const SchemaVersion = 1

// FrameType is the "type" tag shared by every frame.
type FrameType string

const (
	TypeAuth        FrameType = "auth"
	TypeReauth      FrameType = "reauth"
	TypeSubscribe   FrameType = "subscribe"
	TypeUnsubscribe FrameType = "unsubscribe"
	TypePing        FrameType = "ping"
	TypeCommand     FrameType = "command"

	TypeReady         FrameType = "ready"
	TypePong          FrameType = "pong"
	TypeSubscribeOk   FrameType = "subscribe_ok"
	TypeUnsubscribeOk FrameType = "unsubscribe_ok"
	TypeError         FrameType = "error"
	TypeEvent         FrameType = "event"
)

// Outbound is a frame the client sends.
type Outbound interface {
	Type() FrameType
}

type Auth struct {
	Token string
}

type Reauth struct {
	Token string
}

type Subscribe struct {
	Topics []topic.Topic
	Since  *uint64
}

type Unsubscribe struct {
	Topics []topic.Topic
}

type Ping struct{}

type Command struct {
	Name  string
	Topic topic.Topic // optional
	Data  json.RawMessage
}

func (Auth) Type() FrameType        { return TypeAuth }
func (Reauth) Type() FrameType      { return TypeReauth }
func (Subscribe) Type() FrameType   { return TypeSubscribe }
func (Unsubscribe) Type() FrameType { return TypeUnsubscribe }
func (Ping) Type() FrameType        { return TypePing }
func (Command) Type() FrameType     { return TypeCommand }

func (f Auth) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  FrameType `json:"type"`
		Token string    `json:"token"`
	}{TypeAuth, f.Token})
}

func (f Reauth) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  FrameType `json:"type"`
		Token string    `json:"token"`
	}{TypeReauth, f.Token})
}

func (f Subscribe) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   FrameType     `json:"type"`
		Topics []topic.Topic `json:"topics"`
		Since  *uint64       `json:"since,omitempty"`
	}{TypeSubscribe, nonNil(f.Topics), f.Since})
}

func (f Unsubscribe) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   FrameType     `json:"type"`
		Topics []topic.Topic `json:"topics"`
	}{TypeUnsubscribe, nonNil(f.Topics)})
}

func (Ping) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"ping"}`), nil
}

func (f Command) MarshalJSON() ([]byte, error) {
	data := f.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Type  FrameType       `json:"type"`
		Name  string          `json:"name"`
		Topic topic.Topic     `json:"topic,omitempty"`
		Data  json.RawMessage `json:"data"`
	}{TypeCommand, f.Name, f.Topic, data})
}

// Encode serialises an outbound frame.
func Encode(f Outbound) ([]byte, error) {
	return json.Marshal(f)
}

func nonNil(ts []topic.Topic) []topic.Topic {
	if ts == nil {
		return []topic.Topic{}
	}
	return ts
}
