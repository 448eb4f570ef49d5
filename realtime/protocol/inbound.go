package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedFrame marks payloads that are not a valid frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownFrame marks well-formed frames with a type this client does
	// not know. Callers ignore them so newer servers stay compatible.
	ErrUnknownFrame = errors.New("unknown frame type")
)

// Inbound is a frame the server sends.
type Inbound interface {
	Type() FrameType
}

type Ready struct {
	PolicyVersion uint64 `json:"policy_version"`
	Exp           *int64 `json:"exp"`
}

// Supported reports whether the server's policy version is one this client
// understands.
func (r Ready) Supported() bool { return r.PolicyVersion <= SchemaVersion }

type Pong struct{}

// Rejection is one entry of subscribe_ok.rejected, a [topic, reason] pair
// on the wire.
type Rejection struct {
	Topic  string
	Reason string
}

func (r *Rejection) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("rejection: want [topic, reason], got %d elements", len(pair))
	}
	r.Topic, r.Reason = pair[0], pair[1]
	return nil
}

func (r Rejection) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{r.Topic, r.Reason})
}

type SubscribeOk struct {
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

type UnsubscribeOk struct {
	Topics []string `json:"topics"`
}

type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func (Ready) Type() FrameType         { return TypeReady }
func (Pong) Type() FrameType          { return TypePong }
func (SubscribeOk) Type() FrameType   { return TypeSubscribeOk }
func (UnsubscribeOk) Type() FrameType { return TypeUnsubscribeOk }
func (Error) Type() FrameType         { return TypeError }
func (Event) Type() FrameType         { return TypeEvent }

type envelope struct {
	Type FrameType `json:"type"`
}

type eventFrame struct {
	Event   string          `json:"event"`
	Topic   string          `json:"topic"`
	V       *uint64         `json:"v"`
	Payload json.RawMessage `json:"payload"`
	TS      string          `json:"ts"`
}

// Parse decodes and validates one inbound frame. Errors wrap
// ErrMalformedFrame or ErrUnknownFrame.
func Parse(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case TypeReady:
		var f Ready
		if err := decodeFrame(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypePong:
		return Pong{}, nil
	case TypeSubscribeOk:
		var f SubscribeOk
		if err := decodeFrame(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeUnsubscribeOk:
		var f UnsubscribeOk
		if err := decodeFrame(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeError:
		var f Error
		if err := decodeFrame(data, &f); err != nil {
			return nil, err
		}
		if f.Code == "" {
			return nil, fmt.Errorf("%w: error frame without code", ErrMalformedFrame)
		}
		return f, nil
	case TypeEvent:
		return parseEvent(data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
}

func parseEvent(data []byte) (Inbound, error) {
	var f eventFrame
	if err := decodeFrame(data, &f); err != nil {
		return nil, err
	}
	if f.Event == "" || f.Topic == "" {
		return nil, fmt.Errorf("%w: event frame needs event and topic", ErrMalformedFrame)
	}

	ev := Event{
		Name:    f.Event,
		Kind:    EventKind(f.Event),
		Topic:   f.Topic,
		Version: f.V,
		Raw:     f.Payload,
	}
	// ts is informational; an unparseable value leaves Timestamp zero
	if ts, err := time.Parse(time.RFC3339Nano, f.TS); err == nil {
		ev.Timestamp = ts
	}

	payload, err := DecodePayload(ev.Kind, f.Topic, f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, f.Event, err)
	}
	ev.Payload = payload
	return ev, nil
}

func decodeFrame(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
