// Package streaming forwards dispatched realtime events to an external
// sink. The CLI uses the JSON-lines sink to print events to stdout.
package streaming

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the serialised form of one dispatched event.
type Record struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Topic     string          `json:"topic"`
	Version   *uint64         `json:"v,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"ts"`
	Received  time.Time       `json:"received"`
}

// Publisher accepts records for delivery.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}
