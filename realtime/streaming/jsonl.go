package streaming

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itskum47/pulsewire/realtime/log"
	"github.com/itskum47/pulsewire/realtime/protocol"
	"github.com/rs/zerolog"
)

// JSONLinesPublisher writes one JSON object per line. Safe for concurrent use.
type JSONLinesPublisher struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	logger zerolog.Logger
	now    func() time.Time
}

// NewJSONLinesPublisher writes to w. If w is an io.Closer, Close closes it.
func NewJSONLinesPublisher(w io.Writer) *JSONLinesPublisher {
	p := &JSONLinesPublisher{
		enc:    json.NewEncoder(w),
		logger: log.WithComponent("streaming"),
		now:    time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		p.closer = c
	}
	return p
}

func (p *JSONLinesPublisher) Publish(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Received.IsZero() {
		rec.Received = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(rec)
}

func (p *JSONLinesPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// FromEvent converts a dispatched event into a Record.
func FromEvent(ev protocol.Event) Record {
	payload := ev.Raw
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Record{
		Event:     ev.Name,
		Topic:     ev.Topic,
		Version:   ev.Version,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	}
}

// Forward returns an event handler that publishes every event to p. Publish
// failures are logged, never propagated to the dispatcher.
func Forward(ctx context.Context, p Publisher) func(protocol.Event) {
	logger := log.WithComponent("streaming")
	return func(ev protocol.Event) {
		if err := p.Publish(ctx, FromEvent(ev)); err != nil {
			logger.Warn().Err(err).
				Str(log.FieldTopic, ev.Topic).
				Str(log.FieldEvent, ev.Name).
				Msg("failed to publish event")
		}
	}
}
