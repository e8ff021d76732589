package relay

import (
	"encoding/json"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
)

// Envelope is the wire form of a relayed event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

func envelope(evt *model.EventOutbox) ([]byte, error) {
	return json.Marshal(Envelope{
		EventID:       evt.EventID,
		EventType:     evt.EventType,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		Payload:       json.RawMessage(evt.Payload),
		CreatedAt:     evt.CreatedAt,
	})
}
