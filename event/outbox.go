package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// OutboxEvent is the transport record of a fact: the envelope, the type name
// and the full encoding of the concrete fact. It is what the outbox stores and
// what brokers carry.
type OutboxEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	EntityID   string          `json:"entity_id"`
	EntityType string          `json:"entity_type"`
	ActionType string          `json:"action_type"`
	EventType  string          `json:"event_type"`
	Payload    string          `json:"payload"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ToOutbox validates a fact and encodes it for storage or transport.
func ToOutbox(evt Event) (OutboxEvent, error) {
	if err := Validate(evt); err != nil {
		return OutboxEvent{}, err
	}
	data, err := jsoniter.ConfigFastest.Marshal(evt)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to marshal event %s: %w", evt.EventID(), err)
	}
	return OutboxEvent{
		EventID:    evt.EventID(),
		EntityID:   evt.EntityID(),
		EntityType: evt.EntityType(),
		ActionType: evt.ActionType(),
		EventType:  evt.EventType(),
		Payload:    evt.Payload(),
		Data:       data,
		Timestamp:  evt.Timestamp(),
	}, nil
}

// Decode rebuilds the typed fact carried by a transport record.
func Decode(rec OutboxEvent) (Event, error) {
	evt, err := New(rec.EventType)
	if err != nil {
		return nil, err
	}
	if err := jsoniter.ConfigFastest.Unmarshal(rec.Data, evt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event %s of type %s: %w", rec.EventID, rec.EventType, err)
	}
	return evt, nil
}
