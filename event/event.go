package event

import (
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// Entity types carried in the envelope.
const (
	EntityParty       = "Party"
	EntityBook        = "Book"
	EntityCategory    = "Category"
	EntityReservation = "Reservation"
)

// Action types carried in the envelope.
const (
	ActionCreated      = "Created"
	ActionUpdated      = "Updated"
	ActionDeleted      = "Deleted"
	ActionBookBorrowed = "BookBorrowed"
	ActionBookReturned = "BookReturned"
	ActionRoleAssigned = "RoleAssigned"
	ActionRoleRemoved  = "RoleRemoved"
)

// ErrInvalidEnvelope is returned by Validate for an incomplete envelope.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Event is the interface that all domain facts must implement.
type Event interface {
	EventID() uuid.UUID
	EntityID() string
	EntityType() string
	ActionType() string
	Timestamp() time.Time
	Payload() string
	EventType() string
}

// Envelope holds the fields common to every fact.
// Facts embed it and add their own typed fields.
type Envelope struct {
	ID     uuid.UUID `json:"event_id"`
	Entity string    `json:"entity_id"`
	Kind   string    `json:"entity_type"`
	Action string    `json:"action_type"`
	Ts     time.Time `json:"timestamp"`
	Data   string    `json:"payload"`
}

func (e Envelope) EventID() uuid.UUID   { return e.ID }
func (e Envelope) EntityID() string     { return e.Entity }
func (e Envelope) EntityType() string   { return e.Kind }
func (e Envelope) ActionType() string   { return e.Action }
func (e Envelope) Timestamp() time.Time { return e.Ts }
func (e Envelope) Payload() string      { return e.Data }

// NewEnvelope creates an envelope with a fresh event id and the current UTC time.
// The snapshot is serialized into the payload; a snapshot that cannot be encoded
// leaves the payload empty, which Validate rejects.
func NewEnvelope(entityID, entityType, actionType string, snapshot any) Envelope {
	env := Envelope{
		ID:     uuid.New(),
		Entity: entityID,
		Kind:   entityType,
		Action: actionType,
		Ts:     time.Now().UTC(),
	}
	if data, err := jsoniter.ConfigFastest.MarshalToString(snapshot); err == nil {
		env.Data = data
	}
	return env
}

// Validate checks that every envelope field is populated.
func Validate(evt Event) error {
	switch {
	case evt == nil:
		return ErrInvalidEnvelope
	case evt.EventID() == uuid.Nil:
		return errors.Join(ErrInvalidEnvelope, errors.New("missing event id"))
	case evt.EntityID() == "":
		return errors.Join(ErrInvalidEnvelope, errors.New("missing entity id"))
	case evt.EntityType() == "":
		return errors.Join(ErrInvalidEnvelope, errors.New("missing entity type"))
	case evt.ActionType() == "":
		return errors.Join(ErrInvalidEnvelope, errors.New("missing action type"))
	case evt.Timestamp().IsZero():
		return errors.Join(ErrInvalidEnvelope, errors.New("missing timestamp"))
	case evt.Payload() == "":
		return errors.Join(ErrInvalidEnvelope, errors.New("missing payload"))
	}
	return nil
}
