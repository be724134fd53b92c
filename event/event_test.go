package event_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0m3kk/library/event"
)

func TestNewEnvelope_PopulatesIdentityAndTime(t *testing.T) {
	before := time.Now().UTC()
	env := event.NewEnvelope("abc", event.EntityBook, event.ActionCreated, map[string]int{"n": 1})

	assert.NotEqual(t, uuid.Nil, env.EventID())
	assert.Equal(t, "abc", env.EntityID())
	assert.Equal(t, event.EntityBook, env.EntityType())
	assert.Equal(t, event.ActionCreated, env.ActionType())
	assert.Equal(t, `{"n":1}`, env.Payload())
	assert.Equal(t, time.UTC, env.Timestamp().Location())
	assert.False(t, env.Timestamp().Before(before))
}

func TestNewEnvelope_DistinctIDs(t *testing.T) {
	a := event.NewEnvelope("x", event.EntityParty, event.ActionCreated, struct{}{})
	b := event.NewEnvelope("x", event.EntityParty, event.ActionCreated, struct{}{})
	assert.NotEqual(t, a.EventID(), b.EventID())
}

func TestValidate(t *testing.T) {
	valid := event.NewBookDeleted(uuid.New())
	require.NoError(t, event.Validate(valid))

	missingPayload := event.NewBookDeleted(uuid.New())
	missingPayload.Data = ""
	assert.ErrorIs(t, event.Validate(missingPayload), event.ErrInvalidEnvelope)

	missingID := event.NewBookDeleted(uuid.New())
	missingID.ID = uuid.Nil
	assert.ErrorIs(t, event.Validate(missingID), event.ErrInvalidEnvelope)

	missingTime := event.NewBookDeleted(uuid.New())
	missingTime.Ts = time.Time{}
	assert.ErrorIs(t, event.Validate(missingTime), event.ErrInvalidEnvelope)

	assert.ErrorIs(t, event.Validate(nil), event.ErrInvalidEnvelope)
}

func TestBookBorrowed_EnvelopeAndPayload(t *testing.T) {
	resID, bookID, customerID := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	evt := event.NewBookBorrowed(event.BorrowSnapshot{
		ReservationID:   resID,
		BookID:          bookID,
		CustomerPartyID: customerID,
		BorrowedAt:      at,
	})

	assert.Equal(t, event.TypeBookBorrowed, evt.EventType())
	assert.Equal(t, resID.String(), evt.EntityID())
	assert.Equal(t, event.EntityReservation, evt.EntityType())
	assert.Equal(t, event.ActionBookBorrowed, evt.ActionType())
	assert.Contains(t, evt.Payload(), `"book_id":"`+bookID.String()+`"`)
	assert.Contains(t, evt.Payload(), `"borrowed_at":"2025-03-01T10:00:00Z"`)
}

func TestOutbox_RoundTrip(t *testing.T) {
	// GIVEN
	original := event.NewBookCreated(event.BookSnapshot{
		BookID:          uuid.New(),
		Title:           "Dune",
		ISBN:            "978-0441013593",
		AuthorPartyID:   uuid.New(),
		CategoryID:      uuid.New(),
		TotalCopies:     3,
		AvailableCopies: 3,
	})

	// WHEN
	rec, err := event.ToOutbox(original)
	require.NoError(t, err)
	decoded, err := event.Decode(rec)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, event.TypeBookCreated, rec.EventType)
	assert.Equal(t, original.EventID(), rec.EventID)
	assert.Equal(t, original.Payload(), rec.Payload)

	got, ok := decoded.(*event.BookCreated)
	require.True(t, ok, "decoded fact should be *event.BookCreated, got %T", decoded)
	assert.Equal(t, original.BookSnapshot, got.BookSnapshot)
	assert.Equal(t, original.EventID(), got.EventID())
	assert.True(t, original.Timestamp().Equal(got.Timestamp()))
}

func TestToOutbox_RejectsInvalidEnvelope(t *testing.T) {
	evt := event.NewCategoryDeleted(uuid.New())
	evt.Entity = ""

	_, err := event.ToOutbox(evt)
	assert.ErrorIs(t, err, event.ErrInvalidEnvelope)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := event.Decode(event.OutboxEvent{EventType: "SomethingElse", Data: []byte(`{}`)})
	assert.ErrorIs(t, err, event.ErrUnknownEventType)
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	id := uuid.New()
	rec := event.OutboxEvent{
		EventType: event.TypeCategoryCreated,
		Data:      []byte(`{"category_id":"` + id.String() + `","name":"Sci-Fi","shelf":"B2"}`),
	}

	evt, err := event.Decode(rec)
	require.NoError(t, err)
	got := evt.(*event.CategoryCreated)
	assert.Equal(t, id, got.CategoryID)
	assert.Equal(t, "Sci-Fi", got.Name)
}

func TestRegistry_HasWholeCatalog(t *testing.T) {
	assert.Len(t, event.Types(), 13)
	for _, name := range event.Types() {
		evt, err := event.New(name)
		require.NoError(t, err)
		assert.Equal(t, name, evt.EventType())
	}
}
