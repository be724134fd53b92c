package event

import (
	"time"

	"github.com/google/uuid"
)

// Fact type names. They drive topic routing, registry decoding and dispatch.
const (
	TypePartyCreated    = "PartyCreated"
	TypePartyUpdated    = "PartyUpdated"
	TypePartyDeleted    = "PartyDeleted"
	TypeRoleAssigned    = "RoleAssigned"
	TypeRoleRemoved     = "RoleRemoved"
	TypeBookCreated     = "BookCreated"
	TypeBookUpdated     = "BookUpdated"
	TypeBookDeleted     = "BookDeleted"
	TypeCategoryCreated = "CategoryCreated"
	TypeCategoryUpdated = "CategoryUpdated"
	TypeCategoryDeleted = "CategoryDeleted"
	TypeBookBorrowed    = "BookBorrowed"
	TypeBookReturned    = "BookReturned"
)

// PartySnapshot is the payload of PartyCreated and PartyUpdated.
type PartySnapshot struct {
	PartyID   uuid.UUID `json:"party_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
}

// PartyRef is the payload of PartyDeleted.
type PartyRef struct {
	PartyID uuid.UUID `json:"party_id"`
}

// RoleSnapshot is the payload of RoleAssigned and RoleRemoved.
type RoleSnapshot struct {
	PartyID  uuid.UUID `json:"party_id"`
	RoleID   uuid.UUID `json:"role_id"`
	RoleName string    `json:"role_name"`
}

// BookSnapshot is the payload of BookCreated and BookUpdated.
type BookSnapshot struct {
	BookID          uuid.UUID `json:"book_id"`
	Title           string    `json:"title"`
	ISBN            string    `json:"isbn"`
	AuthorPartyID   uuid.UUID `json:"author_party_id"`
	CategoryID      uuid.UUID `json:"category_id"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
}

// BookRef is the payload of BookDeleted.
type BookRef struct {
	BookID uuid.UUID `json:"book_id"`
}

// CategorySnapshot is the payload of CategoryCreated and CategoryUpdated.
type CategorySnapshot struct {
	CategoryID uuid.UUID `json:"category_id"`
	Name       string    `json:"name"`
}

// CategoryRef is the payload of CategoryDeleted.
type CategoryRef struct {
	CategoryID uuid.UUID `json:"category_id"`
}

// BorrowSnapshot is the payload of BookBorrowed.
type BorrowSnapshot struct {
	ReservationID   uuid.UUID `json:"reservation_id"`
	BookID          uuid.UUID `json:"book_id"`
	CustomerPartyID uuid.UUID `json:"customer_party_id"`
	BorrowedAt      time.Time `json:"borrowed_at"`
}

// ReturnSnapshot is the payload of BookReturned.
type ReturnSnapshot struct {
	ReservationID   uuid.UUID `json:"reservation_id"`
	BookID          uuid.UUID `json:"book_id"`
	CustomerPartyID uuid.UUID `json:"customer_party_id"`
	ReturnedAt      time.Time `json:"returned_at"`
}

type PartyCreated struct {
	Envelope
	PartySnapshot
}

func (PartyCreated) EventType() string { return TypePartyCreated }

func NewPartyCreated(s PartySnapshot) *PartyCreated {
	return &PartyCreated{Envelope: NewEnvelope(s.PartyID.String(), EntityParty, ActionCreated, s), PartySnapshot: s}
}

type PartyUpdated struct {
	Envelope
	PartySnapshot
}

func (PartyUpdated) EventType() string { return TypePartyUpdated }

func NewPartyUpdated(s PartySnapshot) *PartyUpdated {
	return &PartyUpdated{Envelope: NewEnvelope(s.PartyID.String(), EntityParty, ActionUpdated, s), PartySnapshot: s}
}

type PartyDeleted struct {
	Envelope
	PartyRef
}

func (PartyDeleted) EventType() string { return TypePartyDeleted }

func NewPartyDeleted(partyID uuid.UUID) *PartyDeleted {
	ref := PartyRef{PartyID: partyID}
	return &PartyDeleted{Envelope: NewEnvelope(partyID.String(), EntityParty, ActionDeleted, ref), PartyRef: ref}
}

type RoleAssigned struct {
	Envelope
	RoleSnapshot
}

func (RoleAssigned) EventType() string { return TypeRoleAssigned }

func NewRoleAssigned(s RoleSnapshot) *RoleAssigned {
	return &RoleAssigned{Envelope: NewEnvelope(s.PartyID.String(), EntityParty, ActionRoleAssigned, s), RoleSnapshot: s}
}

type RoleRemoved struct {
	Envelope
	RoleSnapshot
}

func (RoleRemoved) EventType() string { return TypeRoleRemoved }

func NewRoleRemoved(s RoleSnapshot) *RoleRemoved {
	return &RoleRemoved{Envelope: NewEnvelope(s.PartyID.String(), EntityParty, ActionRoleRemoved, s), RoleSnapshot: s}
}

type BookCreated struct {
	Envelope
	BookSnapshot
}

func (BookCreated) EventType() string { return TypeBookCreated }

func NewBookCreated(s BookSnapshot) *BookCreated {
	return &BookCreated{Envelope: NewEnvelope(s.BookID.String(), EntityBook, ActionCreated, s), BookSnapshot: s}
}

type BookUpdated struct {
	Envelope
	BookSnapshot
}

func (BookUpdated) EventType() string { return TypeBookUpdated }

func NewBookUpdated(s BookSnapshot) *BookUpdated {
	return &BookUpdated{Envelope: NewEnvelope(s.BookID.String(), EntityBook, ActionUpdated, s), BookSnapshot: s}
}

type BookDeleted struct {
	Envelope
	BookRef
}

func (BookDeleted) EventType() string { return TypeBookDeleted }

func NewBookDeleted(bookID uuid.UUID) *BookDeleted {
	ref := BookRef{BookID: bookID}
	return &BookDeleted{Envelope: NewEnvelope(bookID.String(), EntityBook, ActionDeleted, ref), BookRef: ref}
}

type CategoryCreated struct {
	Envelope
	CategorySnapshot
}

func (CategoryCreated) EventType() string { return TypeCategoryCreated }

func NewCategoryCreated(s CategorySnapshot) *CategoryCreated {
	return &CategoryCreated{
		Envelope:         NewEnvelope(s.CategoryID.String(), EntityCategory, ActionCreated, s),
		CategorySnapshot: s,
	}
}

type CategoryUpdated struct {
	Envelope
	CategorySnapshot
}

func (CategoryUpdated) EventType() string { return TypeCategoryUpdated }

func NewCategoryUpdated(s CategorySnapshot) *CategoryUpdated {
	return &CategoryUpdated{
		Envelope:         NewEnvelope(s.CategoryID.String(), EntityCategory, ActionUpdated, s),
		CategorySnapshot: s,
	}
}

type CategoryDeleted struct {
	Envelope
	CategoryRef
}

func (CategoryDeleted) EventType() string { return TypeCategoryDeleted }

func NewCategoryDeleted(categoryID uuid.UUID) *CategoryDeleted {
	ref := CategoryRef{CategoryID: categoryID}
	return &CategoryDeleted{
		Envelope:    NewEnvelope(categoryID.String(), EntityCategory, ActionDeleted, ref),
		CategoryRef: ref,
	}
}

// BookBorrowed is emitted by the reservation service when a copy leaves the shelf.
type BookBorrowed struct {
	Envelope
	BorrowSnapshot
}

func (BookBorrowed) EventType() string { return TypeBookBorrowed }

func NewBookBorrowed(s BorrowSnapshot) *BookBorrowed {
	return &BookBorrowed{
		Envelope:       NewEnvelope(s.ReservationID.String(), EntityReservation, ActionBookBorrowed, s),
		BorrowSnapshot: s,
	}
}

// BookReturned is emitted by the reservation service when a copy comes back.
type BookReturned struct {
	Envelope
	ReturnSnapshot
}

func (BookReturned) EventType() string { return TypeBookReturned }

func NewBookReturned(s ReturnSnapshot) *BookReturned {
	return &BookReturned{
		Envelope:       NewEnvelope(s.ReservationID.String(), EntityReservation, ActionBookReturned, s),
		ReturnSnapshot: s,
	}
}

func init() {
	Register[PartyCreated]()
	Register[PartyUpdated]()
	Register[PartyDeleted]()
	Register[RoleAssigned]()
	Register[RoleRemoved]()
	Register[BookCreated]()
	Register[BookUpdated]()
	Register[BookDeleted]()
	Register[CategoryCreated]()
	Register[CategoryUpdated]()
	Register[CategoryDeleted]()
	Register[BookBorrowed]()
	Register[BookReturned]()
}
