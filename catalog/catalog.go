package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/0m3kk/library/event"
)

// Book is a title held by the library along with its copy counts.
// AvailableCopies is derived from reservation facts and may drift outside
// [0, TotalCopies] while events are in flight.
type Book struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	ISBN            string    `json:"isbn"`
	AuthorPartyID   uuid.UUID `json:"author_party_id"`
	CategoryID      uuid.UUID `json:"category_id"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (b *Book) snapshot() event.BookSnapshot {
	return event.BookSnapshot{
		BookID:          b.ID,
		Title:           b.Title,
		ISBN:            b.ISBN,
		AuthorPartyID:   b.AuthorPartyID,
		CategoryID:      b.CategoryID,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

type Category struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// BookInput carries the administrable fields of a book.
type BookInput struct {
	Title         string    `json:"title" binding:"required"`
	ISBN          string    `json:"isbn" binding:"required"`
	AuthorPartyID uuid.UUID `json:"author_party_id"`
	CategoryID    uuid.UUID `json:"category_id" binding:"required"`
	TotalCopies   int       `json:"total_copies"`
}

// BookRepository persists books.
type BookRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Book, error)
	List(ctx context.Context) ([]Book, error)
	SearchByTitle(ctx context.Context, query string) ([]Book, error)
	// ISBNExists reports whether a book other than excludeID carries isbn.
	ISBNExists(ctx context.Context, isbn string, excludeID uuid.UUID) (bool, error)
	Insert(ctx context.Context, b *Book) error
	// Update stores the administrable fields and shifts available copies by
	// copiesDelta in storage; b.AvailableCopies is refreshed from the result.
	Update(ctx context.Context, b *Book, copiesDelta int) error
	Delete(ctx context.Context, id uuid.UUID) error
	InventoryStore
}

// InventoryStore applies relative changes to available copies.
type InventoryStore interface {
	// AdjustAvailableCopies adds delta in a single storage-level increment.
	// It fails with a NotFoundError when the book does not exist.
	AdjustAvailableCopies(ctx context.Context, bookID uuid.UUID, delta int) error
}

// CategoryRepository persists categories.
type CategoryRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Category, error)
	List(ctx context.Context) ([]Category, error)
	Insert(ctx context.Context, c *Category) error
	Update(ctx context.Context, c *Category) error
	// Delete fails with a ConflictError while books still reference the category.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Transactor runs fn in one local transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher emits facts from inside the write transaction.
type Publisher interface {
	Publish(ctx context.Context, events ...event.Event) error
}
