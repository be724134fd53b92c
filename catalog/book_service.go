package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
)

type BookService struct {
	books      BookRepository
	categories CategoryRepository
	tx         Transactor
	publisher  Publisher
	now        func() time.Time
}

// NewBookService creates a book service that writes its facts through publisher.
func NewBookService(books BookRepository, categories CategoryRepository, tx Transactor, publisher Publisher) *BookService {
	return &BookService{books: books, categories: categories, tx: tx, publisher: publisher, now: time.Now}
}

// Get returns one book or a NotFoundError.
func (s *BookService) Get(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.books.Get(ctx, id)
}

// List returns every book.
func (s *BookService) List(ctx context.Context) ([]Book, error) {
	return s.books.List(ctx)
}

// SearchByTitle matches query case-insensitively anywhere in the title.
func (s *BookService) SearchByTitle(ctx context.Context, query string) ([]Book, error) {
	return s.books.SearchByTitle(ctx, strings.TrimSpace(query))
}

// Create adds a book with all copies available and emits BookCreated.
func (s *BookService) Create(ctx context.Context, in BookInput) (*Book, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b := &Book{
		ID:              uuid.New(),
		Title:           in.Title,
		ISBN:            in.ISBN,
		AuthorPartyID:   in.AuthorPartyID,
		CategoryID:      in.CategoryID,
		TotalCopies:     in.TotalCopies,
		AvailableCopies: in.TotalCopies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.checkReferences(txCtx, in, uuid.Nil); err != nil {
			return err
		}
		if err := s.books.Insert(txCtx, b); err != nil {
			return fmt.Errorf("failed to save book: %w", err)
		}
		return s.publisher.Publish(txCtx, event.NewBookCreated(b.snapshot()))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Update changes a book and emits BookUpdated. A change of total copies moves
// available copies by the same amount.
func (s *BookService) Update(ctx context.Context, id uuid.UUID, in BookInput) (*Book, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var b *Book
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		b, err = s.books.Get(txCtx, id)
		if err != nil {
			return err
		}
		if err := s.checkReferences(txCtx, in, id); err != nil {
			return err
		}

		delta := in.TotalCopies - b.TotalCopies
		b.Title = in.Title
		b.ISBN = in.ISBN
		b.AuthorPartyID = in.AuthorPartyID
		b.CategoryID = in.CategoryID
		b.TotalCopies = in.TotalCopies
		b.UpdatedAt = s.now().UTC()
		if err := s.books.Update(txCtx, b, delta); err != nil {
			return fmt.Errorf("failed to save book: %w", err)
		}
		return s.publisher.Publish(txCtx, event.NewBookUpdated(b.snapshot()))
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Delete removes a book and emits BookDeleted.
func (s *BookService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.books.Delete(txCtx, id); err != nil {
			return err
		}
		return s.publisher.Publish(txCtx, event.NewBookDeleted(id))
	})
}

func (s *BookService) checkReferences(ctx context.Context, in BookInput, self uuid.UUID) error {
	taken, err := s.books.ISBNExists(ctx, in.ISBN, self)
	if err != nil {
		return fmt.Errorf("failed to check isbn: %w", err)
	}
	if taken {
		return errs.Conflict("a book with ISBN %s already exists", in.ISBN)
	}
	if _, err := s.categories.Get(ctx, in.CategoryID); err != nil {
		return err
	}
	return nil
}

func validate(in BookInput) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return errs.Conflict("title is required")
	case strings.TrimSpace(in.ISBN) == "":
		return errs.Conflict("isbn is required")
	case in.TotalCopies < 0:
		return errs.Conflict("total copies must not be negative")
	}
	return nil
}
