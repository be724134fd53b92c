package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
)

type CategoryService struct {
	categories CategoryRepository
	tx         Transactor
	publisher  Publisher
}

// NewCategoryService creates a category service that writes its facts through publisher.
func NewCategoryService(categories CategoryRepository, tx Transactor, publisher Publisher) *CategoryService {
	return &CategoryService{categories: categories, tx: tx, publisher: publisher}
}

// Get returns one category or a NotFoundError.
func (s *CategoryService) Get(ctx context.Context, id uuid.UUID) (*Category, error) {
	return s.categories.Get(ctx, id)
}

// List returns every category by name.
func (s *CategoryService) List(ctx context.Context) ([]Category, error) {
	return s.categories.List(ctx)
}

// Create adds a category and emits CategoryCreated.
func (s *CategoryService) Create(ctx context.Context, name string) (*Category, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errs.Conflict("category name is required")
	}
	c := &Category{ID: uuid.New(), Name: name}
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.categories.Insert(txCtx, c); err != nil {
			return fmt.Errorf("failed to save category: %w", err)
		}
		return s.publisher.Publish(txCtx, event.NewCategoryCreated(event.CategorySnapshot{CategoryID: c.ID, Name: c.Name}))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Update renames a category and emits CategoryUpdated.
func (s *CategoryService) Update(ctx context.Context, id uuid.UUID, name string) (*Category, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errs.Conflict("category name is required")
	}
	var c *Category
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		if c, err = s.categories.Get(txCtx, id); err != nil {
			return err
		}
		c.Name = name
		if err := s.categories.Update(txCtx, c); err != nil {
			return fmt.Errorf("failed to save category: %w", err)
		}
		return s.publisher.Publish(txCtx, event.NewCategoryUpdated(event.CategorySnapshot{CategoryID: c.ID, Name: c.Name}))
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes an unreferenced category and emits CategoryDeleted.
func (s *CategoryService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.categories.Delete(txCtx, id); err != nil {
			return err
		}
		return s.publisher.Publish(txCtx, event.NewCategoryDeleted(id))
	})
}
