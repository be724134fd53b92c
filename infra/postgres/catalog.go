package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0m3kk/library/catalog"
	"github.com/0m3kk/library/errs"
)

const bookColumns = `id, title, isbn, author_party_id, category_id, total_copies, available_copies, created_at, updated_at`

// BookRepository implements catalog.BookRepository.
type BookRepository struct {
	db *DB
}

// NewBookRepository creates a new BookRepository.
func NewBookRepository(db *DB) *BookRepository {
	return &BookRepository{db: db}
}

func scanBook(row pgx.Row) (*catalog.Book, error) {
	var b catalog.Book
	err := row.Scan(&b.ID, &b.Title, &b.ISBN, &b.AuthorPartyID, &b.CategoryID,
		&b.TotalCopies, &b.AvailableCopies, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BookRepository) Get(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	b, err := scanBook(s.db.conn(ctx).QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("book", id)
	}
	if err != nil {
		return nil, classify("load book", err)
	}
	return b, nil
}

func (s *BookRepository) List(ctx context.Context) ([]catalog.Book, error) {
	return s.list(ctx, `SELECT `+bookColumns+` FROM books ORDER BY title`)
}

func (s *BookRepository) SearchByTitle(ctx context.Context, query string) ([]catalog.Book, error) {
	return s.list(ctx, `SELECT `+bookColumns+` FROM books WHERE title ILIKE '%' || $1 || '%' ORDER BY title`, query)
}

func (s *BookRepository) ISBNExists(ctx context.Context, isbn string, excludeID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM books WHERE isbn = $1 AND id <> $2)`
	if err := s.db.conn(ctx).QueryRow(ctx, query, isbn, excludeID).Scan(&exists); err != nil {
		return false, classify("check isbn", err)
	}
	return exists, nil
}

func (s *BookRepository) Insert(ctx context.Context, b *catalog.Book) error {
	query := `INSERT INTO books (` + bookColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.conn(ctx).Exec(ctx, query, b.ID, b.Title, b.ISBN, b.AuthorPartyID, b.CategoryID,
		b.TotalCopies, b.AvailableCopies, b.CreatedAt, b.UpdatedAt)
	switch {
	case isCode(err, codeUniqueViolation):
		return &errs.ConflictError{Msg: "a book with ISBN " + b.ISBN + " already exists", Err: err}
	case isCode(err, codeForeignKeyViolation):
		return errs.NotFound("category", b.CategoryID)
	}
	return classify("insert book", err)
}

// Update writes the administrable fields and shifts available_copies by
// copiesDelta in the same statement.
func (s *BookRepository) Update(ctx context.Context, b *catalog.Book, copiesDelta int) error {
	query := `
        UPDATE books
        SET title = $2, isbn = $3, author_party_id = $4, category_id = $5, total_copies = $6,
            available_copies = available_copies + $7, updated_at = $8
        WHERE id = $1
        RETURNING available_copies, created_at
    `
	err := s.db.conn(ctx).QueryRow(ctx, query, b.ID, b.Title, b.ISBN, b.AuthorPartyID, b.CategoryID,
		b.TotalCopies, copiesDelta, b.UpdatedAt).Scan(&b.AvailableCopies, &b.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errs.NotFound("book", b.ID)
	case isCode(err, codeUniqueViolation):
		return &errs.ConflictError{Msg: "a book with ISBN " + b.ISBN + " already exists", Err: err}
	case isCode(err, codeForeignKeyViolation):
		return errs.NotFound("category", b.CategoryID)
	}
	return classify("update book", err)
}

func (s *BookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.conn(ctx).Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return classify("delete book", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("book", id)
	}
	return nil
}

// AdjustAvailableCopies applies delta as a single atomic increment; concurrent
// projector updates commute.
func (s *BookRepository) AdjustAvailableCopies(ctx context.Context, bookID uuid.UUID, delta int) error {
	query := `UPDATE books SET available_copies = available_copies + $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.conn(ctx).Exec(ctx, query, bookID, delta)
	if err != nil {
		return classify("adjust available copies", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("book", bookID)
	}
	return nil
}

func (s *BookRepository) list(ctx context.Context, query string, args ...any) ([]catalog.Book, error) {
	rows, err := s.db.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list books", err)
	}
	defer rows.Close()

	out := []catalog.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, classify("scan book", err)
		}
		out = append(out, *b)
	}
	return out, classify("list books", rows.Err())
}

// CategoryRepository implements catalog.CategoryRepository.
type CategoryRepository struct {
	db *DB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db *DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (s *CategoryRepository) Get(ctx context.Context, id uuid.UUID) (*catalog.Category, error) {
	var c catalog.Category
	err := s.db.conn(ctx).QueryRow(ctx, `SELECT id, name FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("category", id)
	}
	if err != nil {
		return nil, classify("load category", err)
	}
	return &c, nil
}

func (s *CategoryRepository) List(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.db.conn(ctx).Query(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, classify("list categories", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.Category])
	if err != nil {
		return nil, classify("list categories", err)
	}
	if out == nil {
		out = []catalog.Category{}
	}
	return out, nil
}

func (s *CategoryRepository) Insert(ctx context.Context, c *catalog.Category) error {
	_, err := s.db.conn(ctx).Exec(ctx, `INSERT INTO categories (id, name) VALUES ($1, $2)`, c.ID, c.Name)
	return classify("insert category", err)
}

func (s *CategoryRepository) Update(ctx context.Context, c *catalog.Category) error {
	tag, err := s.db.conn(ctx).Exec(ctx, `UPDATE categories SET name = $2 WHERE id = $1`, c.ID, c.Name)
	if err != nil {
		return classify("update category", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("category", c.ID)
	}
	return nil
}

func (s *CategoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.conn(ctx).Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if isCode(err, codeForeignKeyViolation) {
		return &errs.ConflictError{Msg: "category " + id.String() + " is still referenced by books", Err: err}
	}
	if err != nil {
		return classify("delete category", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("category", id)
	}
	return nil
}
