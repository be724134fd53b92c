package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0m3kk/library/audit"
	"github.com/0m3kk/library/catalog"
	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/handler"
	"github.com/0m3kk/library/party"
	"github.com/0m3kk/library/reservation"
)

var errNoTx = errors.New("must be called within a transaction")

// IdempotencyStore is an in-memory processed-events ledger.
type IdempotencyStore struct {
	mu        sync.Mutex
	processed map[string]bool
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{processed: make(map[string]bool)}
}

func (s *IdempotencyStore) IsProcessed(_ context.Context, eventID uuid.UUID, subscriberID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[eventID.String()+"/"+subscriberID], nil
}

func (s *IdempotencyStore) MarkAsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) error {
	if !InTx(ctx) {
		return errNoTx
	}
	key := eventID.String() + "/" + subscriberID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[key] {
		return handler.ErrAlreadyProcessed
	}
	s.processed[key] = true
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.processed, key)
	})
	return nil
}

// OutboxStore is an in-memory outbox. Publish must run inside a transaction.
type OutboxStore struct {
	mu        sync.Mutex
	records   []event.OutboxEvent
	published map[uuid.UUID]bool
	locked    map[uuid.UUID]bool
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{published: make(map[uuid.UUID]bool), locked: make(map[uuid.UUID]bool)}
}

func (s *OutboxStore) Publish(ctx context.Context, events ...event.Event) error {
	if !InTx(ctx) {
		return errNoTx
	}
	recs := make([]event.OutboxEvent, 0, len(events))
	for _, evt := range events {
		rec, err := event.ToOutbox(evt)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	s.records = append(s.records, recs...)
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.records = s.records[:n]
	})
	return nil
}

func (s *OutboxStore) ProcessOutboxBatch(
	ctx context.Context,
	batchSize int,
	processFunc func(ctx context.Context, events []event.OutboxEvent) error,
) error {
	s.mu.Lock()
	var batch []event.OutboxEvent
	for _, rec := range s.records {
		if len(batch) == batchSize {
			break
		}
		if !s.published[rec.EventID] && !s.locked[rec.EventID] {
			batch = append(batch, rec)
			s.locked[rec.EventID] = true
		}
	}
	s.mu.Unlock()

	err := processFunc(ctx, batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range batch {
		delete(s.locked, rec.EventID)
		if err == nil {
			s.published[rec.EventID] = true
		}
	}
	return err
}

// Records returns every record written to the outbox.
func (s *OutboxStore) Records() []event.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.OutboxEvent(nil), s.records...)
}

// Pending counts records not yet forwarded.
func (s *OutboxStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if !s.published[rec.EventID] {
			n++
		}
	}
	return n
}

// Reservations is an in-memory reservation.Repository that enforces one
// active reservation per customer and book.
type Reservations struct {
	mu   sync.Mutex
	byID map[uuid.UUID]reservation.Reservation
	seq  []uuid.UUID
}

func NewReservations() *Reservations {
	return &Reservations{byID: make(map[uuid.UUID]reservation.Reservation)}
}

func (r *Reservations) Get(_ context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	if !ok {
		return nil, errs.NotFound("reservation", id)
	}
	return &res, nil
}

func (r *Reservations) FindActive(_ context.Context, bookID, customerPartyID uuid.UUID) (*reservation.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.activeLocked(bookID, customerPartyID); ok {
		return &res, nil
	}
	return nil, nil
}

func (r *Reservations) activeLocked(bookID, customerPartyID uuid.UUID) (reservation.Reservation, bool) {
	for _, res := range r.byID {
		if res.IsActive && res.BookID == bookID && res.CustomerPartyID == customerPartyID {
			return res, true
		}
	}
	return reservation.Reservation{}, false
}

func (r *Reservations) Insert(ctx context.Context, res *reservation.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.activeLocked(res.BookID, res.CustomerPartyID); ok {
		return errs.Conflict("customer %s already has an active reservation for book %s", res.CustomerPartyID, res.BookID)
	}
	r.byID[res.ID] = *res
	r.seq = append(r.seq, res.ID)
	id := res.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, id)
		r.seq = r.seq[:len(r.seq)-1]
	})
	return nil
}

func (r *Reservations) MarkReturned(ctx context.Context, res *reservation.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[res.ID]
	if !ok || !prev.IsActive {
		return errs.Conflict("reservation %s is already completed", res.ID)
	}
	r.byID[res.ID] = *res
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID[prev.ID] = prev
	})
	return nil
}

func (r *Reservations) List(context.Context) ([]reservation.Reservation, error) {
	return r.filter(func(reservation.Reservation) bool { return true }), nil
}

func (r *Reservations) ListActive(context.Context) ([]reservation.Reservation, error) {
	return r.filter(func(res reservation.Reservation) bool { return res.IsActive }), nil
}

func (r *Reservations) ListByCustomer(_ context.Context, customerPartyID uuid.UUID) ([]reservation.Reservation, error) {
	return r.filter(func(res reservation.Reservation) bool { return res.CustomerPartyID == customerPartyID }), nil
}

func (r *Reservations) filter(keep func(reservation.Reservation) bool) []reservation.Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []reservation.Reservation{}
	for _, id := range r.seq {
		if res := r.byID[id]; keep(res) {
			out = append(out, res)
		}
	}
	return out
}

// Books is an in-memory catalog.BookRepository.
type Books struct {
	mu   sync.Mutex
	byID map[uuid.UUID]catalog.Book
}

func NewBooks() *Books {
	return &Books{byID: make(map[uuid.UUID]catalog.Book)}
}

// Put stores b directly, bypassing the service.
func (r *Books) Put(b catalog.Book) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[b.ID] = b
}

func (r *Books) Get(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, errs.NotFound("book", id)
	}
	return &b, nil
}

func (r *Books) List(context.Context) ([]catalog.Book, error) {
	return r.filter(func(catalog.Book) bool { return true }), nil
}

func (r *Books) SearchByTitle(_ context.Context, query string) ([]catalog.Book, error) {
	q := strings.ToLower(query)
	return r.filter(func(b catalog.Book) bool { return strings.Contains(strings.ToLower(b.Title), q) }), nil
}

func (r *Books) ISBNExists(_ context.Context, isbn string, excludeID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.byID {
		if b.ISBN == isbn && b.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Books) Insert(ctx context.Context, b *catalog.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.byID {
		if other.ISBN == b.ISBN {
			return errs.Conflict("a book with ISBN %s already exists", b.ISBN)
		}
	}
	r.byID[b.ID] = *b
	id := b.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, id)
	})
	return nil
}

func (r *Books) Update(ctx context.Context, b *catalog.Book, copiesDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[b.ID]
	if !ok {
		return errs.NotFound("book", b.ID)
	}
	next := *b
	next.AvailableCopies = prev.AvailableCopies + copiesDelta
	next.CreatedAt = prev.CreatedAt
	r.byID[b.ID] = next
	b.AvailableCopies = next.AvailableCopies
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID[prev.ID] = prev
	})
	return nil
}

func (r *Books) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[id]
	if !ok {
		return errs.NotFound("book", id)
	}
	delete(r.byID, id)
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID[prev.ID] = prev
	})
	return nil
}

func (r *Books) AdjustAvailableCopies(ctx context.Context, bookID uuid.UUID, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[bookID]
	if !ok {
		return errs.NotFound("book", bookID)
	}
	b.AvailableCopies += delta
	r.byID[bookID] = b
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.byID[bookID]; ok {
			cur.AvailableCopies -= delta
			r.byID[bookID] = cur
		}
	})
	return nil
}

func (r *Books) referencing(categoryID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.byID {
		if b.CategoryID == categoryID {
			return true
		}
	}
	return false
}

func (r *Books) filter(keep func(catalog.Book) bool) []catalog.Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []catalog.Book{}
	for _, b := range r.byID {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Categories is an in-memory catalog.CategoryRepository. Deleting a category
// still referenced by one of books fails with a conflict.
type Categories struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]catalog.Category
	books *Books
}

func NewCategories(books *Books) *Categories {
	return &Categories{byID: make(map[uuid.UUID]catalog.Category), books: books}
}

func (r *Categories) Get(_ context.Context, id uuid.UUID) (*catalog.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, errs.NotFound("category", id)
	}
	return &c, nil
}

func (r *Categories) List(context.Context) ([]catalog.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []catalog.Category{}
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Categories) Insert(ctx context.Context, c *catalog.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = *c
	id := c.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, id)
	})
	return nil
}

func (r *Categories) Update(ctx context.Context, c *catalog.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[c.ID]
	if !ok {
		return errs.NotFound("category", c.ID)
	}
	r.byID[c.ID] = *c
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID[prev.ID] = prev
	})
	return nil
}

func (r *Categories) Delete(ctx context.Context, id uuid.UUID) error {
	if r.books != nil && r.books.referencing(id) {
		return errs.Conflict("category %s is still referenced by books", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[id]
	if !ok {
		return errs.NotFound("category", id)
	}
	delete(r.byID, id)
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID[prev.ID] = prev
	})
	return nil
}

// Parties is an in-memory party.Repository seeded with the well-known roles.
type Parties struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]party.Party
	roles       map[uuid.UUID]party.Role
	assignments map[uuid.UUID]map[uuid.UUID]time.Time
}

func NewParties() *Parties {
	return &Parties{
		byID: make(map[uuid.UUID]party.Party),
		roles: map[uuid.UUID]party.Role{
			party.RoleAuthorID:   {ID: party.RoleAuthorID, Name: party.RoleAuthor},
			party.RoleCustomerID: {ID: party.RoleCustomerID, Name: party.RoleCustomer},
		},
		assignments: make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

func (r *Parties) Get(_ context.Context, id uuid.UUID) (*party.Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, errs.NotFound("party", id)
	}
	p.Roles = r.rolesOfLocked(id)
	return &p, nil
}

func (r *Parties) List(context.Context) ([]party.Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []party.Party{}
	for id, p := range r.byID {
		p.Roles = r.rolesOfLocked(id)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *Parties) EmailExists(_ context.Context, email string, excludeID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if strings.EqualFold(p.Email, email) && p.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Parties) Insert(_ context.Context, p *party.Party) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = *p
	return nil
}

func (r *Parties) Update(_ context.Context, p *party.Party) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		return errs.NotFound("party", p.ID)
	}
	r.byID[p.ID] = *p
	return nil
}

func (r *Parties) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return errs.NotFound("party", id)
	}
	delete(r.byID, id)
	delete(r.assignments, id)
	return nil
}

func (r *Parties) GetRole(_ context.Context, id uuid.UUID) (*party.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, errs.NotFound("role", id)
	}
	return &role, nil
}

func (r *Parties) ListRoles(context.Context) ([]party.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]party.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Parties) IsRoleAssigned(_ context.Context, partyID, roleID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.assignments[partyID][roleID]
	return ok, nil
}

func (r *Parties) AssignRole(_ context.Context, partyID, roleID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assignments[partyID] == nil {
		r.assignments[partyID] = make(map[uuid.UUID]time.Time)
	}
	r.assignments[partyID][roleID] = at
	return nil
}

func (r *Parties) RemoveRole(_ context.Context, partyID, roleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments[partyID], roleID)
	return nil
}

func (r *Parties) rolesOfLocked(partyID uuid.UUID) []party.Role {
	out := []party.Role{}
	for roleID := range r.assignments[partyID] {
		out = append(out, r.roles[roleID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AuditStore is an in-memory audit.Store.
type AuditStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]audit.Record
	// FailDeletes makes DeleteBefore fail this many times before succeeding.
	FailDeletes int
}

func NewAuditStore() *AuditStore {
	return &AuditStore{records: make(map[uuid.UUID]audit.Record)}
}

func (s *AuditStore) Insert(_ context.Context, r audit.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.EventID]; ok {
		return false, nil
	}
	s.records[r.EventID] = r
	return true, nil
}

func (s *AuditStore) List(_ context.Context, offset, limit int) ([]audit.Record, error) {
	all := s.sorted(func(audit.Record) bool { return true })
	if offset >= len(all) {
		return []audit.Record{}, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (s *AuditStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *AuditStore) ListByEntity(_ context.Context, entityID string) ([]audit.Record, error) {
	return s.sorted(func(r audit.Record) bool { return r.EntityID == entityID }), nil
}

func (s *AuditStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDeletes > 0 {
		s.FailDeletes--
		return 0, errs.Transient("delete audit events", errors.New("connection refused"))
	}
	var n int64
	for id, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *AuditStore) sorted(keep func(audit.Record) bool) []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []audit.Record{}
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].EventID.String() < out[j].EventID.String()
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
