package party_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/party"
	"github.com/0m3kk/library/testutil"
)

// recordingPublisher captures facts and can be told to fail.
type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) last() event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

type PartySuite struct {
	suite.Suite
	repo *testutil.Parties
	pub  *recordingPublisher
	svc  *party.Service
}

func TestPartySuite(t *testing.T) {
	suite.Run(t, new(PartySuite))
}

func (s *PartySuite) SetupTest() {
	s.repo = testutil.NewParties()
	s.pub = &recordingPublisher{}
	s.svc = party.NewService(s.repo, s.pub)
}

func (s *PartySuite) create(email string) *party.Party {
	p, err := s.svc.Create(context.Background(), party.Input{FirstName: "Ursula", LastName: "Le Guin", Email: email})
	s.Require().NoError(err)
	return p
}

func (s *PartySuite) TestCreate_EmitsPartyCreated() {
	p := s.create("ursula@example.com")

	created, ok := s.pub.last().(*event.PartyCreated)
	s.Require().True(ok)
	s.Equal(p.ID, created.PartyID)
	s.Equal(p.ID.String(), created.EntityID())
	s.Equal(event.EntityParty, created.EntityType())
	s.Equal(event.ActionCreated, created.ActionType())
	s.Equal("ursula@example.com", created.Email)
}

func (s *PartySuite) TestCreate_DuplicateEmailIsConflict() {
	s.create("dup@example.com")

	_, err := s.svc.Create(context.Background(), party.Input{FirstName: "A", LastName: "B", Email: "dup@example.com"})
	s.ErrorIs(err, errs.ErrConflict)
}

func (s *PartySuite) TestCreate_DeliveryFaultDoesNotFailCaller() {
	// GIVEN
	s.pub.err = &errs.DeliveryFault{EventID: "x", EventType: event.TypePartyCreated, Err: errors.New("down")}

	// WHEN
	p, err := s.svc.Create(context.Background(), party.Input{FirstName: "A", LastName: "B", Email: "a@b.c"})

	// THEN
	s.Require().NoError(err)
	stored, err := s.svc.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal("a@b.c", stored.Email, "the local write stands")
}

func (s *PartySuite) TestUpdate() {
	ctx := context.Background()
	p := s.create("old@example.com")

	updated, err := s.svc.Update(ctx, p.ID, party.Input{FirstName: "U", LastName: "L", Email: "new@example.com"})
	s.Require().NoError(err)
	s.Equal("new@example.com", updated.Email)
	s.IsType(&event.PartyUpdated{}, s.pub.last())

	_, err = s.svc.Update(ctx, uuid.New(), party.Input{FirstName: "U", LastName: "L", Email: "x@example.com"})
	s.ErrorIs(err, errs.ErrNotFound)
}

func (s *PartySuite) TestUpdate_EmailOfAnotherPartyIsConflict() {
	s.create("one@example.com")
	two := s.create("two@example.com")

	_, err := s.svc.Update(context.Background(), two.ID, party.Input{FirstName: "U", LastName: "L", Email: "one@example.com"})
	s.ErrorIs(err, errs.ErrConflict)
}

func (s *PartySuite) TestDelete() {
	ctx := context.Background()
	p := s.create("gone@example.com")

	s.Require().NoError(s.svc.Delete(ctx, p.ID))
	deleted, ok := s.pub.last().(*event.PartyDeleted)
	s.Require().True(ok)
	s.JSONEq(`{"party_id":"`+p.ID.String()+`"}`, deleted.Payload())

	s.ErrorIs(s.svc.Delete(ctx, p.ID), errs.ErrNotFound)
}

func (s *PartySuite) TestRoleAssignment() {
	// GIVEN
	ctx := context.Background()
	p := s.create("reader@example.com")

	// WHEN
	s.Require().NoError(s.svc.AssignRole(ctx, p.ID, party.RoleCustomerID))

	// THEN
	assigned, ok := s.pub.last().(*event.RoleAssigned)
	s.Require().True(ok)
	s.Equal(party.RoleCustomer, assigned.RoleName)
	s.Equal(p.ID.String(), assigned.EntityID())

	stored, err := s.svc.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Roles, 1)
	s.Equal(party.RoleCustomerID, stored.Roles[0].ID)

	s.ErrorIs(s.svc.AssignRole(ctx, p.ID, party.RoleCustomerID), errs.ErrConflict, "already assigned")

	s.Require().NoError(s.svc.RemoveRole(ctx, p.ID, party.RoleCustomerID))
	s.IsType(&event.RoleRemoved{}, s.pub.last())
	s.ErrorIs(s.svc.RemoveRole(ctx, p.ID, party.RoleCustomerID), errs.ErrConflict, "not assigned")
}

func (s *PartySuite) TestRoleAssignment_UnknownPartyOrRole() {
	ctx := context.Background()
	p := s.create("x@example.com")

	s.ErrorIs(s.svc.AssignRole(ctx, uuid.New(), party.RoleAuthorID), errs.ErrNotFound)
	s.ErrorIs(s.svc.AssignRole(ctx, p.ID, uuid.New()), errs.ErrNotFound)
}

func (s *PartySuite) TestListRoles_Seeded() {
	roles, err := s.svc.ListRoles(context.Background())
	s.Require().NoError(err)
	s.Require().Len(roles, 2)
	s.Equal(party.RoleAuthor, roles[0].Name)
	s.Equal(party.RoleCustomer, roles[1].Name)
}
