package orm_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/infra/orm"
	"github.com/0m3kk/library/party"
	"github.com/0m3kk/library/testutil"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...event.Event) error { return nil }

type PartyRepositorySuite struct {
	testutil.DBIntegrationSuite
	pg   *orm.Postgres
	repo *orm.PartyRepository
	svc  *party.Service
}

func TestPartyRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PartyRepositorySuite))
}

func (s *PartyRepositorySuite) SetupSuite() {
	s.DBIntegrationSuite.SetupSuite()

	pg, err := orm.Connect(context.Background(), s.ConnectionString)
	s.Require().NoError(err)
	s.Require().NoError(pg.Migrate(context.Background()))
	// Migrating twice must not duplicate the seeded roles.
	s.Require().NoError(pg.Migrate(context.Background()))
	s.pg = pg
}

func (s *PartyRepositorySuite) TearDownSuite() {
	_ = s.pg.Close()
	s.DBIntegrationSuite.TearDownSuite()
}

func (s *PartyRepositorySuite) SetupTest() {
	s.TruncateTables("party_roles", "parties")
	s.repo = orm.NewPartyRepository(s.pg)
	s.svc = party.NewService(s.repo, nopPublisher{})
}

func (s *PartyRepositorySuite) TestRoundTripWithRoles() {
	// GIVEN
	ctx := context.Background()
	p, err := s.svc.Create(ctx, party.Input{FirstName: "Toni", LastName: "Morrison", Email: "toni@example.com"})
	s.Require().NoError(err)

	// WHEN
	s.Require().NoError(s.svc.AssignRole(ctx, p.ID, party.RoleAuthorID))
	s.Require().NoError(s.svc.AssignRole(ctx, p.ID, party.RoleCustomerID))

	// THEN
	stored, err := s.repo.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal("toni@example.com", stored.Email)
	s.Require().Len(stored.Roles, 2)
	s.Equal(party.RoleAuthor, stored.Roles[0].Name)
	s.Equal(party.RoleCustomer, stored.Roles[1].Name)

	s.ErrorIs(s.svc.AssignRole(ctx, p.ID, party.RoleAuthorID), errs.ErrConflict)

	s.Require().NoError(s.svc.RemoveRole(ctx, p.ID, party.RoleAuthorID))
	all, err := s.repo.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Len(all[0].Roles, 1)
}

func (s *PartyRepositorySuite) TestDuplicateEmailIsConflict() {
	ctx := context.Background()
	now := time.Now().UTC()
	first := &party.Party{ID: uuid.New(), FirstName: "A", LastName: "B", Email: "same@example.com", CreatedAt: now, UpdatedAt: now}
	s.Require().NoError(s.repo.Insert(ctx, first))

	second := *first
	second.ID = uuid.New()
	s.ErrorIs(s.repo.Insert(ctx, &second), errs.ErrConflict)

	exists, err := s.repo.EmailExists(ctx, "SAME@example.com", uuid.Nil)
	s.Require().NoError(err)
	s.True(exists)
}

func (s *PartyRepositorySuite) TestUpdateAndDelete() {
	ctx := context.Background()
	p, err := s.svc.Create(ctx, party.Input{FirstName: "J", LastName: "Baldwin", Email: "jb@example.com"})
	s.Require().NoError(err)
	s.Require().NoError(s.svc.AssignRole(ctx, p.ID, party.RoleCustomerID))

	_, err = s.svc.Update(ctx, p.ID, party.Input{FirstName: "James", LastName: "Baldwin", Email: "james@example.com"})
	s.Require().NoError(err)
	stored, err := s.repo.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal("James", stored.FirstName)

	s.Require().NoError(s.svc.Delete(ctx, p.ID))
	_, err = s.repo.Get(ctx, p.ID)
	s.ErrorIs(err, errs.ErrNotFound)
	s.ErrorIs(s.repo.Update(ctx, stored), errs.ErrNotFound)
}

func (s *PartyRepositorySuite) TestSeededRoles() {
	roles, err := s.repo.ListRoles(context.Background())
	s.Require().NoError(err)
	s.Require().Len(roles, 2)
	s.Equal(party.RoleAuthorID, roles[0].ID)

	_, err = s.repo.GetRole(context.Background(), uuid.New())
	s.ErrorIs(err, errs.ErrNotFound)
}
