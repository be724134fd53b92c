package party

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/event"
)

// Publisher hands facts to the transport after the local write has committed.
type Publisher interface {
	Publish(ctx context.Context, events ...event.Event) error
}

// Service manages parties and their roles.
type Service struct {
	repo      Repository
	publisher Publisher
	now       func() time.Time
}

// NewService creates a party service. Facts are published after the write,
// so a delivery failure is logged and does not undo it.
func NewService(repo Repository, publisher Publisher) *Service {
	return &Service{repo: repo, publisher: publisher, now: time.Now}
}

// Get returns one party with its roles, or a NotFoundError.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Party, error) {
	return s.repo.Get(ctx, id)
}

// List returns every party with its roles.
func (s *Service) List(ctx context.Context) ([]Party, error) {
	return s.repo.List(ctx)
}

// ListRoles returns the roles a party can hold.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// Create adds a party with a unique email and emits PartyCreated.
func (s *Service) Create(ctx context.Context, in Input) (*Party, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, in.Email, uuid.Nil); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Party{
		ID:        uuid.New(),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		CreatedAt: now,
		UpdatedAt: now,
		Roles:     []Role{},
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save party: %w", err)
	}

	s.publish(ctx, event.NewPartyCreated(snapshot(p)))
	return p, nil
}

// Update changes a party and emits PartyUpdated.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (*Party, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, in.Email, id); err != nil {
		return nil, err
	}

	p.FirstName = in.FirstName
	p.LastName = in.LastName
	p.Email = in.Email
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save party: %w", err)
	}

	s.publish(ctx, event.NewPartyUpdated(snapshot(p)))
	return p, nil
}

// Delete removes a party and emits PartyDeleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete party: %w", err)
	}

	s.publish(ctx, event.NewPartyDeleted(id))
	return nil
}

// AssignRole gives a party a role and emits RoleAssigned.
func (s *Service) AssignRole(ctx context.Context, partyID, roleID uuid.UUID) error {
	role, err := s.lookup(ctx, partyID, roleID)
	if err != nil {
		return err
	}
	assigned, err := s.repo.IsRoleAssigned(ctx, partyID, roleID)
	if err != nil {
		return fmt.Errorf("failed to check role assignment: %w", err)
	}
	if assigned {
		return errs.Conflict("role %s is already assigned to party %s", role.Name, partyID)
	}
	if err := s.repo.AssignRole(ctx, partyID, roleID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	s.publish(ctx, event.NewRoleAssigned(event.RoleSnapshot{PartyID: partyID, RoleID: roleID, RoleName: role.Name}))
	return nil
}

// RemoveRole takes a role away and emits RoleRemoved.
func (s *Service) RemoveRole(ctx context.Context, partyID, roleID uuid.UUID) error {
	role, err := s.lookup(ctx, partyID, roleID)
	if err != nil {
		return err
	}
	assigned, err := s.repo.IsRoleAssigned(ctx, partyID, roleID)
	if err != nil {
		return fmt.Errorf("failed to check role assignment: %w", err)
	}
	if !assigned {
		return errs.Conflict("role %s is not assigned to party %s", role.Name, partyID)
	}
	if err := s.repo.RemoveRole(ctx, partyID, roleID); err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}

	s.publish(ctx, event.NewRoleRemoved(event.RoleSnapshot{PartyID: partyID, RoleID: roleID, RoleName: role.Name}))
	return nil
}

func (s *Service) lookup(ctx context.Context, partyID, roleID uuid.UUID) (*Role, error) {
	if _, err := s.repo.Get(ctx, partyID); err != nil {
		return nil, err
	}
	return s.repo.GetRole(ctx, roleID)
}

func (s *Service) ensureEmailFree(ctx context.Context, email string, self uuid.UUID) error {
	taken, err := s.repo.EmailExists(ctx, email, self)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if taken {
		return errs.Conflict("email %s already exists", email)
	}
	return nil
}

// publish never fails the caller: the write has already committed, and a
// delivery fault only means the fact did not reach the transport.
func (s *Service) publish(ctx context.Context, evt event.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		slog.ErrorContext(ctx, "Failed to publish party event",
			"error", err, "eventID", evt.EventID(), "eventType", evt.EventType(), "entityID", evt.EntityID())
	}
}

func snapshot(p *Party) event.PartySnapshot {
	return event.PartySnapshot{PartyID: p.ID, FirstName: p.FirstName, LastName: p.LastName, Email: p.Email}
}

func validate(in Input) error {
	switch {
	case strings.TrimSpace(in.FirstName) == "":
		return errs.Conflict("first name is required")
	case strings.TrimSpace(in.LastName) == "":
		return errs.Conflict("last name is required")
	case !strings.Contains(in.Email, "@"):
		return errs.Conflict("email %q is not valid", in.Email)
	}
	return nil
}
