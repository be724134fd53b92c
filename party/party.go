package party

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Well-known roles seeded into every party store.
var (
	RoleAuthorID   = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	RoleCustomerID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

const (
	RoleAuthor   = "Author"
	RoleCustomer = "Customer"
)

// Party is a person known to the library, such as an author or a customer.
type Party struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Roles     []Role    `json:"roles"`
}

type Role struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Input carries the editable fields of a party.
type Input struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required"`
}

// Repository persists parties and their role assignments.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Party, error)
	List(ctx context.Context) ([]Party, error)
	EmailExists(ctx context.Context, email string, excludeID uuid.UUID) (bool, error)
	Insert(ctx context.Context, p *Party) error
	Update(ctx context.Context, p *Party) error
	Delete(ctx context.Context, id uuid.UUID) error

	GetRole(ctx context.Context, id uuid.UUID) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	IsRoleAssigned(ctx context.Context, partyID, roleID uuid.UUID) (bool, error)
	AssignRole(ctx context.Context, partyID, roleID uuid.UUID, at time.Time) error
	RemoveRole(ctx context.Context, partyID, roleID uuid.UUID) error
}
