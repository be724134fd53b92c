package orm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/0m3kk/library/errs"
	"github.com/0m3kk/library/party"
)

type partyModel struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	FirstName string    `gorm:"column:first_name;not null"`
	LastName  string    `gorm:"column:last_name;not null"`
	Email     string    `gorm:"column:email;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (partyModel) TableName() string {
	return "parties"
}

type roleModel struct {
	ID   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name string    `gorm:"column:name;not null;uniqueIndex"`
}

func (roleModel) TableName() string {
	return "roles"
}

type partyRoleModel struct {
	PartyID    uuid.UUID `gorm:"column:party_id;type:uuid;primaryKey"`
	RoleID     uuid.UUID `gorm:"column:role_id;type:uuid;primaryKey"`
	AssignedAt time.Time `gorm:"column:assigned_at"`
}

func (partyRoleModel) TableName() string {
	return "party_roles"
}

type assignedRow struct {
	PartyID uuid.UUID
	RoleID  uuid.UUID
	Name    string
}

func partyModelFromEntity(p *party.Party) partyModel {
	return partyModel{
		ID:        p.ID,
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		Email:     strings.TrimSpace(p.Email),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (m partyModel) toEntity(roles []party.Role) party.Party {
	if roles == nil {
		roles = []party.Role{}
	}
	return party.Party{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Roles:     roles,
	}
}

// PartyRepository implements party.Repository.
type PartyRepository struct {
	db *gorm.DB
}

// NewPartyRepository creates a new PartyRepository.
func NewPartyRepository(p *Postgres) *PartyRepository {
	return &PartyRepository{db: p.DB}
}

func (r *PartyRepository) Get(ctx context.Context, id uuid.UUID) (*party.Party, error) {
	var row partyModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("party", id)
		}
		return nil, fmt.Errorf("failed to load party: %w", err)
	}

	roles, err := r.rolesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	p := row.toEntity(roles[id])
	return &p, nil
}

func (r *PartyRepository) List(ctx context.Context) ([]party.Party, error) {
	var rows []partyModel
	if err := r.db.WithContext(ctx).Order("last_name, first_name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list parties: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	roles, err := r.rolesOf(ctx, ids...)
	if err != nil {
		return nil, err
	}

	items := make([]party.Party, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity(roles[row.ID]))
	}
	return items, nil
}

func (r *PartyRepository) EmailExists(ctx context.Context, email string, excludeID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&partyModel{}).
		Where("lower(email) = lower(?) AND id <> ?", strings.TrimSpace(email), excludeID).
		Count(&n).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return n > 0, nil
}

func (r *PartyRepository) Insert(ctx context.Context, p *party.Party) error {
	row := partyModelFromEntity(p)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &errs.ConflictError{Msg: "email " + p.Email + " already exists", Err: err}
		}
		return fmt.Errorf("failed to insert party: %w", err)
	}
	return nil
}

func (r *PartyRepository) Update(ctx context.Context, p *party.Party) error {
	result := r.db.WithContext(ctx).
		Model(&partyModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"first_name": strings.TrimSpace(p.FirstName),
			"last_name":  strings.TrimSpace(p.LastName),
			"email":      strings.TrimSpace(p.Email),
			"updated_at": p.UpdatedAt,
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return &errs.ConflictError{Msg: "email " + p.Email + " already exists", Err: result.Error}
		}
		return fmt.Errorf("failed to update party: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NotFound("party", p.ID)
	}
	return nil
}

func (r *PartyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("party_id = ?", id).Delete(&partyRoleModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete role assignments: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&partyModel{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete party: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("party", id)
		}
		return nil
	})
}

func (r *PartyRepository) GetRole(ctx context.Context, id uuid.UUID) (*party.Role, error) {
	var row roleModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("role", id)
		}
		return nil, fmt.Errorf("failed to load role: %w", err)
	}
	return &party.Role{ID: row.ID, Name: row.Name}, nil
}

func (r *PartyRepository) ListRoles(ctx context.Context) ([]party.Role, error) {
	var rows []roleModel
	if err := r.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	items := make([]party.Role, 0, len(rows))
	for _, row := range rows {
		items = append(items, party.Role{ID: row.ID, Name: row.Name})
	}
	return items, nil
}

func (r *PartyRepository) IsRoleAssigned(ctx context.Context, partyID, roleID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&partyRoleModel{}).
		Where("party_id = ? AND role_id = ?", partyID, roleID).
		Count(&n).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check role assignment: %w", err)
	}
	return n > 0, nil
}

func (r *PartyRepository) AssignRole(ctx context.Context, partyID, roleID uuid.UUID, at time.Time) error {
	row := partyRoleModel{PartyID: partyID, RoleID: roleID, AssignedAt: at}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &errs.ConflictError{Msg: "role " + roleID.String() + " is already assigned to party " + partyID.String(), Err: err}
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

func (r *PartyRepository) RemoveRole(ctx context.Context, partyID, roleID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Where("party_id = ? AND role_id = ?", partyID, roleID).
		Delete(&partyRoleModel{}).
		Error
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

func (r *PartyRepository) rolesOf(ctx context.Context, partyIDs ...uuid.UUID) (map[uuid.UUID][]party.Role, error) {
	out := make(map[uuid.UUID][]party.Role, len(partyIDs))
	if len(partyIDs) == 0 {
		return out, nil
	}

	var rows []assignedRow
	err := r.db.WithContext(ctx).
		Table("party_roles").
		Select("party_roles.party_id, roles.id AS role_id, roles.name").
		Joins("JOIN roles ON roles.id = party_roles.role_id").
		Where("party_roles.party_id IN ?", partyIDs).
		Order("roles.name").
		Scan(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to load role assignments: %w", err)
	}
	for _, row := range rows {
		out[row.PartyID] = append(out[row.PartyID], party.Role{ID: row.RoleID, Name: row.Name})
	}
	return out, nil
}
