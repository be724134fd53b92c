// Package orm stores parties and their roles with gorm.
package orm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/0m3kk/library/party"
)

// Postgres wraps the gorm handle of the party database.
type Postgres struct {
	DB *gorm.DB
}

// Connect opens the party database and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{DB: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the party tables and seeds the well-known roles.
func (p *Postgres) Migrate(ctx context.Context) error {
	db := p.DB.WithContext(ctx)
	if err := db.AutoMigrate(&partyModel{}, &roleModel{}, &partyRoleModel{}); err != nil {
		return fmt.Errorf("migrate party tables: %w", err)
	}

	roles := []roleModel{
		{ID: party.RoleAuthorID, Name: party.RoleAuthor},
		{ID: party.RoleCustomerID, Name: party.RoleCustomer},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&roles).Error; err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}
