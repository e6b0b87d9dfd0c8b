package repository

import (
	"context"
	"database/sql"

	"bizlink/messaging-service/internal/models"
)

// AccountRepository reads the marketplace's user records. Account creation
// and credential issuance belong to the accounts service; this service only
// needs lookups for admission and payload enrichment.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	InitializeTables() error
}

// BusinessDirectory resolves a business to its current owner. It is the only
// view of the business catalog this service consults.
type BusinessDirectory interface {
	Lookup(ctx context.Context, businessID string) (*models.Business, error)
}

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{
		db: db,
	}
}

func (r *accountRepository) InitializeTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		user_type TEXT NOT NULL DEFAULT 'customer',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS businesses (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_businesses_owner ON businesses(owner_id);
	`

	_, err := r.db.Exec(query)
	return err
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
	SELECT id, name, user_type, is_active, created_at
	FROM users
	WHERE id = $1
	`

	var account models.Account
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.Name, &account.UserType, &account.IsActive, &account.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return &account, nil
}

type businessDirectory struct {
	db *sql.DB
}

func NewBusinessDirectory(db *sql.DB) BusinessDirectory {
	return &businessDirectory{
		db: db,
	}
}

func (r *businessDirectory) Lookup(ctx context.Context, businessID string) (*models.Business, error) {
	query := `
	SELECT id, owner_id, name, is_active
	FROM businesses
	WHERE id = $1 AND is_active = TRUE
	`

	var business models.Business
	err := r.db.QueryRowContext(ctx, query, businessID).Scan(
		&business.ID, &business.OwnerID, &business.Name, &business.IsActive,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBusinessNotFound
		}
		return nil, err
	}

	return &business, nil
}
