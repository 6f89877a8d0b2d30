package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hray3182/LifeMoments/internal/database"
	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/jackc/pgx/v5"
)

type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Ensure creates the account on first sight. A non-empty email replaces the
// stored one; an empty or unchanged email leaves the row untouched.
func (r *AccountRepository) Ensure(ctx context.Context, id uuid.UUID, email string) (*models.Account, error) {
	account := &models.Account{}
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO accounts (id, email) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, updated_at = NOW()
		 WHERE EXCLUDED.email <> '' AND accounts.email IS DISTINCT FROM EXCLUDED.email
		 RETURNING id, email, created_at, updated_at`,
		id, email,
	).Scan(&account.ID, &account.Email, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict skipped by the WHERE clause: nothing to write.
		return r.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account := &models.Account{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, email, created_at, updated_at FROM accounts WHERE id = $1`,
		id,
	).Scan(&account.ID, &account.Email, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetEmail returns the account's primary address, which may be empty.
func (r *AccountRepository) GetEmail(ctx context.Context, id uuid.UUID) (string, error) {
	account, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return account.Email, nil
}
