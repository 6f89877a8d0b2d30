package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/hray3182/LifeMoments/internal/database"
	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/jackc/pgx/v5"
)

type RecipientRepository struct {
	db *database.DB
}

func NewRecipientRepository(db *database.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

func (r *RecipientRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.NotificationRecipient, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, user_id, email, created_at FROM notification_recipients
		 WHERE user_id = $1
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*models.NotificationRecipient
	for rows.Next() {
		recipient := &models.NotificationRecipient{}
		if err := rows.Scan(&recipient.ID, &recipient.UserID, &recipient.Email, &recipient.CreatedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}
	return recipients, rows.Err()
}

// ListEmails returns the user's extra addresses in insertion order.
func (r *RecipientRepository) ListEmails(ctx context.Context, userID uuid.UUID) ([]string, error) {
	recipients, err := r.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		emails = append(emails, recipient.Email)
	}
	return emails, nil
}

// Add stores a lower-cased address. The account row is locked while the cap is
// checked so concurrent adds cannot exceed models.MaxRecipients.
func (r *RecipientRepository) Add(ctx context.Context, userID uuid.UUID, email string) (*models.NotificationRecipient, error) {
	recipient := &models.NotificationRecipient{
		ID:     uuid.New(),
		UserID: userID,
		Email:  strings.ToLower(strings.TrimSpace(email)),
	}

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx,
			`SELECT id FROM accounts WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		var count int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM notification_recipients WHERE user_id = $1`,
			userID,
		).Scan(&count); err != nil {
			return err
		}
		if count >= models.MaxRecipients {
			return ErrRecipientLimit
		}

		return tx.QueryRow(ctx,
			`INSERT INTO notification_recipients (id, user_id, email) VALUES ($1, $2, $3)
			 RETURNING created_at`,
			recipient.ID, recipient.UserID, recipient.Email,
		).Scan(&recipient.CreatedAt)
	})
	if isUniqueViolation(err) {
		return nil, ErrRecipientExists
	}
	if err != nil {
		return nil, err
	}
	return recipient, nil
}

func (r *RecipientRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM notification_recipients WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
