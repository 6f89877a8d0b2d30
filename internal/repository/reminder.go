package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/LifeMoments/internal/database"
	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/jackc/pgx/v5"
)

const reminderColumns = `id, user_id, title, event_type, relation, notes, event_month, event_day,
	reminder_offset, recurrence_type, next_trigger_at, notified, failed_attempts, claim_token, claimed_at,
	created_at, updated_at`

type ReminderRepository struct {
	db *database.DB
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func (r *ReminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO reminders (id, user_id, title, event_type, relation, notes, event_month, event_day,
		 reminder_offset, recurrence_type, next_trigger_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING notified, failed_attempts, created_at, updated_at`,
		reminder.ID, reminder.UserID, reminder.Title, reminder.EventType, reminder.Relation, reminder.Notes,
		reminder.EventMonth, reminder.EventDay, reminder.ReminderOffset, reminder.RecurrenceType, reminder.NextTriggerAt,
	).Scan(&reminder.Notified, &reminder.FailedAttempts, &reminder.CreatedAt, &reminder.UpdatedAt)
}

func (r *ReminderRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Reminder, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	reminder, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reminder, err
}

func (r *ReminderRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = $1
		 ORDER BY next_trigger_at ASC, created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

// Update saves user edits. The caller has already recomputed next_trigger_at;
// any in-flight dispatch claim is dropped along with the delivery state.
func (r *ReminderRepository) Update(ctx context.Context, reminder *models.Reminder) error {
	err := r.db.Pool.QueryRow(ctx,
		`UPDATE reminders SET title = $1, event_type = $2, relation = $3, notes = $4, event_month = $5,
		 event_day = $6, reminder_offset = $7, recurrence_type = $8, next_trigger_at = $9,
		 notified = FALSE, claim_token = NULL, claimed_at = NULL, failed_attempts = 0, updated_at = NOW()
		 WHERE id = $10 AND user_id = $11
		 RETURNING notified, failed_attempts, created_at, updated_at`,
		reminder.Title, reminder.EventType, reminder.Relation, reminder.Notes, reminder.EventMonth,
		reminder.EventDay, reminder.ReminderOffset, reminder.RecurrenceType, reminder.NextTriggerAt,
		reminder.ID, reminder.UserID,
	).Scan(&reminder.Notified, &reminder.FailedAttempts, &reminder.CreatedAt, &reminder.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *ReminderRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM reminders WHERE id = $1 AND user_id = $2`,
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

// ListDue returns up to limit unclaimed reminders whose trigger is at or before now.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE notified = FALSE AND next_trigger_at <= $1
		 ORDER BY next_trigger_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

// TryClaim marks the reminder notified if it is still unclaimed and still
// scheduled at expectedTrigger. It reports whether this call won the claim.
func (r *ReminderRepository) TryClaim(ctx context.Context, id uuid.UUID, expectedTrigger time.Time, token uuid.UUID, claimedAt time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders SET notified = TRUE, claim_token = $3, claimed_at = $4, updated_at = NOW()
		 WHERE id = $1 AND notified = FALSE AND next_trigger_at = $2`,
		id, expectedTrigger, token, claimedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release reverts a claim without advancing the schedule and returns the
// updated failure count.
func (r *ReminderRepository) Release(ctx context.Context, id, token uuid.UUID) (int, error) {
	var attempts int
	err := r.db.Pool.QueryRow(ctx,
		`UPDATE reminders SET notified = FALSE, claim_token = NULL, claimed_at = NULL,
		 failed_attempts = failed_attempts + 1, updated_at = NOW()
		 WHERE id = $1 AND claim_token = $2
		 RETURNING failed_attempts`,
		id, token,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotClaimed
	}
	return attempts, err
}

// Advance consumes a claim: the reminder is rescheduled to next and becomes
// eligible again, in a single statement.
func (r *ReminderRepository) Advance(ctx context.Context, id, token uuid.UUID, next time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders SET notified = FALSE, claim_token = NULL, claimed_at = NULL, next_trigger_at = $3,
		 failed_attempts = 0, updated_at = NOW()
		 WHERE id = $1 AND claim_token = $2`,
		id, token, next,
	)
	if err != nil {
		return fmt.Errorf("failed to advance reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ListStale returns up to limit reminders still claimed from before
// claimedBefore, oldest claim first.
func (r *ReminderRepository) ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE notified = TRUE AND claimed_at < $1
		 ORDER BY claimed_at ASC
		 LIMIT $2`,
		claimedBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

func scanReminder(row pgx.Row) (*models.Reminder, error) {
	reminder := &models.Reminder{}
	if err := row.Scan(&reminder.ID, &reminder.UserID, &reminder.Title, &reminder.EventType,
		&reminder.Relation, &reminder.Notes, &reminder.EventMonth, &reminder.EventDay,
		&reminder.ReminderOffset, &reminder.RecurrenceType, &reminder.NextTriggerAt, &reminder.Notified,
		&reminder.FailedAttempts, &reminder.ClaimToken, &reminder.ClaimedAt,
		&reminder.CreatedAt, &reminder.UpdatedAt); err != nil {
		return nil, err
	}
	return reminder, nil
}

func scanReminders(rows pgx.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	return reminders, rows.Err()
}
