package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hray3182/LifeMoments/internal/schedule"
)

type EventType string

const (
	EventBirthday    EventType = "birthday"
	EventAnniversary EventType = "anniversary"
	EventBill        EventType = "bill"
	EventCustom      EventType = "custom"
)

func (t EventType) Valid() bool {
	switch t {
	case EventBirthday, EventAnniversary, EventBill, EventCustom:
		return true
	}
	return false
}

// Field limits shared by API validation and the schema.
const (
	MaxTitleLen    = 100
	MaxRelationLen = 100
	MaxNotesLen    = 500
)

var ErrInvalidReminder = errors.New("invalid reminder")

type Reminder struct {
	ID             uuid.UUID          `json:"id"`
	UserID         uuid.UUID          `json:"user_id"`
	Title          string             `json:"title"`
	EventType      EventType          `json:"event_type"`
	Relation       *string            `json:"relation"`
	Notes          *string            `json:"notes"`
	EventMonth     int                `json:"event_month"`
	EventDay       int                `json:"event_day"`
	ReminderOffset schedule.Offset    `json:"reminder_offset"`
	RecurrenceType schedule.Frequency `json:"recurrence_type"`
	NextTriggerAt  time.Time          `json:"next_trigger_at"`
	Notified       bool               `json:"notified"`
	FailedAttempts int                `json:"failed_attempts"` // Reverted claims for the current occurrence
	ClaimToken     *uuid.UUID         `json:"-"`
	ClaimedAt      *time.Time         `json:"-"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Rule returns the scheduling inputs of this reminder.
func (r *Reminder) Rule() schedule.Rule {
	return schedule.Rule{
		Month:     r.EventMonth,
		Day:       r.EventDay,
		Offset:    r.ReminderOffset,
		Frequency: r.RecurrenceType,
	}
}

// RelationLabel returns the relation or an empty string.
func (r *Reminder) RelationLabel() string {
	if r.Relation == nil {
		return ""
	}
	return *r.Relation
}

// Validate checks the user-editable fields.
func (r *Reminder) Validate() error {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidReminder)
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return fmt.Errorf("%w: title too long", ErrInvalidReminder)
	}
	if !r.EventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidReminder, r.EventType)
	}
	if r.Relation != nil && utf8.RuneCountInString(*r.Relation) > MaxRelationLen {
		return fmt.Errorf("%w: relation too long", ErrInvalidReminder)
	}
	if r.Notes != nil && utf8.RuneCountInString(*r.Notes) > MaxNotesLen {
		return fmt.Errorf("%w: notes too long", ErrInvalidReminder)
	}
	if err := r.Rule().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReminder, err)
	}
	return nil
}

// Reschedule recomputes the next trigger from now and clears delivery state,
// as happens on creation and on every user edit.
func (r *Reminder) Reschedule(now time.Time, loc *time.Location) error {
	occ, err := schedule.NextTrigger(r.Rule(), now, loc)
	if err != nil {
		return err
	}
	r.NextTriggerAt = occ.Trigger
	r.Notified = false
	r.FailedAttempts = 0
	return nil
}
