// Package dispatch implements the send-reminders job: due reminders are
// claimed, emailed once per occurrence, and advanced to their next trigger.
//
// The only coordination between overlapping invocations, in this process or
// any other, is the conditional claim in ReminderStore.TryClaim.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/hray3182/LifeMoments/internal/ai"
	"github.com/hray3182/LifeMoments/internal/format"
	"github.com/hray3182/LifeMoments/internal/mailer"
	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/hray3182/LifeMoments/internal/repository"
	"github.com/hray3182/LifeMoments/internal/schedule"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize     = 50
	DefaultCallTimeout   = 15 * time.Second
	DefaultWriteAttempts = 3
	DefaultRetryBackoff  = 200 * time.Millisecond
	// DefaultStaleClaimFactor times CallTimeout is how long a claim may be
	// held before another invocation treats it as stranded.
	DefaultStaleClaimFactor = 10
)

var ErrNoPrimaryEmail = errors.New("account has no primary email")

type ReminderStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error)
	TryClaim(ctx context.Context, id uuid.UUID, expectedTrigger time.Time, token uuid.UUID, claimedAt time.Time) (bool, error)
	Release(ctx context.Context, id, token uuid.UUID) (int, error)
	Advance(ctx context.Context, id, token uuid.UUID, next time.Time) error
	ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]*models.Reminder, error)
}

type RecipientStore interface {
	ListEmails(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type AccountStore interface {
	GetEmail(ctx context.Context, userID uuid.UUID) (string, error)
}

type Mailer interface {
	Send(ctx context.Context, msg *mailer.Message) (string, error)
}

type WishGenerator interface {
	Wish(ctx context.Context, req ai.WishRequest) (string, error)
}

type Config struct {
	BatchSize   int
	CallTimeout time.Duration
	// MaxAttempts gives up on an occurrence after this many failed sends and
	// moves on to the next one. Zero retries forever.
	MaxAttempts int
	Location    *time.Location
	// WriteAttempts bounds the tries for the store write that ends a claim,
	// with exponential backoff starting at RetryBackoff.
	WriteAttempts int
	RetryBackoff  time.Duration
	// StaleClaimAfter is the age at which a claim left behind by a failed
	// write is moved to its next occurrence.
	StaleClaimAfter time.Duration
}

// Dependencies are the collaborators of a Dispatcher. Wishes and Metrics are
// optional.
type Dependencies struct {
	Reminders  ReminderStore
	Recipients RecipientStore
	Accounts   AccountStore
	Mailer     Mailer
	Wishes     WishGenerator
	Metrics    *Metrics
}

type Dispatcher struct {
	reminders  ReminderStore
	recipients RecipientStore
	accounts   AccountStore
	mailer     Mailer
	wishes     WishGenerator
	metrics    *Metrics
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func New(deps Dependencies, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = DefaultWriteAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.StaleClaimAfter <= 0 {
		cfg.StaleClaimAfter = DefaultStaleClaimFactor * cfg.CallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		reminders:  deps.Reminders,
		recipients: deps.Recipients,
		accounts:   deps.Accounts,
		mailer:     deps.Mailer,
		wishes:     deps.Wishes,
		metrics:    deps.Metrics,
		cfg:        cfg,
		logger:     logger.Named("dispatch"),
		now:        time.Now,
	}
}

// Summary reports one invocation. Errored includes occurrences given up on.
type Summary struct {
	Sent          int           `json:"sent"`
	Skipped       int           `json:"skipped"`
	Errored       int           `json:"errored"`
	Recovered     int           `json:"recovered,omitempty"`
	ExecutionID   string        `json:"execution_id"`
	ExecutionTime time.Duration `json:"-"`
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		ExecutionTime string `json:"execution_time"`
	}{
		plain:         plain(s),
		ExecutionTime: fmt.Sprintf("%dms", s.ExecutionTime.Milliseconds()),
	})
}

// Run processes one batch of due reminders sequentially. It fails only when
// the due list cannot be read or ctx ends mid-batch; per-reminder failures
// are counted in the summary. The returned summary is never nil.
func (d *Dispatcher) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	now := d.now()
	summary := &Summary{ExecutionID: uuid.NewString()[:8]}
	logger := d.logger.With(zap.String("execution_id", summary.ExecutionID))

	finish := func(err error) (*Summary, error) {
		summary.ExecutionTime = time.Since(started)
		d.metrics.recordRun(err != nil, summary.ExecutionTime)
		return summary, err
	}

	summary.Recovered = d.recoverStale(ctx, logger, now)

	due, err := d.listDue(ctx, now)
	if err != nil {
		logger.Error("failed to list due reminders", zap.Error(err))
		return finish(fmt.Errorf("list due reminders: %w", err))
	}
	logger.Info("dispatch started", zap.Int("due", len(due)), zap.Time("now", now))

	for _, r := range due {
		if err := ctx.Err(); err != nil {
			logger.Warn("dispatch interrupted", zap.Error(err),
				zap.Int("remaining", len(due)-summary.Sent-summary.Skipped-summary.Errored))
			return finish(fmt.Errorf("dispatch interrupted: %w", err))
		}

		outcome := d.process(ctx, logger.With(zap.String("reminder_id", r.ID.String())), r, now)
		d.metrics.recordOutcome(outcome)
		switch outcome {
		case OutcomeSent:
			summary.Sent++
		case OutcomeSkipped:
			summary.Skipped++
		default:
			summary.Errored++
		}
	}

	logger.Info("dispatch finished",
		zap.Int("sent", summary.Sent),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errored", summary.Errored),
		zap.Int("recovered", summary.Recovered),
		zap.Duration("elapsed", time.Since(started)),
	)
	return finish(nil)
}

func (d *Dispatcher) listDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	return d.reminders.ListDue(callCtx, now, d.cfg.BatchSize)
}

func (d *Dispatcher) process(ctx context.Context, logger *zap.Logger, r *models.Reminder, now time.Time) (outcome string) {
	token := uuid.New()

	claimed, err := d.claim(ctx, r, token)
	if err != nil {
		// The update may have committed even though the call failed.
		logger.Error("failed to claim reminder", zap.Error(err))
		d.release(ctx, logger, r, token)
		return OutcomeErrored
	}
	if !claimed {
		logger.Debug("reminder already claimed or rescheduled")
		return OutcomeSkipped
	}

	var next *schedule.Occurrence
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic while dispatching reminder", zap.Any("panic", p), zap.Stack("stack"))
			outcome = d.fail(ctx, logger, r, token, next)
		}
	}()

	occ, err := schedule.NextTrigger(r.Rule(), now, d.cfg.Location)
	if err != nil {
		logger.Error("failed to compute next trigger", zap.Error(err))
		return d.fail(ctx, logger, r, token, nil)
	}
	next = &occ

	if err := d.deliver(ctx, logger, r); err != nil {
		logger.Error("failed to deliver reminder", zap.Error(err), zap.Int("failed_attempts", r.FailedAttempts+1))
		return d.fail(ctx, logger, r, token, next)
	}

	if err := d.advance(ctx, r, token, occ.Trigger); err != nil {
		if errors.Is(err, repository.ErrNotClaimed) {
			logger.Info("reminder changed while sending, keeping the newer state")
		} else {
			logger.Error("email sent but reminder could not be advanced, left for stale-claim recovery",
				zap.Error(err), zap.Duration("stale_after", d.cfg.StaleClaimAfter))
		}
		return OutcomeSent
	}

	logger.Info("reminder sent", zap.Time("next_trigger_at", occ.Trigger))
	return OutcomeSent
}

func (d *Dispatcher) deliver(ctx context.Context, logger *zap.Logger, r *models.Reminder) error {
	recipients, err := d.resolveRecipients(ctx, r.UserID)
	if err != nil {
		return err
	}

	wish := d.wish(ctx, logger, r)

	subject, html, err := format.ReminderEmail(format.NewReminderEmailData(r, wish))
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	messageID, err := d.mailer.Send(callCtx, &mailer.Message{
		To:      recipients,
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	logger.Debug("email accepted",
		zap.String("message_id", messageID),
		zap.Int("recipients", len(recipients)),
		zap.Bool("wish", wish != ""),
	)
	return nil
}

func (d *Dispatcher) resolveRecipients(ctx context.Context, userID uuid.UUID) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	primary, err := d.accounts.GetEmail(callCtx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoPrimaryEmail
	}
	if err != nil {
		return nil, fmt.Errorf("get account email: %w", err)
	}
	if primary == "" {
		return nil, ErrNoPrimaryEmail
	}

	extra, err := d.recipients.ListEmails(callCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return MergeRecipients(primary, extra), nil
}

// wish is best-effort and never fails the delivery.
func (d *Dispatcher) wish(ctx context.Context, logger *zap.Logger, r *models.Reminder) string {
	if d.wishes == nil || r.EventType == models.EventBill {
		return ""
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	wish, err := d.wishes.Wish(callCtx, ai.WishRequest{
		EventType: string(r.EventType),
		Relation:  r.RelationLabel(),
		Title:     r.Title,
	})
	if err != nil {
		logger.Warn("wish generation failed, sending without wish", zap.Error(err))
		return ""
	}
	return wish
}

func (d *Dispatcher) claim(ctx context.Context, r *models.Reminder, token uuid.UUID) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	return d.reminders.TryClaim(callCtx, r.ID, r.NextTriggerAt, token, d.now())
}

// fail handles a claimed reminder whose delivery did not complete. With an
// attempt cap the occurrence is skipped once the cap is reached; otherwise
// the claim is reverted for the next run.
func (d *Dispatcher) fail(ctx context.Context, logger *zap.Logger, r *models.Reminder, token uuid.UUID, next *schedule.Occurrence) string {
	if next != nil && d.cfg.MaxAttempts > 0 && r.FailedAttempts+1 >= d.cfg.MaxAttempts {
		err := d.advance(ctx, r, token, next.Trigger)
		switch {
		case err == nil:
			logger.Error("giving up on occurrence after repeated failures",
				zap.Int("attempts", r.FailedAttempts+1),
				zap.Time("next_trigger_at", next.Trigger),
			)
			return OutcomeGaveUp
		case errors.Is(err, repository.ErrNotClaimed):
			logger.Info("reminder changed while sending, keeping the newer state")
			return OutcomeErrored
		default:
			logger.Error("failed to skip occurrence, reverting claim", zap.Error(err))
		}
	}

	d.release(ctx, logger, r, token)
	return OutcomeErrored
}

// release reverts the claim. It runs detached from ctx so a cancelled
// invocation does not leave the reminder claimed.
func (d *Dispatcher) release(ctx context.Context, logger *zap.Logger, r *models.Reminder, token uuid.UUID) {
	var attempts int
	err := d.retryWrite(ctx, func(callCtx context.Context) error {
		var err error
		attempts, err = d.reminders.Release(callCtx, r.ID, token)
		return err
	})
	switch {
	case err == nil:
		logger.Info("claim reverted, will retry", zap.Int("failed_attempts", attempts))
	case errors.Is(err, repository.ErrNotClaimed):
		logger.Debug("nothing to revert")
	default:
		logger.Error("failed to revert claim, left for stale-claim recovery",
			zap.Error(err), zap.Duration("stale_after", d.cfg.StaleClaimAfter))
	}
}

func (d *Dispatcher) advance(ctx context.Context, r *models.Reminder, token uuid.UUID, next time.Time) error {
	return d.retryWrite(ctx, func(callCtx context.Context) error {
		return d.reminders.Advance(callCtx, r.ID, token, next)
	})
}

// retryWrite runs a claim-ending store write detached from ctx, retrying
// failures with exponential backoff. ErrNotClaimed is final.
func (d *Dispatcher) retryWrite(ctx context.Context, write func(context.Context) error) error {
	detached := context.WithoutCancel(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryBackoff

	_, err := backoff.Retry(detached, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(detached, d.cfg.CallTimeout)
		defer cancel()
		if err := write(callCtx); err != nil {
			if errors.Is(err, repository.ErrNotClaimed) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(d.cfg.WriteAttempts)))
	return err
}

// recoverStale moves claims older than StaleClaimAfter to their next
// occurrence after now. The stranded occurrence is not re-sent, so a reminder
// whose email did go out is never duplicated. Failures are logged and left
// for the next invocation.
func (d *Dispatcher) recoverStale(ctx context.Context, logger *zap.Logger, now time.Time) int {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	stale, err := d.reminders.ListStale(callCtx, now.Add(-d.cfg.StaleClaimAfter), d.cfg.BatchSize)
	cancel()
	if err != nil {
		logger.Error("failed to list stale claims", zap.Error(err))
		return 0
	}

	recovered := 0
	for _, r := range stale {
		rlog := logger.With(zap.String("reminder_id", r.ID.String()))
		if r.ClaimToken == nil {
			rlog.Warn("stale claim without token, skipping")
			continue
		}

		occ, err := schedule.NextTrigger(r.Rule(), now, d.cfg.Location)
		if err != nil {
			rlog.Error("failed to compute next trigger for stale claim", zap.Error(err))
			continue
		}

		err = d.advance(ctx, r, *r.ClaimToken, occ.Trigger)
		switch {
		case err == nil:
			recovered++
			d.metrics.recordOutcome(OutcomeRecovered)
			fields := []zap.Field{zap.Time("stale_trigger_at", r.NextTriggerAt), zap.Time("next_trigger_at", occ.Trigger)}
			if r.ClaimedAt != nil {
				fields = append(fields, zap.Time("claimed_at", *r.ClaimedAt))
			}
			rlog.Warn("recovered stale claim", fields...)
		case errors.Is(err, repository.ErrNotClaimed):
			rlog.Debug("stale claim already resolved")
		default:
			rlog.Error("failed to recover stale claim", zap.Error(err))
		}
	}
	return recovered
}
