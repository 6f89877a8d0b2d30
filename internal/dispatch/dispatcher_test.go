package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/LifeMoments/internal/ai"
	"github.com/hray3182/LifeMoments/internal/mailer"
	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/hray3182/LifeMoments/internal/repository"
	"github.com/hray3182/LifeMoments/internal/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// memStore is an in-memory ReminderStore with the same conditional-update
// semantics as the SQL repository.
type memStore struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]*models.Reminder

	listErr  error
	claimErr error
	// failRelease and failAdvance fail that many upcoming calls.
	failRelease int
	failAdvance int
	releases    int
	advances    int
	// beforeAdvance runs inside Advance before the claim check.
	beforeAdvance func(id uuid.UUID)
}

var errConnReset = errors.New("connection reset")

func newMemStore(reminders ...*models.Reminder) *memStore {
	s := &memStore{reminders: make(map[uuid.UUID]*models.Reminder)}
	for _, r := range reminders {
		s.reminders[r.ID] = r
	}
	return s
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var due []*models.Reminder
	for _, r := range s.reminders {
		if !r.Notified && !r.NextTriggerAt.After(now) && len(due) < limit {
			cp := *r
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (s *memStore) ListStale(_ context.Context, claimedBefore time.Time, limit int) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*models.Reminder
	for _, r := range s.reminders {
		if r.Notified && r.ClaimedAt != nil && r.ClaimedAt.Before(claimedBefore) && len(stale) < limit {
			cp := *r
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

func (s *memStore) TryClaim(_ context.Context, id uuid.UUID, expected time.Time, token uuid.UUID, claimedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	r, ok := s.reminders[id]
	if !ok || r.Notified || !r.NextTriggerAt.Equal(expected) {
		return false, nil
	}
	r.Notified = true
	r.ClaimToken = &token
	r.ClaimedAt = &claimedAt
	return true, nil
}

func (s *memStore) holds(r *models.Reminder, token uuid.UUID) bool {
	return r.ClaimToken != nil && *r.ClaimToken == token
}

func (s *memStore) Release(_ context.Context, id, token uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if s.failRelease > 0 {
		s.failRelease--
		return 0, errConnReset
	}
	r, ok := s.reminders[id]
	if !ok || !s.holds(r, token) {
		return 0, repository.ErrNotClaimed
	}
	r.Notified = false
	r.FailedAttempts++
	r.ClaimToken, r.ClaimedAt = nil, nil
	return r.FailedAttempts, nil
}

func (s *memStore) Advance(_ context.Context, id, token uuid.UUID, next time.Time) error {
	if s.beforeAdvance != nil {
		s.beforeAdvance(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advances++
	if s.failAdvance > 0 {
		s.failAdvance--
		return errConnReset
	}
	r, ok := s.reminders[id]
	if !ok || !s.holds(r, token) {
		return repository.ErrNotClaimed
	}
	r.Notified = false
	r.NextTriggerAt = next
	r.FailedAttempts = 0
	r.ClaimToken, r.ClaimedAt = nil, nil
	return nil
}

// edit mimics a user update: new trigger, claim dropped.
func (s *memStore) edit(id uuid.UUID, trigger time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reminders[id]
	r.NextTriggerAt = trigger
	r.Notified = false
	r.FailedAttempts = 0
	r.ClaimToken, r.ClaimedAt = nil, nil
}

func (s *memStore) get(id uuid.UUID) models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.reminders[id]
}

type fakeAccounts struct {
	emails map[uuid.UUID]string
	err    error
}

func (f *fakeAccounts) GetEmail(_ context.Context, id uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	email, ok := f.emails[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return email, nil
}

type fakeRecipients struct {
	emails map[uuid.UUID][]string
	err    error
}

func (f *fakeRecipients) ListEmails(_ context.Context, id uuid.UUID) ([]string, error) {
	return f.emails[id], f.err
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []*mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg *mailer.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeWishes struct {
	mu    sync.Mutex
	wish  string
	err   error
	panic bool
	calls int
}

func (f *fakeWishes) Wish(_ context.Context, _ ai.WishRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("wish generator exploded")
	}
	return f.wish, f.err
}

var (
	testNow = time.Date(2024, time.March, 14, 0, 5, 0, 0, time.UTC)
	userID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
)

func dueReminder(eventType models.EventType) *models.Reminder {
	relation := "Mom"
	return &models.Reminder{
		ID:             uuid.New(),
		UserID:         userID,
		Title:          "Mom's birthday",
		EventType:      eventType,
		Relation:       &relation,
		EventMonth:     3,
		EventDay:       15,
		ReminderOffset: schedule.OneDay,
		RecurrenceType: schedule.Yearly,
		NextTriggerAt:  time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC),
	}
}

type harness struct {
	store      *memStore
	accounts   *fakeAccounts
	recipients *fakeRecipients
	mailer     *fakeMailer
	wishes     *fakeWishes
	metrics    *Metrics
	logs       *observer.ObservedLogs
	cfg        Config
}

func newHarness(reminders ...*models.Reminder) *harness {
	return &harness{
		store:      newMemStore(reminders...),
		accounts:   &fakeAccounts{emails: map[uuid.UUID]string{userID: "User@Example.com"}},
		recipients: &fakeRecipients{emails: map[uuid.UUID][]string{}},
		mailer:     &fakeMailer{},
		wishes:     &fakeWishes{wish: "Happy birthday, Mom!"},
		metrics:    NewMetrics(prometheus.NewRegistry()),
		cfg:        Config{RetryBackoff: time.Millisecond},
	}
}

func (h *harness) dispatcher() *Dispatcher {
	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs
	d := New(Dependencies{
		Reminders:  h.store,
		Recipients: h.recipients,
		Accounts:   h.accounts,
		Mailer:     h.mailer,
		Wishes:     h.wishes,
		Metrics:    h.metrics,
	}, h.cfg, zap.New(core))
	d.now = func() time.Time { return testNow }
	return d
}

func (h *harness) dispatcherAt(now time.Time) *Dispatcher {
	d := h.dispatcher()
	d.now = func() time.Time { return now }
	return d
}

func TestRun_SendsAndAdvances(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Errored)
	assert.Len(t, summary.ExecutionID, 8)

	require.Equal(t, 1, h.mailer.count())
	msg := h.mailer.sent[0]
	assert.Equal(t, []string{"user@example.com"}, msg.To)
	assert.Equal(t, "Reminder: Mom's birthday", msg.Subject)
	assert.Contains(t, msg.HTML, "Happy birthday, Mom!")
	assert.Contains(t, msg.HTML, "Date: March 15")

	got := h.store.get(r.ID)
	assert.False(t, got.Notified)
	assert.Equal(t, time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC), got.NextTriggerAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RemindersTotal.WithLabelValues(OutcomeSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("ok")))
}

func TestRun_SecondRunFindsNothing(t *testing.T) {
	h := newHarness(dueReminder(models.EventBirthday))
	d := h.dispatcher()

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Sent+summary.Skipped+summary.Errored)
	assert.Equal(t, 1, h.mailer.count())
}

func TestRun_ConcurrentInvocationsSendOnce(t *testing.T) {
	reminders := []*models.Reminder{
		dueReminder(models.EventBirthday),
		dueReminder(models.EventAnniversary),
		dueReminder(models.EventBill),
	}
	h := newHarness(reminders...)

	const invocations = 6
	summaries := make([]*Summary, invocations)
	var wg sync.WaitGroup
	for i := 0; i < invocations; i++ {
		d := h.dispatcher()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := d.Run(context.Background())
			assert.NoError(t, err)
			summaries[i] = s
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, s := range summaries {
		sent += s.Sent
		assert.Zero(t, s.Errored)
	}
	assert.Equal(t, len(reminders), sent)
	assert.Equal(t, len(reminders), h.mailer.count())
}

func TestRun_SendFailureRevertsClaim(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.mailer.err = errors.New("brevo API error (status 500)")

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errored)
	got := h.store.get(r.ID)
	assert.False(t, got.Notified)
	assert.Equal(t, r.NextTriggerAt, got.NextTriggerAt)
	assert.Equal(t, 1, got.FailedAttempts)

	// The next run retries and succeeds.
	h.mailer.err = nil
	summary, err = h.dispatcher().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Zero(t, h.store.get(r.ID).FailedAttempts)
}

func TestRun_MalformedWishStillSends(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.wishes.err = ai.ErrMalformed

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	require.Equal(t, 1, h.mailer.count())
	assert.NotContains(t, h.mailer.sent[0].HTML, "Suggested Wish")
	assert.Equal(t, 1, h.logs.FilterMessage("wish generation failed, sending without wish").Len())
}

func TestRun_BillSkipsWish(t *testing.T) {
	h := newHarness(dueReminder(models.EventBill))

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Zero(t, h.wishes.calls)
}

func TestRun_DeduplicatesRecipients(t *testing.T) {
	h := newHarness(dueReminder(models.EventBirthday))
	h.recipients.emails[userID] = []string{"user@example.com", "Sister@Example.com", "sister@example.com", "dad@example.com"}

	_, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, h.mailer.count())
	assert.Equal(t, []string{"user@example.com", "sister@example.com", "dad@example.com"}, h.mailer.sent[0].To)
}

func TestRun_MissingPrimaryEmailReverts(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.accounts.emails = map[uuid.UUID]string{userID: ""}
	h.recipients.emails[userID] = []string{"sister@example.com"}

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errored)
	assert.Zero(t, h.mailer.count())
	assert.False(t, h.store.get(r.ID).Notified)
}

func TestRun_AccountLookupFailureIsNotMissingEmail(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.accounts.err = errors.New("connection reset")

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errored)
	assert.False(t, h.store.get(r.ID).Notified)

	entries := h.logs.FilterMessage("failed to deliver reminder").All()
	require.Len(t, entries, 1)
	msg := entries[0].ContextMap()["error"].(string)
	assert.Contains(t, msg, "get account email: connection reset")
	assert.NotContains(t, msg, ErrNoPrimaryEmail.Error())
}

func TestRun_MissingAccountIsMissingEmail(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.accounts.emails = map[uuid.UUID]string{}

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errored)
	entries := h.logs.FilterMessage("failed to deliver reminder").All()
	require.Len(t, entries, 1)
	assert.Equal(t, ErrNoPrimaryEmail.Error(), entries[0].ContextMap()["error"])
}

func TestRun_RecipientLookupFailureReverts(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.recipients.err = errors.New("connection reset")

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errored)
	assert.Zero(t, h.mailer.count())
	assert.False(t, h.store.get(r.ID).Notified)
}

func TestRun_ListFailureIsFatal(t *testing.T) {
	h := newHarness(dueReminder(models.EventBirthday))
	h.store.listErr = errors.New("connection refused")

	summary, err := h.dispatcher().Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.NotEmpty(t, summary.ExecutionID)
	assert.Zero(t, h.mailer.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("failed")))
}

func TestRun_ClaimErrorCountsErrored(t *testing.T) {
	h := newHarness(dueReminder(models.EventBirthday))
	h.store.claimErr = errors.New("timeout")

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errored)
	assert.Zero(t, h.mailer.count())
}

func TestRun_AdvanceRetriesTransientFailure(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.store.failAdvance = 1

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 2, h.store.advances)
	got := h.store.get(r.ID)
	assert.False(t, got.Notified)
	assert.Nil(t, got.ClaimToken)
	assert.Equal(t, time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC), got.NextTriggerAt)
}

func TestRun_ReleaseRetriesTransientFailure(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.mailer.err = errors.New("brevo API error (status 500)")
	h.store.failRelease = 2

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 3, h.store.releases)
	got := h.store.get(r.ID)
	assert.False(t, got.Notified)
	assert.Equal(t, 1, got.FailedAttempts)
}

func TestRun_RecoversClaimStrandedAfterSend(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.store.failAdvance = DefaultWriteAttempts

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	require.True(t, h.store.get(r.ID).Notified)
	assert.Equal(t, 1, h.logs.FilterMessage("email sent but reminder could not be advanced, left for stale-claim recovery").Len())

	// A claim younger than the stale threshold is left alone.
	summary, err = h.dispatcherAt(testNow.Add(time.Minute)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Recovered)
	assert.True(t, h.store.get(r.ID).Notified)

	// Thirteen months later the claim is stale and moves to the next occurrence.
	later := time.Date(2025, time.April, 14, 0, 0, 0, 0, time.UTC)
	summary, err = h.dispatcherAt(later).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recovered)
	assert.Zero(t, summary.Sent)
	got := h.store.get(r.ID)
	assert.False(t, got.Notified)
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC), got.NextTriggerAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RemindersTotal.WithLabelValues(OutcomeRecovered)))

	// The reminder fires again at its next occurrence.
	summary, err = h.dispatcherAt(time.Date(2026, time.March, 14, 0, 5, 0, 0, time.UTC)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 2, h.mailer.count())
}

func TestRun_RecoversClaimStrandedAfterRevertFailure(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	h.mailer.err = errors.New("boom")
	h.store.failRelease = DefaultWriteAttempts

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errored)
	require.True(t, h.store.get(r.ID).Notified)
	assert.Equal(t, 1, h.logs.FilterMessage("failed to revert claim, left for stale-claim recovery").Len())

	h.mailer.err = nil
	summary, err = h.dispatcherAt(testNow.Add(time.Hour)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recovered)
	got := h.store.get(r.ID)
	assert.False(t, got.Notified)
	assert.Equal(t, time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC), got.NextTriggerAt)
	// The stranded occurrence is not re-sent.
	assert.Zero(t, h.mailer.count())
}

func TestRun_StaleRecoveryLosesToLateAdvance(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	token := uuid.New()
	claimedAt := testNow.Add(-time.Hour)
	r.Notified, r.ClaimToken, r.ClaimedAt = true, &token, &claimedAt
	h := newHarness(r)

	// The original holder's write lands between listing and recovery; the
	// recovery write must not move the row again.
	next := time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)
	h.store.beforeAdvance = func(id uuid.UUID) {
		h.store.beforeAdvance = nil
		require.NoError(t, h.store.Advance(context.Background(), id, token, next))
	}

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Recovered)
	assert.Equal(t, next, h.store.get(r.ID).NextTriggerAt)
	assert.Equal(t, 1, h.logs.FilterMessage("stale claim already resolved").Len())
}

func TestRun_PanicIsContained(t *testing.T) {
	first := dueReminder(models.EventBirthday)
	second := dueReminder(models.EventBill)
	h := newHarness(first, second)
	h.wishes.panic = true

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 1, summary.Sent)
	assert.False(t, h.store.get(first.ID).Notified)
}

func TestRun_MaxAttemptsGivesUp(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	r.FailedAttempts = 2
	h := newHarness(r)
	h.cfg.MaxAttempts = 3
	h.mailer.err = errors.New("boom")

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errored)
	got := h.store.get(r.ID)
	assert.False(t, got.Notified)
	assert.Zero(t, got.FailedAttempts)
	assert.Equal(t, time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC), got.NextTriggerAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RemindersTotal.WithLabelValues(OutcomeGaveUp)))
}

func TestRun_EditDuringSendKeepsEdit(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	edited := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	h.store.beforeAdvance = func(id uuid.UUID) { h.store.edit(id, edited) }

	summary, err := h.dispatcher().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, edited, h.store.get(r.ID).NextTriggerAt)
}

func TestRun_SkipsReminderRescheduledSinceListing(t *testing.T) {
	r := dueReminder(models.EventBirthday)
	h := newHarness(r)
	d := h.dispatcher()

	due, err := h.store.ListDue(context.Background(), testNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// Another invocation sends and advances the reminder first.
	_, err = d.Run(context.Background())
	require.NoError(t, err)

	outcome := d.process(context.Background(), zap.NewNop(), due[0], testNow)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 1, h.mailer.count())
}

func TestRun_NoWishGenerator(t *testing.T) {
	h := newHarness(dueReminder(models.EventBirthday))
	d := New(Dependencies{
		Reminders:  h.store,
		Recipients: h.recipients,
		Accounts:   h.accounts,
		Mailer:     h.mailer,
	}, Config{}, nil)
	d.now = func() time.Time { return testNow }

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(dueReminder(models.EventBirthday))
	d := h.dispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx)
	assert.Error(t, err)
	assert.Zero(t, h.mailer.count())
}

func TestSummary_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Summary{Sent: 2, Skipped: 1, ExecutionID: "abcd1234", ExecutionTime: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sent":2,"skipped":1,"errored":0,"execution_id":"abcd1234","execution_time":"1500ms"}`, string(data))
}

func TestMergeRecipients(t *testing.T) {
	assert.Equal(t,
		[]string{"a@example.com", "b@example.com"},
		MergeRecipients("A@example.com", []string{"b@example.com", " a@EXAMPLE.com ", "", "B@example.com"}))
	assert.Equal(t, []string{"b@example.com"}, MergeRecipients("", []string{"b@example.com"}))
	assert.Empty(t, MergeRecipients("", nil))
}
