package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is how often a reminder's event repeats.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Offset is the lead time between the notification and the event.
type Offset string

const (
	OneHour   Offset = "1h"
	FourHours Offset = "4h"
	OneDay    Offset = "1d"
	TwoDays   Offset = "2d"
	OneWeek   Offset = "1w"
	SameDay   Offset = "same"
)

func (o Offset) Valid() bool {
	switch o {
	case OneHour, FourHours, OneDay, TwoDays, OneWeek, SameDay:
		return true
	}
	return false
}

// Before returns the trigger time for an event at the given instant.
// Day-based offsets use calendar days so that DST shifts keep midnight aligned.
func (o Offset) Before(event time.Time) time.Time {
	switch o {
	case OneHour:
		return event.Add(-time.Hour)
	case FourHours:
		return event.Add(-4 * time.Hour)
	case OneDay:
		return event.AddDate(0, 0, -1)
	case TwoDays:
		return event.AddDate(0, 0, -2)
	case OneWeek:
		return event.AddDate(0, 0, -7)
	default:
		return event
	}
}

var (
	ErrInvalidDate = errors.New("invalid event date")
	ErrInvalidRule = errors.New("invalid schedule rule")
)

// daysInMonth allows February 29 so that leap-day events can be entered.
var daysInMonth = [12]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// DaysInMonth returns the maximum day number accepted for month (1-12), or 0.
func DaysInMonth(month int) int {
	if month < 1 || month > 12 {
		return 0
	}
	return daysInMonth[month-1]
}

// ValidateDate checks a month/day pair against the month's day count.
func ValidateDate(month, day int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: month %d out of range 1-12", ErrInvalidDate, month)
	}
	if max := DaysInMonth(month); day < 1 || day > max {
		return fmt.Errorf("%w: day %d out of range 1-%d for %s", ErrInvalidDate, day, max, time.Month(month))
	}
	return nil
}

// Rule is everything needed to place a reminder's next notification.
type Rule struct {
	Month     int
	Day       int
	Offset    Offset
	Frequency Frequency
}

func (r Rule) Validate() error {
	if err := ValidateDate(r.Month, r.Day); err != nil {
		return err
	}
	if !r.Offset.Valid() {
		return fmt.Errorf("%w: unknown offset %q", ErrInvalidRule, r.Offset)
	}
	if !r.Frequency.Valid() {
		return fmt.Errorf("%w: unknown recurrence %q", ErrInvalidRule, r.Frequency)
	}
	return nil
}

// Occurrence is one event instance and the instant its notification fires.
type Occurrence struct {
	Event   time.Time
	Trigger time.Time
}

// maxSteps bounds the search; any valid rule resolves within a couple of steps.
const maxSteps = 64

// NextTrigger returns the soonest occurrence whose trigger lies strictly after
// now. Events fall on midnight in loc; a nil loc means UTC.
//
// Days past the end of a month (29-31 monthly, February 29 yearly) are clamped
// to that month's last day.
func NextTrigger(r Rule, now time.Time, loc *time.Location) (Occurrence, error) {
	if err := r.Validate(); err != nil {
		return Occurrence{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	rule, err := r.recurrence(now.In(loc))
	if err != nil {
		return Occurrence{}, err
	}

	after := now
	for i := 0; i < maxSteps; i++ {
		event := rule.After(after, false)
		if event.IsZero() {
			break
		}
		if trigger := r.Offset.Before(event); trigger.After(now) {
			return Occurrence{Event: event, Trigger: trigger}, nil
		}
		after = event
	}
	return Occurrence{}, fmt.Errorf("%w: no occurrence found after %s", ErrInvalidRule, now.Format(time.RFC3339))
}

// recurrence builds the RFC 5545 rule anchored at the start of the period
// containing local.
func (r Rule) recurrence(local time.Time) (*rrule.RRule, error) {
	loc := local.Location()
	opt := rrule.ROption{
		Dtstart: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc),
	}

	switch r.Frequency {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
	case Monthly:
		opt.Freq = rrule.MONTHLY
		opt.Dtstart = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		opt.Bymonthday, opt.Bysetpos = clampedMonthDay(r.Day)
	case Yearly:
		opt.Freq = rrule.YEARLY
		opt.Dtstart = time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
		opt.Bymonth = []int{r.Month}
		opt.Bymonthday, opt.Bysetpos = clampedMonthDay(r.Day)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build recurrence: %w", err)
	}
	return rule, nil
}

// clampedMonthDay selects day, or the last day of the month when day does not
// exist in it: BYMONTHDAY=day,-1;BYSETPOS=1.
func clampedMonthDay(day int) (byMonthDay, bySetPos []int) {
	if day <= 28 {
		return []int{day}, nil
	}
	return []int{day, -1}, []int{1}
}

// EventDate formats a month/day pair as "March 15".
func EventDate(month, day int) string {
	if month < 1 || month > 12 {
		return fmt.Sprintf("%d/%d", month, day)
	}
	return fmt.Sprintf("%s %d", time.Month(month), day)
}

// HumanReadable describes a recurrence for display.
func HumanReadable(f Frequency) string {
	switch f {
	case Daily:
		return "Repeats every day"
	case Weekly:
		return "Repeats every week"
	case Monthly:
		return "Repeats every month"
	case Yearly:
		return "Repeats every year"
	}
	return "One-time"
}
