package models

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleType decides how a schedule's next run is found.
type ScheduleType string

const (
	// ScheduleTypeManual schedules only run when triggered by a user.
	ScheduleTypeManual ScheduleType = "MANUAL"
	// ScheduleTypeInterval schedules run every Interval minutes.
	ScheduleTypeInterval ScheduleType = "INTERVAL"
	// ScheduleTypeCron schedules run on the occurrences of CronExpression.
	ScheduleTypeCron ScheduleType = "CRON"
	// ScheduleTypeRealtime schedules run when their target reports a change.
	ScheduleTypeRealtime ScheduleType = "REALTIME"
)

// ScheduleTypes lists every schedule type in declaration order.
var ScheduleTypes = []ScheduleType{
	ScheduleTypeManual,
	ScheduleTypeInterval,
	ScheduleTypeCron,
	ScheduleTypeRealtime,
}

// ParseScheduleType returns the ScheduleType named by s.
func ParseScheduleType(s string) (ScheduleType, error) {
	for _, t := range ScheduleTypes {
		if string(t) == s {
			return t, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownScheduleType, s)
}

// Polled reports whether the scheduler loop picks this type up on its ticks.
func (t ScheduleType) Polled() bool {
	switch t {
	case ScheduleTypeInterval, ScheduleTypeCron:
		return true
	case ScheduleTypeManual, ScheduleTypeRealtime:
		return false
	}

	return false
}

// DefaultTimezone is used when a schedule does not name one.
const DefaultTimezone = "UTC"

// MaxIntervalMinutes caps INTERVAL schedules at one year.
const MaxIntervalMinutes = 525600

// RefreshSchedule is a named, user-owned refresh policy for one target.
type RefreshSchedule struct {
	ID          string `json:"id"          db:"id"`
	Name        string `json:"name"        db:"name"        validate:"required,min=1,max=255"`
	Description string `json:"description" db:"description"`

	TargetType TargetType `json:"targetType" db:"target_type" validate:"required,oneof=DASHBOARD QUERY"`
	TargetID   string     `json:"targetId"   db:"target_id"   validate:"required"`

	ScheduleType   ScheduleType `json:"scheduleType"             db:"schedule_type"   validate:"required,oneof=MANUAL INTERVAL CRON REALTIME"`
	Interval       *int         `json:"interval,omitempty"       db:"interval_minutes" validate:"omitempty,min=1,max=525600"`
	CronExpression *string      `json:"cronExpression,omitempty" db:"cron_expression"  validate:"omitempty,min=1"`
	Timezone       string       `json:"timezone"                 db:"timezone"`

	IsActive  bool       `json:"isActive"            db:"is_active"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty" db:"next_run_at"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty" db:"last_run_at"`
	LastError *string    `json:"lastError,omitempty" db:"last_error"`

	RunCount   int64 `json:"runCount"   db:"run_count"`
	ErrorCount int64 `json:"errorCount" db:"error_count"`

	OwnerID   string    `json:"ownerId"   db:"owner_id" validate:"required"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Target returns the reference to what the schedule refreshes.
func (s *RefreshSchedule) Target() (Target, error) {
	return NewTarget(s.TargetType, s.TargetID)
}

// Location resolves the schedule's timezone, defaulting to UTC.
func (s *RefreshSchedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, s.Timezone)
	}

	return loc, nil
}

// NextRunAfter computes the first run strictly after ref. Types that are not
// polled have no next run and return nil.
func (s *RefreshSchedule) NextRunAfter(ref time.Time) (*time.Time, error) {
	switch s.ScheduleType {
	case ScheduleTypeInterval:
		if s.Interval == nil || *s.Interval < 1 {
			return nil, ErrIntervalRequired
		}

		if *s.Interval > MaxIntervalMinutes {
			return nil, fmt.Errorf("%w: %d minutes", ErrIntervalTooLarge, *s.Interval)
		}

		next := ref.Add(time.Duration(*s.Interval) * time.Minute).UTC()
		if !next.After(ref) {
			return nil, fmt.Errorf("%w: %d minutes", ErrIntervalTooLarge, *s.Interval)
		}

		return &next, nil

	case ScheduleTypeCron:
		if s.CronExpression == nil || *s.CronExpression == "" {
			return nil, ErrCronExpressionRequired
		}

		loc, err := s.Location()
		if err != nil {
			return nil, err
		}

		next, err := NextCronOccurrence(*s.CronExpression, loc, ref)
		if err != nil {
			return nil, err
		}

		return &next, nil

	case ScheduleTypeManual, ScheduleTypeRealtime:
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownScheduleType, s.ScheduleType)
}

// UpdateNextRunAt recomputes NextRunAt from ref.
func (s *RefreshSchedule) UpdateNextRunAt(ref time.Time) error {
	next, err := s.NextRunAfter(ref)
	if err != nil {
		return err
	}

	s.NextRunAt = next

	return nil
}

// SameTiming reports whether other decides its runs the same way as s.
func (s *RefreshSchedule) SameTiming(other *RefreshSchedule) bool {
	return s.ScheduleType == other.ScheduleType &&
		equalPtr(s.Interval, other.Interval) &&
		equalPtr(s.CronExpression, other.CronExpression) &&
		s.Timezone == other.Timezone &&
		s.IsActive == other.IsActive
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

// IsDue checks if this schedule should be dispatched by a tick at now.
func (s *RefreshSchedule) IsDue(now time.Time) bool {
	return s.IsActive && s.ScheduleType.Polled() && s.NextRunAt != nil && !s.NextRunAt.After(now)
}

// Validate checks the type-specific fields that struct tags cannot express.
func (s *RefreshSchedule) Validate() error {
	if s.Name == "" || s.TargetID == "" || s.OwnerID == "" {
		return ErrInvalidSchedule
	}

	if _, err := ParseTargetType(string(s.TargetType)); err != nil {
		return err
	}

	switch s.ScheduleType {
	case ScheduleTypeInterval:
		if s.Interval == nil || *s.Interval < 1 {
			return ErrIntervalRequired
		}

		if *s.Interval > MaxIntervalMinutes {
			return fmt.Errorf("%w: %d minutes", ErrIntervalTooLarge, *s.Interval)
		}
	case ScheduleTypeCron:
		if s.CronExpression == nil || *s.CronExpression == "" {
			return ErrCronExpressionRequired
		}

		if err := ValidateCronExpression(*s.CronExpression); err != nil {
			return err
		}
	case ScheduleTypeManual, ScheduleTypeRealtime:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScheduleType, s.ScheduleType)
	}

	_, err := s.Location()

	return err
}

var (
	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")

	// ErrUnknownScheduleType is returned for schedule types outside ScheduleTypes.
	ErrUnknownScheduleType = errors.New("unknown schedule type")

	// ErrIntervalRequired is returned for INTERVAL schedules without a positive interval.
	ErrIntervalRequired = errors.New("interval of at least 1 minute is required for INTERVAL schedules")

	// ErrIntervalTooLarge is returned for intervals above MaxIntervalMinutes.
	ErrIntervalTooLarge = errors.New("interval exceeds the maximum of 525600 minutes")

	// ErrCronExpressionRequired is returned for CRON schedules without an expression.
	ErrCronExpressionRequired = errors.New("cronExpression is required for CRON schedules")

	// ErrInvalidCronExpression is returned when the cron expression cannot be parsed.
	ErrInvalidCronExpression = errors.New("invalid cron expression")

	// ErrInvalidTimezone is returned when the timezone is not a known IANA name.
	ErrInvalidTimezone = errors.New("invalid timezone")
)
