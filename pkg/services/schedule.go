package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultExecutionLimit = 20
	MaxExecutionLimit     = 100
)

// TargetResolver checks that a target exists and belongs to an owner.
type TargetResolver interface {
	Resolve(ctx context.Context, target models.Target, ownerID string) (*refresh.Plan, error)
}

// CreateScheduleRequest is the body of a schedule creation.
type CreateScheduleRequest struct {
	Name           string              `json:"name"                     validate:"required,min=1,max=255"`
	Description    string              `json:"description"              validate:"max=2000"`
	TargetType     models.TargetType   `json:"targetType"               validate:"required,oneof=DASHBOARD QUERY"`
	TargetID       string              `json:"targetId"                 validate:"required"`
	ScheduleType   models.ScheduleType `json:"scheduleType"             validate:"required,oneof=MANUAL INTERVAL CRON REALTIME"`
	Interval       *int                `json:"interval,omitempty"       validate:"required_if=ScheduleType INTERVAL,omitempty,min=1,max=525600"`
	CronExpression *string             `json:"cronExpression,omitempty" validate:"required_if=ScheduleType CRON,omitempty,min=1"`
	Timezone       string              `json:"timezone,omitempty"       validate:"omitempty,timezone"`
	IsActive       *bool               `json:"isActive,omitempty"`
}

// UpdateScheduleRequest changes the fields that are set.
type UpdateScheduleRequest struct {
	Name           *string              `json:"name,omitempty"           validate:"omitempty,min=1,max=255"`
	Description    *string              `json:"description,omitempty"    validate:"omitempty,max=2000"`
	TargetType     *models.TargetType   `json:"targetType,omitempty"     validate:"omitempty,oneof=DASHBOARD QUERY"`
	TargetID       *string              `json:"targetId,omitempty"       validate:"omitempty,min=1"`
	ScheduleType   *models.ScheduleType `json:"scheduleType,omitempty"   validate:"omitempty,oneof=MANUAL INTERVAL CRON REALTIME"`
	Interval       *int                 `json:"interval,omitempty"       validate:"omitempty,min=1,max=525600"`
	CronExpression *string              `json:"cronExpression,omitempty" validate:"omitempty,min=1"`
	Timezone       *string              `json:"timezone,omitempty"       validate:"omitempty,timezone"`
	IsActive       *bool                `json:"isActive,omitempty"`
}

// Schedule manages the refresh schedules of one owner at a time.
type Schedule struct {
	persistence persistence.Persistence
	targets     TargetResolver
	validator   *validator.Validate
	clock       clockwork.Clock
}

// NewSchedule creates a new schedule service.
func NewSchedule(p persistence.Persistence, targets TargetResolver, validate *validator.Validate, clock clockwork.Clock) *Schedule {
	return &Schedule{
		persistence: p,
		targets:     targets,
		validator:   validate,
		clock:       clock,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Schedule) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns the owner's schedules.
func (s *Schedule) List(ctx context.Context, ownerID string) ([]*models.RefreshSchedule, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, validationError("List", "", ErrEmptyOwnerID)
	}

	schedules, err := s.persistence.ScheduleRepository().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, internal("List", fmt.Errorf("failed to list schedules: %w", err))
	}

	return schedules, nil
}

// Get returns one of the owner's schedules. Other owners' schedules are
// reported as not found.
func (s *Schedule) Get(ctx context.Context, ownerID, id string) (*models.RefreshSchedule, error) {
	schedule, err := s.persistence.ScheduleRepository().GetByID(ctx, id)
	if err != nil {
		return nil, lookupSchedule("Get", id, err)
	}

	if schedule.OwnerID != ownerID {
		return nil, scheduleNotFound("Get", id, nil)
	}

	return schedule, nil
}

// Create validates req, checks the target and stores a new schedule. Active
// polled schedules get their first nextRunAt.
func (s *Schedule) Create(ctx context.Context, ownerID string, req CreateScheduleRequest) (*models.RefreshSchedule, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, validationError("Create", "", ErrEmptyOwnerID)
	}

	if err := s.validator.Struct(req); err != nil {
		return nil, structError("Create", err)
	}

	now := s.clock.Now().UTC()

	schedule := &models.RefreshSchedule{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		TargetType:     req.TargetType,
		TargetID:       req.TargetID,
		ScheduleType:   req.ScheduleType,
		Interval:       req.Interval,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		IsActive:       req.IsActive == nil || *req.IsActive,
		OwnerID:        ownerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.prepare(ctx, "Create", schedule, now); err != nil {
		return nil, err
	}

	if err := s.persistence.ScheduleRepository().Save(ctx, schedule); err != nil {
		return nil, internal("Create", fmt.Errorf("failed to create schedule: %w", err))
	}

	return schedule, nil
}

// Update applies req to one of the owner's schedules. nextRunAt is
// recomputed when the timing or activation changes.
func (s *Schedule) Update(ctx context.Context, ownerID, id string, req UpdateScheduleRequest) (*models.RefreshSchedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, structError("Update", err)
	}

	schedule, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	timingChanged := applyUpdate(schedule, req)
	now := s.clock.Now().UTC()

	if err := s.prepareFields(ctx, "Update", schedule, req.TargetType != nil || req.TargetID != nil); err != nil {
		return nil, err
	}

	if timingChanged {
		if err := s.scheduleNextRun(schedule, now); err != nil {
			return nil, validationError("Update", err.Error(), err)
		}
	}

	schedule.UpdatedAt = now

	if err := s.persistence.ScheduleRepository().Save(ctx, schedule); err != nil {
		return nil, internal("Update", fmt.Errorf("failed to update schedule: %w", err))
	}

	return schedule, nil
}

// Delete removes one of the owner's schedules. Its execution history is kept.
func (s *Schedule) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}

	if err := s.persistence.ScheduleRepository().Delete(ctx, id); err != nil {
		return lookupSchedule("Delete", id, err)
	}

	return nil
}

// Executions returns the newest executions of one of the owner's schedules.
func (s *Schedule) Executions(ctx context.Context, ownerID, id string, limit int) ([]*models.RefreshExecution, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultExecutionLimit
	case limit > MaxExecutionLimit:
		limit = MaxExecutionLimit
	}

	executions, err := s.persistence.ExecutionRepository().ListBySchedule(ctx, id, limit)
	if err != nil {
		return nil, internal("Executions", fmt.Errorf("failed to list executions: %w", err))
	}

	return executions, nil
}

func (s *Schedule) prepare(ctx context.Context, op string, schedule *models.RefreshSchedule, now time.Time) error {
	if err := s.prepareFields(ctx, op, schedule, true); err != nil {
		return err
	}

	if err := s.scheduleNextRun(schedule, now); err != nil {
		return validationError(op, err.Error(), err)
	}

	return nil
}

func (s *Schedule) prepareFields(ctx context.Context, op string, schedule *models.RefreshSchedule, checkTarget bool) error {
	if schedule.Timezone == "" {
		schedule.Timezone = models.DefaultTimezone
	}

	if err := schedule.Validate(); err != nil {
		return validationError(op, err.Error(), err)
	}

	if !checkTarget {
		return nil
	}

	target, err := schedule.Target()
	if err != nil {
		return validationError(op, err.Error(), err)
	}

	if _, err := s.targets.Resolve(ctx, target, schedule.OwnerID); err != nil {
		return err
	}

	return nil
}

// scheduleNextRun sets the first run after now for active schedules and
// clears it for inactive ones.
func (s *Schedule) scheduleNextRun(schedule *models.RefreshSchedule, now time.Time) error {
	if !schedule.IsActive {
		schedule.NextRunAt = nil

		return nil
	}

	return schedule.UpdateNextRunAt(now)
}

// applyUpdate copies the set fields of req onto schedule and reports whether
// a field that decides the next run changed.
func applyUpdate(schedule *models.RefreshSchedule, req UpdateScheduleRequest) bool {
	changed := false

	if req.Name != nil {
		schedule.Name = strings.TrimSpace(*req.Name)
	}

	if req.Description != nil {
		schedule.Description = *req.Description
	}

	if req.TargetType != nil {
		schedule.TargetType = *req.TargetType
	}

	if req.TargetID != nil {
		schedule.TargetID = *req.TargetID
	}

	if req.ScheduleType != nil && *req.ScheduleType != schedule.ScheduleType {
		schedule.ScheduleType = *req.ScheduleType
		changed = true
	}

	if req.Interval != nil && (schedule.Interval == nil || *schedule.Interval != *req.Interval) {
		interval := *req.Interval
		schedule.Interval = &interval
		changed = true
	}

	if req.CronExpression != nil && (schedule.CronExpression == nil || *schedule.CronExpression != *req.CronExpression) {
		expr := *req.CronExpression
		schedule.CronExpression = &expr
		changed = true
	}

	if req.Timezone != nil && *req.Timezone != schedule.Timezone {
		schedule.Timezone = *req.Timezone
		changed = true
	}

	if req.IsActive != nil && *req.IsActive != schedule.IsActive {
		schedule.IsActive = *req.IsActive
		changed = true
	}

	return changed
}
