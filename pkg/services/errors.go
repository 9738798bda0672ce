// Package services implements the owner-scoped operations behind the HTTP
// API: schedule management, ad-hoc refreshes and data source checks.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/go-playground/validator/v10"
)

var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrEmptyOwnerID   = errors.New("owner ID cannot be empty")
	ErrTargetMismatch = errors.New("schedule refreshes a different target")

	// Authorization Errors (403 Forbidden).
	ErrForeignSchedule = errors.New("schedule belongs to another user")
)

func validationError(op, message string, err error) error {
	return refresh.NewError(op, refresh.ErrValidation, message, err)
}

// structError turns validator failures into one readable message.
func structError(op string, err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return validationError(op, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, fieldMessage(fe))
	}

	return validationError(op, strings.Join(messages, "; "), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "timezone":
		return fe.Field() + " must be an IANA timezone"
	}

	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

func scheduleNotFound(op, id string, err error) error {
	return refresh.NewError(op, refresh.ErrNotFound, fmt.Sprintf("schedule %s not found", id), err)
}

func internal(op string, err error) error {
	return refresh.NewError(op, refresh.ErrInternal, "", err)
}

// lookupSchedule maps a schedule lookup failure onto the error kinds.
func lookupSchedule(op, id string, err error) error {
	if persistence.IsScheduleNotFound(err) {
		return scheduleNotFound(op, id, err)
	}

	return internal(op, err)
}
