package web

import (
	"errors"

	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusUnauthorized).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

// handleServiceError maps a classified error onto a problem response.
func handleServiceError(c fiber.Ctx, err error) error {
	status, problemType := fiber.StatusInternalServerError, "internal_error"

	kind := refresh.KindOf(err)

	switch {
	case errors.Is(kind, refresh.ErrValidation):
		status, problemType = fiber.StatusBadRequest, "validation_error"
	case errors.Is(kind, refresh.ErrAuthorization):
		status, problemType = fiber.StatusForbidden, "forbidden"
	case errors.Is(kind, refresh.ErrNotFound):
		status, problemType = fiber.StatusNotFound, "not_found"
	case errors.Is(kind, refresh.ErrConflict):
		status, problemType = fiber.StatusConflict, "conflict"
	case errors.Is(kind, refresh.ErrConnection):
		problemType = "connection_error"
	case errors.Is(kind, refresh.ErrExecution):
		problemType = "execution_error"
	}

	detail := err.Error()

	if problemType == "internal_error" {
		requestLogger(c).ErrorContext(c.Context(), "Request failed", "error", err)

		detail = refresh.ErrInternal.Error()
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}
