// Package web exposes the refresh engine over HTTP.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/refreshd/pkg/log"
	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/dukex/refreshd/pkg/services"
	"github.com/dukex/refreshd/pkg/sessions"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	schedules   *services.Schedule
	refresh     *services.Refresh
	dataSources *services.DataSource
	scheduler   *refresh.Scheduler
	sessions    sessions.Store
	secret      string
	logger      *slog.Logger
}

func NewAPIHandlers(
	schedules *services.Schedule,
	refreshService *services.Refresh,
	dataSources *services.DataSource,
	scheduler *refresh.Scheduler,
	sessionStore sessions.Store,
	secret string,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		schedules:   schedules,
		refresh:     refreshService,
		dataSources: dataSources,
		scheduler:   scheduler,
		sessions:    sessionStore,
		secret:      secret,
		logger:      logger.With("module", "web"),
	}
}

// Routes mounts every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Use(RequestLogger(h.logger))

	router.Get("/health", h.HealthCheck)

	router.Group("/refresh/scheduler", RequireBearer(h.secret)).Post("/", h.RunScheduler)

	session := RequireSession(h.sessions)

	router.Group("/refresh/execute", session).Post("/", h.ExecuteRefresh)

	s := router.Group("/refresh/schedules", session)
	s.Get("/", h.ListSchedules)
	s.Post("/", h.CreateSchedule)
	s.Get("/:id", h.GetSchedule)
	s.Put("/:id", h.UpdateSchedule)
	s.Delete("/:id", h.DeleteSchedule)
	s.Get("/:id/executions", h.ListExecutions)

	router.Group("/datasources", session).Post("/:id/test", h.TestDataSource)

	router.Get("/cron/status", h.CronStatus)
	router.Post("/cron/status", h.StartCron)
	router.Delete("/cron/status", h.StopCron)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.schedules.HealthCheck(requestContext(c))

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"scheduler":  h.scheduler.Running(),
		},
		"timestamp": time.Now().UTC(),
	})
}

// RunScheduler runs one tick. The scheduler itself absorbs refresh failures,
// so only bookkeeping errors surface here.
func (h *APIHandlers) RunScheduler(c fiber.Ctx) error {
	summary, err := h.scheduler.Tick(requestContext(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(SchedulerResponse{Success: true, TickSummary: summary})
}

func (h *APIHandlers) ExecuteRefresh(c fiber.Ctx) error {
	if err := validateJSONSchema(executeSchema, c.Body()); err != nil {
		return badRequest(c, err.Error())
	}

	var req services.ExecuteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.refresh.Execute(requestContext(c), ownerID(c), req)
	if err != nil && result == nil {
		return handleServiceError(c, err)
	}

	response := ExecuteResponse{
		Success:         err == nil,
		Execution:       result.Execution,
		Duration:        result.Duration,
		RecordsAffected: result.RecordsAffected,
	}

	if err != nil {
		response.Error = err.Error()

		return c.Status(fiber.StatusInternalServerError).JSON(response)
	}

	return c.JSON(response)
}

func (h *APIHandlers) ListSchedules(c fiber.Ctx) error {
	schedules, err := h.schedules.List(requestContext(c), ownerID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"schedules": schedules})
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	if err := validateJSONSchema(createScheduleSchema, c.Body()); err != nil {
		return badRequest(c, err.Error())
	}

	var req services.CreateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.schedules.Create(requestContext(c), ownerID(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	schedule, err := h.schedules.Get(requestContext(c), ownerID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) UpdateSchedule(c fiber.Ctx) error {
	if err := validateJSONSchema(updateScheduleSchema, c.Body()); err != nil {
		return badRequest(c, err.Error())
	}

	var req services.UpdateScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.schedules.Update(requestContext(c), ownerID(c), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	if err := h.schedules.Delete(requestContext(c), ownerID(c), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit := 0

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = parsed
	}

	executions, err := h.schedules.Executions(requestContext(c), ownerID(c), c.Params("id"), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) TestDataSource(c fiber.Ctx) error {
	result, err := h.dataSources.Test(requestContext(c), ownerID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CronStatus(c fiber.Ctx) error {
	return h.cronResponse(c, "")
}

func (h *APIHandlers) StartCron(c fiber.Ctx) error {
	// The loop outlives the request.
	message := "scheduler started"
	if !h.scheduler.Start(log.WithLogger(context.Background(), h.logger)) {
		message = "scheduler already running"
	}

	h.logger.InfoContext(c.Context(), message)

	return h.cronResponse(c, message)
}

func (h *APIHandlers) StopCron(c fiber.Ctx) error {
	message := "scheduler stopped"
	if !h.scheduler.Stop() {
		message = "scheduler not running"
	}

	h.logger.InfoContext(c.Context(), message)

	return h.cronResponse(c, message)
}

func (h *APIHandlers) cronResponse(c fiber.Ctx, message string) error {
	status, err := h.scheduler.Status(requestContext(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(CronResponse{Success: true, Message: message, Status: status})
}
