package web

import (
	"fmt"
	"strings"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/refresh"
	"github.com/xeipuuv/gojsonschema"
)

// SchedulerResponse is returned by a triggered tick.
type SchedulerResponse struct {
	Success bool `json:"success"`
	*refresh.TickSummary
}

// ExecuteResponse is returned by an ad-hoc refresh. Error is set when the
// refresh ran and failed.
type ExecuteResponse struct {
	Success         bool                     `json:"success"`
	Execution       *models.RefreshExecution `json:"execution"`
	Duration        int64                    `json:"duration"`
	RecordsAffected int64                    `json:"recordsAffected"`
	Error           string                   `json:"error,omitempty"`
}

// CronResponse is returned by the loop control endpoints.
type CronResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Status  *refresh.Status `json:"status"`
}

const scheduleProperties = `{
	"name":           {"type": "string", "minLength": 1, "maxLength": 255},
	"description":    {"type": "string", "maxLength": 2000},
	"targetType":     {"enum": ["DASHBOARD", "QUERY"]},
	"targetId":       {"type": "string", "minLength": 1},
	"scheduleType":   {"enum": ["MANUAL", "INTERVAL", "CRON", "REALTIME"]},
	"interval":       {"type": ["integer", "null"], "minimum": 1, "maximum": 525600},
	"cronExpression": {"type": ["string", "null"]},
	"timezone":       {"type": "string"},
	"isActive":       {"type": "boolean"}
}`

var (
	createScheduleSchema = mustSchema(`{
		"type": "object",
		"required": ["name", "targetType", "targetId", "scheduleType"],
		"properties": ` + scheduleProperties + `
	}`)

	updateScheduleSchema = mustSchema(`{
		"type": "object",
		"properties": ` + scheduleProperties + `
	}`)

	executeSchema = mustSchema(`{
		"type": "object",
		"required": ["targetType", "targetId"],
		"properties": {
			"targetType": {"enum": ["DASHBOARD", "QUERY"]},
			"targetId":   {"type": "string", "minLength": 1},
			"scheduleId": {"type": "string"}
		}
	}`)
)

func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}

	return schema
}

// validateJSONSchema checks a raw request body against schema.
func validateJSONSchema(schema *gojsonschema.Schema, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("request body is required")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
