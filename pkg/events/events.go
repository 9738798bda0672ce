// Package events defines the refresh lifecycle and target change notifications
// carried on the event bus.
package events

import (
	"time"

	"github.com/dukex/refreshd/pkg/models"
)

type EventType string

// Topic carries every refreshd event.
const Topic = "refreshd.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "refresh.execution.started"
	ExecutionCompletedEvent EventType = "refresh.execution.completed"
	ExecutionFailedEvent    EventType = "refresh.execution.failed"

	// TargetChangedEvent is published by the CRUD layer when the data behind a
	// dashboard or saved query changes. REALTIME schedules react to it.
	TargetChangedEvent EventType = "target.changed"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBaseEvent(id string, eventType EventType, at time.Time) BaseEvent {
	return BaseEvent{ID: id, Type: eventType, Timestamp: at.UTC()}
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string                  `json:"executionId"`
	ScheduleID  string                  `json:"scheduleId"`
	TargetType  models.TargetType       `json:"targetType"`
	TargetID    string                  `json:"targetId"`
	Trigger     models.ExecutionTrigger `json:"trigger"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID     string          `json:"executionId"`
	ScheduleID      string          `json:"scheduleId"`
	Duration        int64           `json:"duration"`
	RecordsAffected int64           `json:"recordsAffected"`
	Metadata        models.Metadata `json:"metadata,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"executionId"`
	ScheduleID  string `json:"scheduleId"`
	Duration    int64  `json:"duration"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type TargetChanged struct {
	BaseEvent

	TargetType models.TargetType `json:"targetType"`
	TargetID   string            `json:"targetId"`
}

func (e TargetChanged) GetType() EventType {
	return TargetChangedEvent
}

// Target returns the changed target as a models.Target.
func (e TargetChanged) Target() (models.Target, error) {
	return models.NewTarget(e.TargetType, e.TargetID)
}
