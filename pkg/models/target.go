package models

import (
	"errors"
	"fmt"
)

// TargetType names the kind of entity a schedule refreshes.
type TargetType string

const (
	TargetTypeDashboard TargetType = "DASHBOARD"
	TargetTypeQuery     TargetType = "QUERY"
)

// ErrUnknownTargetType is returned for target types other than DASHBOARD and QUERY.
var ErrUnknownTargetType = errors.New("unknown target type")

// ParseTargetType returns the TargetType named by s.
func ParseTargetType(s string) (TargetType, error) {
	switch TargetType(s) {
	case TargetTypeDashboard:
		return TargetTypeDashboard, nil
	case TargetTypeQuery:
		return TargetTypeQuery, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownTargetType, s)
}

// Target is a reference to a dashboard or a saved query. The set of
// implementations is closed: every consumer handles them through a
// TargetVisitor, so a new kind of target fails to compile until each visitor
// learns about it.
type Target interface {
	Type() TargetType
	ID() string
	Accept(v TargetVisitor) error

	sealed()
}

// TargetVisitor handles each kind of Target.
type TargetVisitor interface {
	VisitDashboard(t DashboardTarget) error
	VisitQuery(t QueryTarget) error
}

// DashboardTarget references a dashboard by id.
type DashboardTarget struct {
	DashboardID string
}

func (t DashboardTarget) Type() TargetType { return TargetTypeDashboard }
func (t DashboardTarget) ID() string { return t.DashboardID }
func (t DashboardTarget) Accept(v TargetVisitor) error { return v.VisitDashboard(t) }
func (DashboardTarget) sealed() {}

// QueryTarget references a saved query by id.
type QueryTarget struct {
	QueryID string
}

func (t QueryTarget) Type() TargetType { return TargetTypeQuery }
func (t QueryTarget) ID() string { return t.QueryID }
func (t QueryTarget) Accept(v TargetVisitor) error { return v.VisitQuery(t) }
func (QueryTarget) sealed() {}

// NewTarget builds the Target for a (type, id) pair.
func NewTarget(targetType TargetType, id string) (Target, error) {
	if id == "" {
		return nil, errors.New("target id is required")
	}

	switch targetType {
	case TargetTypeDashboard:
		return DashboardTarget{DashboardID: id}, nil
	case TargetTypeQuery:
		return QueryTarget{QueryID: id}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownTargetType, targetType)
}
