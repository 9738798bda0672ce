package models

import (
	"fmt"
	"time"

	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// Standard 5-field cron (minute hour dom month dow) plus descriptors such as
// @hourly and @every 15m.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCronExpression reports whether expr can be evaluated.
func ValidateCronExpression(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCronExpression, err.Error())
	}

	return nil
}

// NextCronOccurrence returns the first occurrence of expr strictly after ref,
// evaluated in loc and returned in UTC.
func NextCronOccurrence(expr string, loc *time.Location, ref time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidCronExpression, err.Error())
	}

	if loc == nil {
		loc = time.UTC
	}

	next := schedule.Next(ref.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q has no future occurrence", ErrInvalidCronExpression, expr)
	}

	return next.UTC(), nil
}
