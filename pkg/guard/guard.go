// Package guard bounds the work a single engine operation may do.
package guard

import (
	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

// Limits holds the self-protection ceilings.
type Limits struct {
	MaxOccurrences int `yaml:"max_occurrences"`
	MaxAttendees   int `yaml:"max_attendees"`
	MaxAlarms      int `yaml:"max_alarms"`
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxOccurrences: 1000,
		MaxAttendees:   1000,
		MaxAlarms:      50,
	}
}

// Guard checks operations against Limits. A zero limit disables the check.
type Guard struct {
	limits Limits
}

// New creates a guard.
func New(limits Limits) *Guard {
	return &Guard{limits: limits}
}

// Limits returns the configured ceilings.
func (g *Guard) Limits() Limits {
	return g.limits
}

// MaxOccurrences returns the occurrence ceiling, 0 for unlimited.
func (g *Guard) MaxOccurrences() int {
	return g.limits.MaxOccurrences
}

// CheckEvent validates attendee and alarm counts of an event.
func (g *Guard) CheckEvent(event *models.Event) error {
	if g.limits.MaxAttendees > 0 && len(event.Attendees) > g.limits.MaxAttendees {
		return errs.New(errs.CodeTooManyAttendees, "event exceeds the attendee limit",
			"event_id", event.ID,
			"limit", g.limits.MaxAttendees,
			"attempted", len(event.Attendees))
	}
	return g.CheckAlarms(event.ID, event.Alarms)
}

// CheckAlarms validates the alarm count for one event.
func (g *Guard) CheckAlarms(eventID string, alarms []models.Alarm) error {
	if g.limits.MaxAlarms > 0 && len(alarms) > g.limits.MaxAlarms {
		return errs.New(errs.CodeTooManyAlarms, "event exceeds the alarm limit",
			"event_id", eventID,
			"limit", g.limits.MaxAlarms,
			"attempted", len(alarms))
	}
	return nil
}

// CheckOccurrences validates a materialized occurrence count.
func (g *Guard) CheckOccurrences(seriesID string, n int) error {
	if g.limits.MaxOccurrences > 0 && n > g.limits.MaxOccurrences {
		return occurrenceLimitError(seriesID, g.limits.MaxOccurrences)
	}
	return nil
}

// occurrenceLimitError builds the TooManyOccurrences error. The attempted
// count is not included because expansion stops at limit+1.
func occurrenceLimitError(seriesID string, limit int) *errs.Error {
	return errs.New(errs.CodeTooManyOccurrences, "expansion exceeds the occurrence limit",
		"series_id", seriesID,
		"limit", limit)
}
