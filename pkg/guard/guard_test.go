package guard

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()
	if limits.MaxOccurrences != 1000 {
		t.Errorf("Expected default occurrence limit 1000, got %d", limits.MaxOccurrences)
	}
	if limits.MaxAttendees <= 0 || limits.MaxAlarms <= 0 {
		t.Errorf("Expected positive attendee and alarm limits, got %+v", limits)
	}
}

func TestGuard_CheckEvent(t *testing.T) {
	g := New(Limits{MaxOccurrences: 10, MaxAttendees: 2, MaxAlarms: 1})

	attendees := func(n int) []models.Attendee {
		out := make([]models.Attendee, n)
		for i := range out {
			out[i] = models.Attendee{URI: fmt.Sprintf("mailto:user%d@example.com", i)}
		}
		return out
	}
	alarms := func(n int) []models.Alarm {
		out := make([]models.Alarm, n)
		for i := range out {
			out[i] = models.Alarm{ID: fmt.Sprint(i), Action: models.ActionDisplay, Trigger: models.Before(time.Duration(i) * time.Minute)}
		}
		return out
	}

	tests := []struct {
		name     string
		event    *models.Event
		expected error
	}{
		{"within limits", &models.Event{ID: "e", Attendees: attendees(2), Alarms: alarms(1)}, nil},
		{"too many attendees", &models.Event{ID: "e", Attendees: attendees(3)}, errs.ErrTooManyAttendees},
		{"too many alarms", &models.Event{ID: "e", Alarms: alarms(2)}, errs.ErrTooManyAlarms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckEvent(tt.event)
			if tt.expected == nil {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestGuard_CheckOccurrences(t *testing.T) {
	g := New(Limits{MaxOccurrences: 1000})

	if err := g.CheckOccurrences("s1", 1000); err != nil {
		t.Errorf("Expected exactly the limit to pass, got %v", err)
	}

	err := g.CheckOccurrences("s1", 1002)
	if !errors.Is(err, errs.ErrTooManyOccurrences) {
		t.Fatalf("Expected TooManyOccurrences, got %v", err)
	}

	// A zero limit disables the check
	unlimited := New(Limits{})
	if err := unlimited.CheckOccurrences("s1", 1_000_000); err != nil {
		t.Errorf("Expected no error without a limit, got %v", err)
	}
}
