package alarm

import (
	"fmt"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
)

// Calculator turns (occurrence, alarm) pairs into absolute trigger instants.
type Calculator struct {
	// Location resolves floating and all-day occurrences when the caller
	// passes no viewer location.
	Location *time.Location
}

// NewCalculator creates a calculator with a fallback viewer location.
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{Location: loc}
}

// Compute returns the trigger instant of alarm for an occurrence spanning
// [start, end]. Relative offsets are applied to the wall clock of the anchor
// in its own zone (the viewer's zone for floating values), so day-based
// offsets keep the local time across DST changes.
func (c *Calculator) Compute(start, end models.DateTime, alarm *models.Alarm, viewer *time.Location) (time.Time, error) {
	if alarm.Trigger.Absolute != nil {
		return alarm.Trigger.Absolute.UTC(), nil
	}
	if alarm.Trigger.Duration == nil {
		return time.Time{}, fmt.Errorf("alarm %s has no trigger", alarm.ID)
	}

	if viewer == nil {
		viewer = c.Location
	}

	anchor := start
	if alarm.Trigger.Relation() == models.RelatedEnd {
		anchor = end
		if anchor.IsZero() {
			anchor = start
		}
	}

	return alarm.Trigger.Duration.AddTo(anchor.In(viewer)).UTC(), nil
}

// Reach returns how far before and after an occurrence start its alarms can
// fire, for sizing expansion windows: a trigger of an occurrence starting at
// s lies in [s-before, s+after].
func Reach(alarms []models.Alarm, duration time.Duration) (before, after time.Duration) {
	for i := range alarms {
		tr := alarms[i].Trigger
		if tr.Duration == nil {
			continue
		}
		off := tr.Duration.Approx()
		if tr.Relation() == models.RelatedEnd {
			off += duration
		}
		if off < 0 && -off > before {
			before = -off
		}
		if off > after {
			after = off
		}
	}
	return before, after
}
