package models

import (
	"fmt"
	"time"
)

const (
	// ZuluLayout is the UTC timestamp format used on every engine boundary.
	ZuluLayout = "20060102T150405Z"

	floatingLayout = "20060102T150405"
	dateLayout     = "20060102"
)

// FormatZulu renders an instant as yyyyMMdd'T'HHmmss'Z'.
func FormatZulu(t time.Time) string {
	return t.UTC().Format(ZuluLayout)
}

// ParseZulu parses a yyyyMMdd'T'HHmmss'Z' timestamp.
func ParseZulu(s string) (time.Time, error) {
	return time.Parse(ZuluLayout, s)
}

// DateTime is an event start or end. Fixed values are absolute instants that
// carry their own location. Floating and all-day values keep only wall-clock
// fields (stored in UTC) and get their meaning from the viewer's location.
type DateTime struct {
	Time     time.Time `json:"time"`
	Floating bool      `json:"floating,omitempty"`
	AllDay   bool      `json:"all_day,omitempty"`
}

// NewDateTime returns a fixed DateTime in t's location.
func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t}
}

// NewFloating returns a floating wall-clock DateTime.
func NewFloating(year int, month time.Month, day, hour, min, sec int) DateTime {
	return DateTime{
		Time:     time.Date(year, month, day, hour, min, sec, 0, time.UTC),
		Floating: true,
	}
}

// NewDate returns an all-day DateTime.
func NewDate(year int, month time.Month, day int) DateTime {
	return DateTime{
		Time:   time.Date(year, month, day, 0, 0, 0, 0, time.UTC),
		AllDay: true,
	}
}

// IsZero reports whether the value is unset.
func (d DateTime) IsZero() bool {
	return d.Time.IsZero()
}

// IsFloating reports whether the value depends on the viewer's timezone.
// All-day values are floating dates.
func (d DateTime) IsFloating() bool {
	return d.Floating || d.AllDay
}

// In resolves the value to an absolute instant. Fixed values ignore loc.
func (d DateTime) In(loc *time.Location) time.Time {
	if !d.IsFloating() {
		return d.Time
	}
	if loc == nil {
		loc = time.UTC
	}
	t := d.Time
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// Add shifts the value, keeping its kind.
func (d DateTime) Add(delta time.Duration) DateTime {
	d.Time = d.Time.Add(delta)
	return d
}

// Sub returns d - o on the stored clock. Both values must be of the same kind
// for the result to be meaningful.
func (d DateTime) Sub(o DateTime) time.Duration {
	return d.Time.Sub(o.Time)
}

// Equal compares kind and instant (or wall clock for floating values).
func (d DateTime) Equal(o DateTime) bool {
	return d.Floating == o.Floating && d.AllDay == o.AllDay && d.Time.Equal(o.Time)
}

// Before compares on the stored clock.
func (d DateTime) Before(o DateTime) bool {
	return d.Time.Before(o.Time)
}

// Key renders the value in its canonical textual form.
func (d DateTime) Key() string {
	switch {
	case d.AllDay:
		return d.Time.Format(dateLayout)
	case d.Floating:
		return d.Time.Format(floatingLayout)
	default:
		return FormatZulu(d.Time)
	}
}

// Like returns t converted to the same kind as d. Fixed values take d's
// location so recurrence arithmetic follows its DST rules.
func (d DateTime) Like(t time.Time) DateTime {
	if d.IsFloating() {
		return DateTime{
			Time:     time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC),
			Floating: d.Floating,
			AllDay:   d.AllDay,
		}
	}
	return DateTime{Time: t.In(d.Time.Location())}
}

// RecurrenceID identifies an occurrence slot by its original, unshifted start.
type RecurrenceID struct {
	DateTime
}

// NewRecurrenceID wraps a slot start.
func NewRecurrenceID(slot DateTime) RecurrenceID {
	return RecurrenceID{DateTime: slot}
}

// String returns Key().
func (r RecurrenceID) String() string {
	return r.Key()
}

// Matches compares two recurrence ids by slot identity.
func (r RecurrenceID) Matches(o RecurrenceID) bool {
	return r.Key() == o.Key()
}

// RecurrenceKey returns the index key of rid, or "" for non-recurring instances.
func RecurrenceKey(rid *RecurrenceID) string {
	if rid == nil {
		return ""
	}
	return rid.Key()
}

// ParseRecurrenceID parses the canonical key of a recurrence id: a UTC
// timestamp, a floating wall clock or an all-day date.
func ParseRecurrenceID(key string) (RecurrenceID, error) {
	switch {
	case len(key) == len(ZuluLayout):
		t, err := ParseZulu(key)
		if err != nil {
			return RecurrenceID{}, err
		}
		return NewRecurrenceID(NewDateTime(t)), nil
	case len(key) == len(floatingLayout):
		t, err := time.Parse(floatingLayout, key)
		if err != nil {
			return RecurrenceID{}, err
		}
		return NewRecurrenceID(NewFloating(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())), nil
	case len(key) == len(dateLayout):
		t, err := time.Parse(dateLayout, key)
		if err != nil {
			return RecurrenceID{}, err
		}
		return NewRecurrenceID(NewDate(t.Year(), t.Month(), t.Day())), nil
	}
	return RecurrenceID{}, fmt.Errorf("invalid recurrence id %q", key)
}
