package models

import (
	"slices"
	"time"
)

// EditScope tells the engine which occurrences of a series an edit applies to.
type EditScope int

const (
	EntireSeries EditScope = iota
	ThisOccurrenceOnly
	ThisAndFuture
	ThisAndPrior
)

func (s EditScope) String() string {
	switch s {
	case ThisOccurrenceOnly:
		return "this_occurrence"
	case ThisAndFuture:
		return "this_and_future"
	case ThisAndPrior:
		return "this_and_prior"
	default:
		return "entire_series"
	}
}

// Attendee is an event participant
type Attendee struct {
	URI            string `json:"uri"`
	CommonName     string `json:"cn,omitempty"`
	ResponseStatus string `json:"response_status,omitempty"` // accepted, declined, tentative, needsAction
}

// Event is a stored calendar event. A series is one master (recurrence rule,
// no recurrence id) plus change exceptions sharing the master's SeriesID.
type Event struct {
	ID       string `json:"id"`
	SeriesID string `json:"series_id,omitempty"`
	FolderID string `json:"folder_id,omitempty"`
	Summary  string `json:"summary"`

	Start DateTime `json:"start"`
	End   DateTime `json:"end"`

	RecurrenceRule       string         `json:"rrule,omitempty"`
	RecurrenceID         *RecurrenceID  `json:"recurrence_id,omitempty"`
	DeleteExceptionDates []RecurrenceID `json:"delete_exception_dates,omitempty"`

	Attendees []Attendee `json:"attendees,omitempty"`
	Alarms    []Alarm    `json:"alarms,omitempty"`

	Sequence     int       `json:"sequence"`
	LastModified time.Time `json:"last_modified"`

	// Source names the external feed the event was imported from. Empty for
	// events owned by the local write path.
	Source string `json:"source,omitempty"`
}

// IsSeriesMaster returns true for the recurring master of a series.
func (e *Event) IsSeriesMaster() bool {
	return e.RecurrenceRule != "" && e.RecurrenceID == nil
}

// IsException returns true for change exceptions.
func (e *Event) IsException() bool {
	return e.RecurrenceID != nil
}

// HasAlarms returns true if the event has any configured alarms
func (e *Event) HasAlarms() bool {
	return len(e.Alarms) > 0
}

// Duration returns End - Start; events without an end last zero time, and
// all-day events without an end last one day.
func (e *Event) Duration() time.Duration {
	if e.End.IsZero() {
		if e.Start.AllDay {
			return 24 * time.Hour
		}
		return 0
	}
	return e.End.Sub(e.Start)
}

// IsDeletedOccurrence reports whether rid was removed from the series.
func (e *Event) IsDeletedOccurrence(rid RecurrenceID) bool {
	for _, d := range e.DeleteExceptionDates {
		if d.Matches(rid) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.RecurrenceID != nil {
		rid := *e.RecurrenceID
		c.RecurrenceID = &rid
	}
	c.DeleteExceptionDates = slices.Clone(e.DeleteExceptionDates)
	c.Attendees = slices.Clone(e.Attendees)
	c.Alarms = CloneAlarms(e.Alarms)
	return &c
}

// Occurrence is a derived view of one slot of a series (or a single event).
type Occurrence struct {
	SeriesID     string        `json:"series_id"`
	EventID      string        `json:"event_id"`
	RecurrenceID *RecurrenceID `json:"recurrence_id,omitempty"`
	Start        DateTime      `json:"start"`
	End          DateTime      `json:"end"`
	Alarms       []Alarm       `json:"alarms,omitempty"`
	Exception    bool          `json:"exception,omitempty"`
}

// InstanceRef addresses a single alarm instance: one alarm of one occurrence.
type InstanceRef struct {
	EventID      string
	RecurrenceID *RecurrenceID
	AlarmID      string
}

// Key returns a stable map key for the instance.
func (r InstanceRef) Key() string {
	return r.EventID + "|" + RecurrenceKey(r.RecurrenceID) + "|" + r.AlarmID
}
