package models

import (
	"time"
)

// Trigger is a pending alarm firing for one occurrence.
type Trigger struct {
	EventID      string        `json:"event_id"`
	SeriesID     string        `json:"series_id,omitempty"`
	RecurrenceID *RecurrenceID `json:"recurrence_id,omitempty"`
	AlarmID      string        `json:"alarm_id"`
	Action       AlarmAction   `json:"action"`
	Time         time.Time     `json:"time"`

	// Snoozed marks triggers produced by a snooze of AlarmID.
	Snoozed bool `json:"snoozed,omitempty"`
	// Stale marks triggers of feed-backed series whose last refresh failed.
	Stale bool `json:"stale,omitempty"`

	Summary string `json:"summary,omitempty"`
}

// Zulu renders the trigger instant as yyyyMMdd'T'HHmmss'Z'.
func (t *Trigger) Zulu() string {
	return FormatZulu(t.Time)
}

// Ref returns the instance the trigger belongs to.
func (t *Trigger) Ref() InstanceRef {
	return InstanceRef{EventID: t.EventID, RecurrenceID: t.RecurrenceID, AlarmID: t.AlarmID}
}

// Less orders triggers by time, then event id, then alarm id, then recurrence id.
func (t *Trigger) Less(o *Trigger) bool {
	if !t.Time.Equal(o.Time) {
		return t.Time.Before(o.Time)
	}
	if t.EventID != o.EventID {
		return t.EventID < o.EventID
	}
	if t.AlarmID != o.AlarmID {
		return t.AlarmID < o.AlarmID
	}
	return RecurrenceKey(t.RecurrenceID) < RecurrenceKey(o.RecurrenceID)
}

// Notification represents the message format sent to NATS
type Notification struct {
	EventID      string      `json:"event_id"`
	RecurrenceID string      `json:"recurrence_id,omitempty"`
	AlarmID      string      `json:"alarm_id"`
	Action       AlarmAction `json:"action"`
	Title        string      `json:"title"`
	When         string      `json:"when"`
	Snoozed      bool        `json:"snoozed,omitempty"`
	Stale        bool        `json:"stale,omitempty"`
}

// NewNotification creates a Notification from a Trigger
func NewNotification(trigger *Trigger) *Notification {
	return &Notification{
		EventID:      trigger.EventID,
		RecurrenceID: RecurrenceKey(trigger.RecurrenceID),
		AlarmID:      trigger.AlarmID,
		Action:       trigger.Action,
		Title:        trigger.Summary,
		When:         trigger.Zulu(),
		Snoozed:      trigger.Snoozed,
		Stale:        trigger.Stale,
	}
}
