package models

import (
	"slices"
	"time"
)

// AlarmAction is the kind of reminder an alarm produces.
type AlarmAction string

const (
	ActionDisplay AlarmAction = "DISPLAY"
	ActionEmail   AlarmAction = "EMAIL"
	ActionAudio   AlarmAction = "AUDIO"
)

// Valid reports whether the action is one the engine understands.
func (a AlarmAction) Valid() bool {
	switch a {
	case ActionDisplay, ActionEmail, ActionAudio:
		return true
	}
	return false
}

// TriggerRelation selects the occurrence boundary a relative trigger is anchored to.
type TriggerRelation string

const (
	RelatedStart TriggerRelation = "START"
	RelatedEnd   TriggerRelation = "END"
)

// TriggerSpec is either a signed duration relative to start/end or an absolute instant.
type TriggerSpec struct {
	Related  TriggerRelation `json:"related,omitempty"`
	Duration *Duration       `json:"duration,omitempty"`
	Absolute *time.Time      `json:"absolute,omitempty"`
}

// Before returns a trigger d before the occurrence start.
func Before(d time.Duration) TriggerSpec {
	dur := FromDuration(-d)
	return TriggerSpec{Related: RelatedStart, Duration: &dur}
}

// RelativeTo returns a relative trigger with the given duration literal, e.g. "-PT15M".
func RelativeTo(related TriggerRelation, d Duration) TriggerSpec {
	return TriggerSpec{Related: related, Duration: &d}
}

// At returns an absolute trigger.
func At(t time.Time) TriggerSpec {
	t = t.UTC()
	return TriggerSpec{Absolute: &t}
}

// IsAbsolute reports whether the trigger ignores occurrence times.
func (t TriggerSpec) IsAbsolute() bool {
	return t.Absolute != nil
}

// Relation returns the anchor, defaulting to START.
func (t TriggerSpec) Relation() TriggerRelation {
	if t.Related == RelatedEnd {
		return RelatedEnd
	}
	return RelatedStart
}

// Alarm is an alarm definition attached to one event (master or exception).
type Alarm struct {
	ID          string      `json:"id"`
	Action      AlarmAction `json:"action"`
	Trigger     TriggerSpec `json:"trigger"`
	Description string      `json:"description,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	AttachURI   string      `json:"attach_uri,omitempty"`
	Recipients  []string    `json:"recipients,omitempty"`
}

// AlarmKey is the comparison identity of an alarm: action plus trigger spec.
// Ids differ between a master and its exception copies, so keys are used
// whenever alarms of different events are matched against each other.
type AlarmKey struct {
	Action   AlarmAction
	Related  TriggerRelation
	Duration string
	Absolute string
}

// Key returns the alarm's comparison identity.
func (a *Alarm) Key() AlarmKey {
	k := AlarmKey{Action: a.Action}
	switch {
	case a.Trigger.Absolute != nil:
		k.Absolute = FormatZulu(*a.Trigger.Absolute)
	case a.Trigger.Duration != nil:
		k.Related = a.Trigger.Relation()
		k.Duration = a.Trigger.Duration.String()
	}
	return k
}

// Clone returns a deep copy.
func (a Alarm) Clone() Alarm {
	if a.Trigger.Duration != nil {
		d := *a.Trigger.Duration
		a.Trigger.Duration = &d
	}
	if a.Trigger.Absolute != nil {
		t := *a.Trigger.Absolute
		a.Trigger.Absolute = &t
	}
	a.Recipients = slices.Clone(a.Recipients)
	return a
}

// CloneAlarms deep-copies a slice, preserving nil.
func CloneAlarms(alarms []Alarm) []Alarm {
	if alarms == nil {
		return nil
	}
	out := make([]Alarm, len(alarms))
	for i := range alarms {
		out[i] = alarms[i].Clone()
	}
	return out
}

// FindAlarm returns the alarm with the given id.
func FindAlarm(alarms []Alarm, id string) (*Alarm, bool) {
	for i := range alarms {
		if alarms[i].ID == id {
			return &alarms[i], true
		}
	}
	return nil, false
}
