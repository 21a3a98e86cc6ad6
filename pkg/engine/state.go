package engine

import (
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
	"github.com/venkytv/calendar-alarms/pkg/recurrence"
)

// seriesState is an immutable snapshot of one series. Mutations clone it,
// change the clone, and publish the clone.
type seriesState struct {
	master     *models.Event
	exceptions map[string]*models.Event // by recurrence id key
	acks       map[string]ackState      // by instance key
	snoozes    map[string]snoozeState   // by instance key
	version    uint64
}

// ackState records that an alarm instance was handled. It only applies while
// the instance's schedule still matches the fingerprint.
type ackState struct {
	EventID      string
	AlarmID      string
	RecurrenceID *models.RecurrenceID
	Fingerprint  string
	AckedAt      time.Time
}

// snoozeState replaces the trigger of an alarm instance.
type snoozeState struct {
	EventID      string
	AlarmID      string
	RecurrenceID *models.RecurrenceID
	Fingerprint  string
	TriggerAt    time.Time
	// Chain lists the superseded trigger instants, oldest first.
	Chain []time.Time
}

func newSeriesState(master *models.Event) *seriesState {
	return &seriesState{
		master:     master,
		exceptions: make(map[string]*models.Event),
		acks:       make(map[string]ackState),
		snoozes:    make(map[string]snoozeState),
	}
}

func (s *seriesState) clone() *seriesState {
	return &seriesState{
		master:     s.master,
		exceptions: maps.Clone(s.exceptions),
		acks:       maps.Clone(s.acks),
		snoozes:    maps.Clone(s.snoozes),
	}
}

func (s *seriesState) eventIDs() []string {
	ids := []string{s.master.ID}
	for _, ex := range s.exceptions {
		ids = append(ids, ex.ID)
	}
	return ids
}

func (s *seriesState) findEvent(id string) *models.Event {
	if s.master.ID == id {
		return s.master
	}
	for _, ex := range s.exceptions {
		if ex.ID == id {
			return ex
		}
	}
	return nil
}

func (s *seriesState) sortedExceptions() []*models.Event {
	keys := make([]string, 0, len(s.exceptions))
	for k := range s.exceptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*models.Event, len(keys))
	for i, k := range keys {
		out[i] = s.exceptions[k]
	}
	return out
}

// prune drops acknowledgement and snooze records whose event or alarm is gone.
func (s *seriesState) prune() {
	valid := func(eventID, alarmID string) bool {
		ev := s.findEvent(eventID)
		if ev == nil {
			return false
		}
		_, ok := models.FindAlarm(ev.Alarms, alarmID)
		return ok
	}
	for k, a := range s.acks {
		if !valid(a.EventID, a.AlarmID) {
			delete(s.acks, k)
		}
	}
	for k, sn := range s.snoozes {
		if !valid(sn.EventID, sn.AlarmID) {
			delete(s.snoozes, k)
		}
	}
}

// dropInstances removes all acknowledgement and snooze records of an event.
func (s *seriesState) dropInstances(eventID string) {
	for k, a := range s.acks {
		if a.EventID == eventID {
			delete(s.acks, k)
		}
	}
	for k, sn := range s.snoozes {
		if sn.EventID == eventID {
			delete(s.snoozes, k)
		}
	}
}

// dropOccurrences removes the records of master-governed occurrences whose
// recurrence id matches drop.
func (s *seriesState) dropOccurrences(drop func(rid models.RecurrenceID) bool) {
	for k, a := range s.acks {
		if a.EventID == s.master.ID && a.RecurrenceID != nil && drop(*a.RecurrenceID) {
			delete(s.acks, k)
		}
	}
	for k, sn := range s.snoozes {
		if sn.EventID == s.master.ID && sn.RecurrenceID != nil && drop(*sn.RecurrenceID) {
			delete(s.snoozes, k)
		}
	}
}

// keepExceptions removes the exceptions whose recurrence id fails keep.
func (s *seriesState) keepExceptions(keep func(models.RecurrenceID) bool) {
	for k, ex := range s.exceptions {
		if !keep(*ex.RecurrenceID) {
			delete(s.exceptions, k)
			s.dropInstances(ex.ID)
		}
	}
}

// adoptRecords moves the acknowledgement and snooze records of the
// master-governed occurrence at ex's slot onto ex, matching alarms by key.
// Records keep their fingerprint, so they only survive when ex fires on the
// same schedule.
func (s *seriesState) adoptRecords(ex *models.Event) {
	master := s.master
	rid := *ex.RecurrenceID
	for i := range master.Alarms {
		ma := &master.Alarms[i]
		oldKey := models.InstanceRef{EventID: master.ID, RecurrenceID: &rid, AlarmID: ma.ID}.Key()
		a, acked := s.acks[oldKey]
		sn, snoozed := s.snoozes[oldKey]
		if !acked && !snoozed {
			continue
		}
		delete(s.acks, oldKey)
		delete(s.snoozes, oldKey)

		var target *models.Alarm
		for j := range ex.Alarms {
			if ex.Alarms[j].Key() == ma.Key() {
				target = &ex.Alarms[j]
				break
			}
		}
		if target == nil {
			continue
		}
		newKey := models.InstanceRef{EventID: ex.ID, RecurrenceID: &rid, AlarmID: target.ID}.Key()
		if acked {
			a.EventID, a.AlarmID = ex.ID, target.ID
			s.acks[newKey] = a
		}
		if snoozed {
			sn.EventID, sn.AlarmID = ex.ID, target.ID
			s.snoozes[newKey] = sn
		}
	}
}

// instance is a resolved alarm instance.
type instance struct {
	owner       *models.Event
	rid         *models.RecurrenceID
	start, end  models.DateTime
	alarm       *models.Alarm
	ref         models.InstanceRef
	fingerprint string
}

func (i *instance) key() string {
	return i.ref.Key()
}

// fingerprint identifies the schedule an instance fires for. Moving the
// occurrence or changing the alarm's trigger yields a new fingerprint, which
// turns the instance back into a pending one.
func fingerprint(start, end models.DateTime, a *models.Alarm) string {
	key := a.Key()
	if a.Trigger.IsAbsolute() {
		return fmt.Sprintf("%s/%s", key.Action, key.Absolute)
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", start.Key(), end.Key(), key.Action, key.Related, key.Duration)
}

// occurrenceEnd returns the end of an occurrence of ev starting at start.
func occurrenceEnd(ev *models.Event, start models.DateTime) models.DateTime {
	return start.Add(ev.Duration())
}

// resolve locates the alarm instance addressed by ref.
func (s *seriesState) resolve(ref models.InstanceRef) (*instance, error) {
	owner := s.findEvent(ref.EventID)
	if owner == nil {
		return nil, errs.New(errs.CodeEventNotFound, "event not found", "event_id", ref.EventID)
	}

	inst := &instance{owner: owner}
	master := s.master

	switch {
	case owner == master && master.IsSeriesMaster():
		if ref.RecurrenceID == nil {
			// Absolute alarms of a master fire once for the whole series.
			a, ok := models.FindAlarm(owner.Alarms, ref.AlarmID)
			if ok && a.Trigger.IsAbsolute() {
				inst.start, inst.end = master.Start, occurrenceEnd(master, master.Start)
				break
			}
			return nil, occurrenceNotFound(master.ID, nil)
		}
		rid := *ref.RecurrenceID
		if master.IsDeletedOccurrence(rid) {
			return nil, occurrenceNotFound(master.ID, &rid)
		}
		if ex, ok := s.exceptions[rid.Key()]; ok {
			inst.owner = ex
			inst.rid = ex.RecurrenceID
			inst.start, inst.end = ex.Start, exceptionEnd(ex)
			break
		}
		slot, err := recurrence.HasSlot(master, rid)
		if err != nil {
			return nil, err
		}
		if !slot {
			return nil, occurrenceNotFound(master.ID, &rid)
		}
		r := models.NewRecurrenceID(master.Start.Like(rid.Time))
		inst.rid = &r
		inst.start = r.DateTime
		inst.end = occurrenceEnd(master, r.DateTime)

	case owner.IsException():
		if ref.RecurrenceID != nil && !ref.RecurrenceID.Matches(*owner.RecurrenceID) {
			return nil, occurrenceNotFound(owner.ID, ref.RecurrenceID)
		}
		if master.IsDeletedOccurrence(*owner.RecurrenceID) {
			return nil, occurrenceNotFound(master.ID, owner.RecurrenceID)
		}
		inst.rid = owner.RecurrenceID
		inst.start, inst.end = owner.Start, exceptionEnd(owner)

	default:
		if ref.RecurrenceID != nil {
			return nil, occurrenceNotFound(owner.ID, ref.RecurrenceID)
		}
		inst.start, inst.end = owner.Start, exceptionEnd(owner)
	}

	a, ok := models.FindAlarm(inst.owner.Alarms, ref.AlarmID)
	if !ok {
		return nil, errs.New(errs.CodeAlarmNotFound, "alarm not found on the addressed event",
			"event_id", inst.owner.ID,
			"alarm_id", ref.AlarmID)
	}
	if inst.owner == master && master.IsSeriesMaster() && a.Trigger.IsAbsolute() {
		inst.rid = nil
		inst.start, inst.end = master.Start, occurrenceEnd(master, master.Start)
	}

	inst.alarm = a
	inst.ref = models.InstanceRef{EventID: inst.owner.ID, RecurrenceID: inst.rid, AlarmID: a.ID}
	inst.fingerprint = fingerprint(inst.start, inst.end, a)
	return inst, nil
}

func exceptionEnd(ev *models.Event) models.DateTime {
	if ev.End.IsZero() {
		return ev.Start.Add(ev.Duration())
	}
	return ev.End
}

func occurrenceNotFound(eventID string, rid *models.RecurrenceID) *errs.Error {
	return errs.New(errs.CodeOccurrenceNotFound, "occurrence not found",
		"event_id", eventID,
		"recurrence_id", models.RecurrenceKey(rid))
}
