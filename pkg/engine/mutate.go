package engine

import (
	"context"
	"slices"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/alarm"
	"github.com/venkytv/calendar-alarms/pkg/errs"
	"github.com/venkytv/calendar-alarms/pkg/recurrence"
)

// OnEventChanged applies a created or updated event.
//
// An event without a recurrence id creates or replaces a series master (or a
// single event). An event with a recurrence id addresses one occurrence of an
// existing series and scope decides how far the edit reaches. The event is
// copied; callers keep ownership of ev.
func (e *Engine) OnEventChanged(ctx context.Context, ev *models.Event, scope models.EditScope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.onEventChanged(ev, scope)
	e.record("event_changed", err)
	return err
}

func (e *Engine) onEventChanged(in *models.Event, scope models.EditScope) error {
	ev, err := e.prepare(in)
	if err != nil {
		return err
	}

	if ev.RecurrenceID == nil {
		seriesID, known := e.seriesOf(ev.ID)
		if !known || seriesID == ev.ID {
			return e.putMaster(ev)
		}

		// An exception addressed by its own id
		st := e.snapshot(seriesID)
		var target *models.Event
		if st != nil {
			target = st.findEvent(ev.ID)
		}
		if target == nil || target.RecurrenceID == nil {
			return errs.New(errs.CodeEventNotFound, "event not found", "event_id", ev.ID)
		}
		rid := *target.RecurrenceID
		ev.RecurrenceID = &rid
		ev.SeriesID = seriesID
		scope = models.ThisOccurrenceOnly
	}

	seriesID := ev.SeriesID
	if seriesID == "" {
		seriesID, _ = e.seriesOf(ev.ID)
	}
	if seriesID == "" {
		return errs.New(errs.CodeEventNotFound, "no series for occurrence", "event_id", ev.ID)
	}

	switch scope {
	case models.ThisOccurrenceOnly:
		return e.putException(seriesID, ev)
	case models.ThisAndFuture:
		return e.splitEdit(seriesID, ev, false)
	case models.ThisAndPrior:
		return e.splitEdit(seriesID, ev, true)
	default:
		return e.updateOne(seriesID, func(cur *seriesState) (*seriesState, error) {
			if cur == nil {
				return nil, seriesNotFound(seriesID)
			}
			rid := slotOf(cur.master, *ev.RecurrenceID)
			if err := cur.requireSlot(rid); err != nil {
				return nil, err
			}
			return e.applyFromOccurrence(cur, rid, ev)
		})
	}
}

// prepare validates an incoming event and returns an engine-owned copy.
func (e *Engine) prepare(ev *models.Event) (*models.Event, error) {
	if ev == nil {
		return nil, errs.New(errs.CodeInvalidEvent, "event is required")
	}
	if ev.ID == "" && ev.RecurrenceID == nil {
		return nil, errs.New(errs.CodeInvalidEvent, "event id is required")
	}
	if ev.Start.IsZero() {
		return nil, errs.New(errs.CodeInvalidEvent, "event start is required", "event_id", ev.ID)
	}
	if !ev.End.IsZero() && ev.End.Before(ev.Start) {
		return nil, errs.New(errs.CodeInvalidEvent, "event ends before it starts", "event_id", ev.ID)
	}

	out := ev.Clone()
	alarms, err := e.prepareAlarms(ev.ID, ev.Alarms)
	if err != nil {
		return nil, err
	}
	out.Alarms = alarms

	if err := e.guard.CheckEvent(out); err != nil {
		return nil, err
	}
	return out, nil
}

// prepareAlarms validates alarm definitions and assigns missing ids. A nil
// slice stays nil: it means "not given" to the callers that inherit alarms.
func (e *Engine) prepareAlarms(eventID string, alarms []models.Alarm) ([]models.Alarm, error) {
	if alarms == nil {
		return nil, nil
	}
	if err := e.guard.CheckAlarms(eventID, alarms); err != nil {
		return nil, err
	}

	out := models.CloneAlarms(alarms)
	seen := make(map[string]bool, len(out))
	for i := range out {
		a := &out[i]
		if !a.Action.Valid() {
			return nil, errs.New(errs.CodeInvalidEvent, "unsupported alarm action",
				"event_id", eventID,
				"action", a.Action)
		}
		if (a.Trigger.Duration == nil) == (a.Trigger.Absolute == nil) {
			return nil, errs.New(errs.CodeInvalidEvent, "alarm needs exactly one relative or absolute trigger",
				"event_id", eventID,
				"alarm_id", a.ID)
		}
		if a.ID == "" {
			a.ID = e.newID()
		}
		if seen[a.ID] {
			return nil, errs.New(errs.CodeInvalidEvent, "duplicate alarm id",
				"event_id", eventID,
				"alarm_id", a.ID)
		}
		seen[a.ID] = true
	}
	return out, nil
}

func (e *Engine) inUse(eventID string) bool {
	_, ok := e.seriesOf(eventID)
	return ok
}

func (e *Engine) putMaster(ev *models.Event) error {
	return e.updateOne(ev.ID, func(cur *seriesState) (*seriesState, error) {
		ev.SeriesID = ev.ID
		if cur == nil {
			ev.LastModified = e.now().UTC()
			if err := recurrence.Validate(ev, e.guard.MaxOccurrences()); err != nil {
				return nil, err
			}
			return newSeriesState(ev), nil
		}
		// nil alarms leave the master's alarms as they are; an empty slice
		// clears them.
		if ev.Alarms == nil {
			ev.Alarms = models.CloneAlarms(cur.master.Alarms)
		}
		return e.replaceMaster(cur, ev)
	})
}

// replaceMaster installs next as the master of cur's series. When the start
// moves under an unchanged rule, exceptions and deleted slots move with it;
// when the rule changes, the ones that are no longer slots are dropped.
// Master alarm edits are propagated to every exception.
func (e *Engine) replaceMaster(cur *seriesState, next *models.Event) (*seriesState, error) {
	old := cur.master
	next.ID, next.SeriesID = old.ID, old.ID
	next.RecurrenceID = nil
	if next.Sequence <= old.Sequence {
		next.Sequence = old.Sequence + 1
	}
	next.LastModified = e.now().UTC()

	inherited := next.DeleteExceptionDates == nil
	if inherited {
		next.DeleteExceptionDates = slices.Clone(old.DeleteExceptionDates)
	}
	if err := recurrence.Validate(next, e.guard.MaxOccurrences()); err != nil {
		return nil, err
	}

	s := cur.clone()
	s.master = next
	s.exceptions = make(map[string]*models.Event, len(cur.exceptions))

	if !next.IsSeriesMaster() {
		next.DeleteExceptionDates = nil
		s.acks, s.snoozes = make(map[string]ackState), make(map[string]snoozeState)
		for k, a := range cur.acks {
			if a.RecurrenceID == nil {
				s.acks[k] = a
			}
		}
		for k, sn := range cur.snoozes {
			if sn.RecurrenceID == nil {
				s.snoozes[k] = sn
			}
		}
		s.prune()
		return s, nil
	}

	var delta time.Duration
	remap := old.RecurrenceRule != next.RecurrenceRule || !sameKind(old.Start, next.Start)
	if !remap {
		delta = next.Start.Sub(old.Start)
	}
	moved := remap || delta != 0

	mapRID := func(rid models.RecurrenceID) (models.RecurrenceID, bool, error) {
		if !moved {
			return rid, true, nil
		}
		r := slotOf(next, models.NewRecurrenceID(rid.Add(delta)))
		ok, err := recurrence.HasSlot(next, r)
		return r, ok, err
	}

	if moved && inherited {
		var kept []models.RecurrenceID
		for _, d := range next.DeleteExceptionDates {
			r, ok, err := mapRID(d)
			if err != nil {
				return nil, err
			}
			if ok {
				kept = append(kept, r)
			}
		}
		next.DeleteExceptionDates = kept
	}

	alarmsChanged := alarm.Diverged(old.Alarms, next.Alarms)
	for _, ex := range cur.sortedExceptions() {
		rid, ok, err := mapRID(*ex.RecurrenceID)
		if err != nil {
			return nil, err
		}
		if !ok || next.IsDeletedOccurrence(rid) {
			e.logger.Info("Dropping exception that no longer matches its series",
				"series_id", old.ID,
				"event_id", ex.ID,
				"recurrence_id", ex.RecurrenceID.Key())
			s.dropInstances(ex.ID)
			continue
		}

		nex := ex
		if moved || alarmsChanged {
			nex = ex.Clone()
			if moved {
				if delta != 0 && ex.Start.Equal(ex.RecurrenceID.DateTime) {
					nex.Start = nex.Start.Add(delta)
					if !nex.End.IsZero() {
						nex.End = nex.End.Add(delta)
					}
				}
				nex.RecurrenceID = &rid
			}
			if alarmsChanged {
				nex.Alarms = alarm.Propagate(old.Alarms, next.Alarms, ex.Alarms, e.newID)
				if err := e.guard.CheckAlarms(nex.ID, nex.Alarms); err != nil {
					return nil, err
				}
			}
			nex.Sequence++
			nex.LastModified = next.LastModified
		}
		s.exceptions[rid.Key()] = nex
	}

	if moved {
		// Master-governed records are keyed by the old slots
		s.dropOccurrences(func(models.RecurrenceID) bool { return true })
	}
	s.prune()
	return s, nil
}

// applyFromOccurrence applies an occurrence-addressed edit to the whole
// series: the master moves by the same amount the occurrence moved.
func (e *Engine) applyFromOccurrence(cur *seriesState, rid models.RecurrenceID, ev *models.Event) (*seriesState, error) {
	master := cur.master
	delta := master.Start.Like(ev.Start.Time).Sub(rid.DateTime)

	next := master.Clone()
	next.Start = master.Start.Add(delta)
	duration := master.Duration()
	if !ev.End.IsZero() {
		duration = ev.Duration()
	}
	if !master.End.IsZero() || !ev.End.IsZero() {
		next.End = next.Start.Add(duration)
	}
	if ev.Summary != "" {
		next.Summary = ev.Summary
	}
	if ev.Attendees != nil {
		next.Attendees = ev.Attendees
	}
	if ev.Alarms != nil {
		next.Alarms = ev.Alarms
	}
	next.DeleteExceptionDates = nil
	return e.replaceMaster(cur, next)
}

func (e *Engine) putException(seriesID string, ev *models.Event) error {
	return e.updateOne(seriesID, func(cur *seriesState) (*seriesState, error) {
		if cur == nil {
			return nil, seriesNotFound(seriesID)
		}
		master := cur.master
		rid := slotOf(master, *ev.RecurrenceID)
		if err := cur.requireSlot(rid); err != nil {
			return nil, err
		}

		ex := ev
		ex.SeriesID = master.ID
		ex.RecurrenceID = &rid
		ex.RecurrenceRule = ""
		ex.DeleteExceptionDates = nil
		ex.LastModified = e.now().UTC()
		if ex.Source == "" {
			ex.Source = master.Source
		}

		existing := cur.exceptions[rid.Key()]
		if existing != nil {
			ex.ID = existing.ID
			if ex.Sequence <= existing.Sequence {
				ex.Sequence = existing.Sequence + 1
			}
			if ex.Alarms == nil {
				ex.Alarms = models.CloneAlarms(existing.Alarms)
			}
		} else {
			if ex.ID == "" || ex.ID == master.ID || e.inUse(ex.ID) {
				ex.ID = e.newID()
			}
			if ex.Alarms == nil {
				ex.Alarms = alarm.Inherit(master.Alarms, e.newID)
			}
		}

		s := cur.clone()
		s.exceptions[rid.Key()] = ex
		if existing == nil {
			s.adoptRecords(ex)
		}
		s.prune()
		return s, nil
	})
}

// splitEdit applies a ThisAndFuture (or ThisAndPrior) edit. The edited part
// becomes a new series with its own id; the remainder keeps the original id.
func (e *Engine) splitEdit(seriesID string, ev *models.Event, prior bool) error {
	detachedID := ev.ID
	if detachedID == "" || detachedID == seriesID || e.inUse(detachedID) {
		detachedID = e.newID()
	}

	return e.update([]string{seriesID, detachedID}, func(cur map[string]*seriesState) (map[string]*seriesState, error) {
		st := cur[seriesID]
		if st == nil {
			return nil, seriesNotFound(seriesID)
		}
		master := st.master
		if !master.IsSeriesMaster() {
			return nil, occurrenceNotFound(master.ID, ev.RecurrenceID)
		}
		rid := slotOf(master, *ev.RecurrenceID)
		if master.IsDeletedOccurrence(rid) {
			return nil, occurrenceNotFound(master.ID, &rid)
		}

		var (
			sp  recurrence.Split
			err error
		)
		if prior {
			sp, err = recurrence.SplitPrior(master, rid)
		} else {
			sp, err = recurrence.SplitFuture(master, rid)
		}
		if err != nil {
			return nil, err
		}
		if (!prior && sp.HeadEmpty) || (prior && sp.TailEmpty) {
			// The edit covers the whole series
			next, err := e.applyFromOccurrence(st, rid, ev)
			if err != nil {
				return nil, err
			}
			return map[string]*seriesState{seriesID: next}, nil
		}

		now := e.now().UTC()
		start := master.Start.Like(ev.Start.Time)
		delta := start.Sub(rid.DateTime)
		duration := master.Duration()
		if !ev.End.IsZero() {
			duration = ev.Duration()
		}

		detached := ev
		detached.ID, detached.SeriesID = detachedID, detachedID
		detached.RecurrenceID = nil
		detached.DeleteExceptionDates = nil
		detached.Sequence = 0
		detached.LastModified = now
		detached.Source = master.Source
		if detached.FolderID == "" {
			detached.FolderID = master.FolderID
		}
		if detached.Summary == "" {
			detached.Summary = master.Summary
		}
		if detached.Attendees == nil {
			detached.Attendees = slices.Clone(master.Attendees)
		}
		if detached.Alarms == nil {
			detached.Alarms = alarm.Inherit(master.Alarms, e.newID)
		}

		rest := master.Clone()
		rest.Sequence++
		rest.LastModified = now
		rest.DeleteExceptionDates = nil

		inDetached := func(r models.RecurrenceID) bool {
			if prior {
				return !rid.Before(r.DateTime)
			}
			return !r.Before(rid.DateTime)
		}

		if prior {
			detached.Start = master.Start.Add(delta)
			detached.RecurrenceRule = sp.Head
			rest.Start = sp.TailStart
			if !master.End.IsZero() {
				rest.End = sp.TailStart.Add(master.Duration())
			}
			rest.RecurrenceRule = sp.Tail
		} else {
			detached.Start = start
			detached.RecurrenceRule = sp.Tail
			rest.RecurrenceRule = sp.Head
		}
		detached.End = detached.Start.Add(duration)
		// The detached slots all moved by delta, and so must its UNTIL.
		if detached.RecurrenceRule, err = recurrence.ShiftUntil(detached.RecurrenceRule, detached.Start, delta); err != nil {
			return nil, err
		}

		for _, d := range master.DeleteExceptionDates {
			if inDetached(d) {
				detached.DeleteExceptionDates = append(detached.DeleteExceptionDates, models.NewRecurrenceID(d.Add(delta)))
			} else {
				rest.DeleteExceptionDates = append(rest.DeleteExceptionDates, d)
			}
		}

		limit := e.guard.MaxOccurrences()
		if err := recurrence.Validate(rest, limit); err != nil {
			return nil, err
		}
		if err := recurrence.Validate(detached, limit); err != nil {
			return nil, err
		}

		restState := st.clone()
		restState.master = rest
		restState.exceptions = make(map[string]*models.Event, len(st.exceptions))
		detachedState := newSeriesState(detached)

		for _, ex := range st.sortedExceptions() {
			r := *ex.RecurrenceID
			if !inDetached(r) {
				restState.exceptions[r.Key()] = ex
				continue
			}
			restState.dropInstances(ex.ID)
			if r.Matches(rid) {
				// superseded by the edit itself
				continue
			}

			nex := ex.Clone()
			nr := models.NewRecurrenceID(r.Add(delta))
			if delta != 0 && ex.Start.Equal(r.DateTime) {
				nex.Start = nex.Start.Add(delta)
				if !nex.End.IsZero() {
					nex.End = nex.End.Add(delta)
				}
			}
			nex.SeriesID = detachedID
			nex.RecurrenceID = &nr
			nex.Alarms = alarm.Propagate(master.Alarms, detached.Alarms, ex.Alarms, e.newID)
			nex.LastModified = now
			if err := e.guard.CheckAlarms(nex.ID, nex.Alarms); err != nil {
				return nil, err
			}
			detachedState.exceptions[nr.Key()] = nex
		}
		restState.dropOccurrences(inDetached)
		restState.prune()

		scope := models.ThisAndFuture
		if prior {
			scope = models.ThisAndPrior
		}
		e.logger.Debug("Split series",
			"series_id", seriesID,
			"detached_id", detachedID,
			"recurrence_id", rid.Key(),
			"scope", scope.String())

		return map[string]*seriesState{seriesID: restState, detachedID: detachedState}, nil
	})
}

// OnEventDeleted removes an event or some of its occurrences. Deleting a
// master without a recurrence id, or with scope EntireSeries, removes the
// whole series. An exception addressed by its own id deletes its occurrence.
func (e *Engine) OnEventDeleted(ctx context.Context, eventID string, rid *models.RecurrenceID, scope models.EditScope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.onEventDeleted(eventID, rid, scope)
	e.record("event_deleted", err)
	return err
}

func (e *Engine) onEventDeleted(eventID string, rid *models.RecurrenceID, scope models.EditScope) error {
	seriesID, ok := e.seriesOf(eventID)
	if !ok {
		return errs.New(errs.CodeEventNotFound, "event not found", "event_id", eventID)
	}

	return e.updateOne(seriesID, func(cur *seriesState) (*seriesState, error) {
		if cur == nil {
			return nil, seriesNotFound(seriesID)
		}
		target := cur.findEvent(eventID)
		if target == nil {
			return nil, errs.New(errs.CodeEventNotFound, "event not found", "event_id", eventID)
		}
		master := cur.master

		if target.IsException() {
			if rid == nil {
				if scope == models.EntireSeries {
					scope = models.ThisOccurrenceOnly
				}
				rid = target.RecurrenceID
			} else if !rid.Matches(*target.RecurrenceID) {
				return nil, occurrenceNotFound(target.ID, rid)
			}
		}
		if rid == nil || scope == models.EntireSeries {
			return nil, nil
		}
		if !master.IsSeriesMaster() {
			return nil, occurrenceNotFound(master.ID, rid)
		}

		r := slotOf(master, *rid)
		if err := cur.requireSlot(r); err != nil {
			return nil, err
		}

		next := master.Clone()
		next.Sequence++
		next.LastModified = e.now().UTC()

		var keep func(models.RecurrenceID) bool
		switch scope {
		case models.ThisAndFuture:
			sp, err := recurrence.SplitFuture(master, r)
			if err != nil {
				return nil, err
			}
			if sp.HeadEmpty {
				return nil, nil
			}
			next.RecurrenceRule = sp.Head
			keep = func(x models.RecurrenceID) bool { return x.Before(r.DateTime) }
		case models.ThisAndPrior:
			sp, err := recurrence.SplitPrior(master, r)
			if err != nil {
				return nil, err
			}
			if sp.TailEmpty {
				return nil, nil
			}
			next.Start = sp.TailStart
			if !master.End.IsZero() {
				next.End = sp.TailStart.Add(master.Duration())
			}
			next.RecurrenceRule = sp.Tail
			keep = func(x models.RecurrenceID) bool { return r.Before(x.DateTime) }
		default:
			next.DeleteExceptionDates = append(next.DeleteExceptionDates, r)
			keep = func(x models.RecurrenceID) bool { return !x.Matches(r) }
		}

		if scope != models.ThisOccurrenceOnly {
			next.DeleteExceptionDates = slices.DeleteFunc(next.DeleteExceptionDates, func(d models.RecurrenceID) bool {
				return !keep(d)
			})
		}

		s := cur.clone()
		s.master = next
		s.keepExceptions(keep)
		s.dropOccurrences(func(x models.RecurrenceID) bool { return !keep(x) })
		s.prune()
		return s, nil
	})
}

// DeleteException removes a change exception and restores the regular
// occurrence at its slot.
func (e *Engine) DeleteException(ctx context.Context, seriesID string, rid models.RecurrenceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.updateOne(seriesID, func(cur *seriesState) (*seriesState, error) {
		if cur == nil {
			return nil, seriesNotFound(seriesID)
		}
		r := slotOf(cur.master, rid)
		ex, ok := cur.exceptions[r.Key()]
		if !ok {
			return nil, occurrenceNotFound(seriesID, &r)
		}
		s := cur.clone()
		delete(s.exceptions, r.Key())
		s.dropInstances(ex.ID)
		return s, nil
	})
	e.record("exception_deleted", err)
	return err
}

// OnAttendeeAlarmsChanged replaces the alarms of an event or of one
// occurrence. Addressing an occurrence of a master that has no exception
// there creates one. A master-level change is propagated to the exceptions.
func (e *Engine) OnAttendeeAlarmsChanged(ctx context.Context, eventID string, rid *models.RecurrenceID, alarms []models.Alarm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.onAlarmsChanged(eventID, rid, alarms)
	e.record("alarms_changed", err)
	return err
}

func (e *Engine) onAlarmsChanged(eventID string, rid *models.RecurrenceID, in []models.Alarm) error {
	if in == nil {
		in = []models.Alarm{}
	}
	alarms, err := e.prepareAlarms(eventID, in)
	if err != nil {
		return err
	}
	seriesID, ok := e.seriesOf(eventID)
	if !ok {
		return errs.New(errs.CodeEventNotFound, "event not found", "event_id", eventID)
	}

	return e.updateOne(seriesID, func(cur *seriesState) (*seriesState, error) {
		if cur == nil {
			return nil, seriesNotFound(seriesID)
		}
		target := cur.findEvent(eventID)
		if target == nil {
			return nil, errs.New(errs.CodeEventNotFound, "event not found", "event_id", eventID)
		}
		master := cur.master
		now := e.now().UTC()

		if target.IsException() {
			if rid != nil && !rid.Matches(*target.RecurrenceID) {
				return nil, occurrenceNotFound(target.ID, rid)
			}
			return cur.withExceptionAlarms(target, alarms, now), nil
		}
		if rid == nil {
			next := master.Clone()
			next.Alarms = alarms
			return e.replaceMaster(cur, next)
		}
		if !master.IsSeriesMaster() {
			return nil, occurrenceNotFound(master.ID, rid)
		}

		r := slotOf(master, *rid)
		if err := cur.requireSlot(r); err != nil {
			return nil, err
		}
		if ex, ok := cur.exceptions[r.Key()]; ok {
			return cur.withExceptionAlarms(ex, alarms, now), nil
		}

		ex := &models.Event{
			ID:           e.newID(),
			SeriesID:     master.ID,
			FolderID:     master.FolderID,
			Summary:      master.Summary,
			Start:        r.DateTime,
			End:          occurrenceEnd(master, r.DateTime),
			RecurrenceID: &r,
			Attendees:    slices.Clone(master.Attendees),
			Alarms:       alarms,
			LastModified: now,
			Source:       master.Source,
		}
		s := cur.clone()
		s.exceptions[r.Key()] = ex
		s.adoptRecords(ex)
		s.prune()
		return s, nil
	})
}

func (s *seriesState) withExceptionAlarms(ex *models.Event, alarms []models.Alarm, now time.Time) *seriesState {
	nex := ex.Clone()
	nex.Alarms = alarms
	nex.Sequence++
	nex.LastModified = now

	next := s.clone()
	next.exceptions[nex.RecurrenceID.Key()] = nex
	next.prune()
	return next
}

// requireSlot checks that rid addresses a live occurrence of the series.
func (s *seriesState) requireSlot(rid models.RecurrenceID) error {
	master := s.master
	if !master.IsSeriesMaster() || master.IsDeletedOccurrence(rid) {
		return occurrenceNotFound(master.ID, &rid)
	}
	if _, ok := s.exceptions[rid.Key()]; ok {
		return nil
	}
	ok, err := recurrence.HasSlot(master, rid)
	if err != nil {
		return err
	}
	if !ok {
		return occurrenceNotFound(master.ID, &rid)
	}
	return nil
}

// slotOf converts rid to the kind and zone of master's start.
func slotOf(master *models.Event, rid models.RecurrenceID) models.RecurrenceID {
	return models.NewRecurrenceID(master.Start.Like(rid.Time))
}

func sameKind(a, b models.DateTime) bool {
	return a.Floating == b.Floating && a.AllDay == b.AllDay
}

func seriesNotFound(seriesID string) *errs.Error {
	return errs.New(errs.CodeEventNotFound, "series not found", "series_id", seriesID)
}
