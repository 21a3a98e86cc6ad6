package engine

import (
	"context"
	"sort"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/alarm"
	"github.com/venkytv/calendar-alarms/pkg/errs"
	"github.com/venkytv/calendar-alarms/pkg/recurrence"
)

// expansionSlack widens expansion windows beyond the nominal alarm reach to
// absorb DST transitions inside day-based offsets.
const expansionSlack = 2 * time.Hour

// QueryOptions selects the triggers returned by Query.
type QueryOptions struct {
	// Until is the exclusive upper bound of trigger instants. Required.
	Until time.Time
	// From is the inclusive lower bound. Zero means unbounded.
	From time.Time
	// Actions restricts the alarm actions. Empty means all.
	Actions []models.AlarmAction
	// EventIDs restricts the result to triggers of these events or series.
	EventIDs []string
	// Location resolves floating and all-day events. Nil uses the engine default.
	Location *time.Location
}

type cacheKey struct {
	seriesID    string
	version     uint64
	from, until int64
}

type candidate struct {
	state *seriesState
	stale bool
}

// Query returns the pending triggers in [From, Until), ordered by time. Every
// occurrence contributes at most one trigger per alarm: acknowledged
// instances are skipped, snoozed instances appear at their snoozed time.
// The query fails as a whole when a series expands to more occurrences than
// allowed.
func (e *Engine) Query(ctx context.Context, opts QueryOptions) ([]*models.Trigger, error) {
	began := time.Now()
	if opts.Until.IsZero() {
		return nil, errs.New(errs.CodeInvalidArgument, "query needs an upper bound")
	}
	if !opts.From.IsZero() && !opts.From.Before(opts.Until) {
		return []*models.Trigger{}, nil
	}
	loc := opts.Location
	if loc == nil {
		loc = e.config.Location
	}

	var actions map[models.AlarmAction]bool
	if len(opts.Actions) > 0 {
		actions = make(map[models.AlarmAction]bool, len(opts.Actions))
		for _, a := range opts.Actions {
			actions[a] = true
		}
	}
	var wanted map[string]bool
	if len(opts.EventIDs) > 0 {
		wanted = make(map[string]bool, len(opts.EventIDs))
		for _, id := range opts.EventIDs {
			wanted[id] = true
		}
	}

	out := []*models.Trigger{}
	for _, c := range e.candidates(opts.EventIDs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		triggers, err := e.triggersOf(c, opts.From, opts.Until, loc)
		if err != nil {
			e.logger.Warn("Query failed", "series_id", c.state.master.ID, "error", err)
			return nil, err
		}
		for _, t := range triggers {
			if actions != nil && !actions[t.Action] {
				continue
			}
			if wanted != nil && !wanted[t.EventID] && !wanted[t.SeriesID] {
				continue
			}
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	e.observer.QueryServed(len(out), time.Since(began))
	return out, nil
}

// candidates snapshots the series a query has to look at.
func (e *Engine) candidates(eventIDs []string) []candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var ids []string
	if len(eventIDs) == 0 {
		ids = make([]string, 0, len(e.series))
		for id := range e.series {
			ids = append(ids, id)
		}
	} else {
		seen := make(map[string]bool)
		for _, eventID := range eventIDs {
			id, ok := e.eventIndex[eventID]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		st := e.series[id]
		out = append(out, candidate{state: st, stale: st.master.Source != "" && e.stale[st.master.Source]})
	}
	return out
}

// triggersOf computes the pending triggers of one series in [from, until).
func (e *Engine) triggersOf(c candidate, from, until time.Time, loc *time.Location) ([]*models.Trigger, error) {
	st := c.state
	master := st.master
	exceptions := st.sortedExceptions()

	alarms := master.Alarms
	duration := master.Duration()
	for _, ex := range exceptions {
		alarms = append(alarms[:len(alarms):len(alarms)], ex.Alarms...)
		if d := ex.Duration(); d > duration {
			duration = d
		}
	}
	before, after := alarm.Reach(alarms, duration)

	// Occurrence starts whose triggers can land in [from, until), rounded
	// outwards so that repeated polls share cache entries.
	w := recurrence.Window{
		Until:    until.Add(before + expansionSlack).Truncate(time.Hour).Add(time.Hour),
		Location: loc,
	}
	if !from.IsZero() {
		w.From = from.Add(-after - expansionSlack).Truncate(time.Hour)
	}

	occs, err := e.expand(st, exceptions, w)
	if err != nil {
		return nil, err
	}

	var out []*models.Trigger
	inWindow := func(t time.Time) bool {
		return (from.IsZero() || !t.Before(from)) && t.Before(until)
	}
	emit := func(inst *instance) error {
		key := inst.key()
		if a, ok := st.acks[key]; ok && a.Fingerprint == inst.fingerprint {
			return nil
		}
		if sn, ok := st.snoozes[key]; ok && sn.Fingerprint == inst.fingerprint {
			// replaced by the snoozed trigger
			return nil
		}
		at, err := e.calc.Compute(inst.start, inst.end, inst.alarm, loc)
		if err != nil {
			return err
		}
		if inWindow(at) {
			out = append(out, e.triggerFor(c, inst, at))
		}
		return nil
	}

	for i := range occs {
		occ := &occs[i]
		owner := master
		if occ.Exception {
			owner = st.exceptions[occ.RecurrenceID.Key()]
		}
		for j := range occ.Alarms {
			a := &occ.Alarms[j]
			if a.Trigger.IsAbsolute() {
				continue
			}
			inst := &instance{owner: owner, rid: occ.RecurrenceID, start: occ.Start, end: occ.End, alarm: a}
			inst.ref = models.InstanceRef{EventID: owner.ID, RecurrenceID: occ.RecurrenceID, AlarmID: a.ID}
			inst.fingerprint = fingerprint(occ.Start, occ.End, a)
			if err := emit(inst); err != nil {
				return nil, err
			}
		}
	}

	// Absolute alarms do not follow the occurrence window: a master's fire
	// once for the series, an exception's once for its occurrence.
	owners := append([]*models.Event{master}, exceptions...)
	for _, owner := range owners {
		if owner.IsException() && master.IsDeletedOccurrence(*owner.RecurrenceID) {
			continue
		}
		for j := range owner.Alarms {
			a := &owner.Alarms[j]
			if !a.Trigger.IsAbsolute() {
				continue
			}
			inst := &instance{owner: owner, rid: owner.RecurrenceID, start: owner.Start, end: exceptionEnd(owner), alarm: a}
			inst.ref = models.InstanceRef{EventID: owner.ID, RecurrenceID: owner.RecurrenceID, AlarmID: a.ID}
			inst.fingerprint = fingerprint(inst.start, inst.end, a)
			if err := emit(inst); err != nil {
				return nil, err
			}
		}
	}

	for _, sn := range st.snoozes {
		if !inWindow(sn.TriggerAt) {
			continue
		}
		inst, err := st.resolve(models.InstanceRef{EventID: sn.EventID, RecurrenceID: sn.RecurrenceID, AlarmID: sn.AlarmID})
		if err != nil || inst.fingerprint != sn.Fingerprint {
			// the instance moved or disappeared since it was snoozed
			continue
		}
		t := e.triggerFor(c, inst, sn.TriggerAt)
		t.Snoozed = true
		out = append(out, t)
	}

	return out, nil
}

func (e *Engine) triggerFor(c candidate, inst *instance, at time.Time) *models.Trigger {
	return &models.Trigger{
		EventID:      inst.owner.ID,
		SeriesID:     c.state.master.ID,
		RecurrenceID: inst.rid,
		AlarmID:      inst.alarm.ID,
		Action:       inst.alarm.Action,
		Time:         at.UTC(),
		Stale:        c.stale,
		Summary:      inst.owner.Summary,
	}
}

// expand expands a series snapshot, using the cache for series whose
// occurrences do not depend on the viewer's zone.
func (e *Engine) expand(st *seriesState, exceptions []*models.Event, w recurrence.Window) ([]models.Occurrence, error) {
	cacheable := e.cache != nil && !st.floating()
	var key cacheKey
	if cacheable {
		key = cacheKey{seriesID: st.master.ID, version: st.version, from: w.From.Unix(), until: w.Until.Unix()}
		if occs, ok := e.cache.Get(key); ok {
			e.observer.ExpansionCache(true)
			return occs, nil
		}
		e.observer.ExpansionCache(false)
	}

	occs, err := recurrence.Expand(st.master, exceptions, w, e.guard.MaxOccurrences())
	if err != nil {
		return nil, err
	}
	if cacheable {
		e.cache.Add(key, occs)
	}
	return occs, nil
}

func (s *seriesState) floating() bool {
	if s.master.Start.IsFloating() {
		return true
	}
	for _, ex := range s.exceptions {
		if ex.Start.IsFloating() {
			return true
		}
	}
	return false
}

// Expand returns the occurrences of a series whose start lies in
// [from, until). A zero from is unbounded; until is required for series with
// an unbounded rule.
func (e *Engine) Expand(ctx context.Context, seriesID string, from, until time.Time, loc *time.Location) ([]models.Occurrence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := e.snapshot(seriesID)
	if st == nil {
		if id, ok := e.seriesOf(seriesID); ok {
			st = e.snapshot(id)
		}
	}
	if st == nil {
		return nil, seriesNotFound(seriesID)
	}
	if loc == nil {
		loc = e.config.Location
	}
	if until.IsZero() && !recurrence.IsFinite(st.master.RecurrenceRule) && st.master.IsSeriesMaster() {
		return nil, errs.New(errs.CodeInvalidArgument, "expansion of an unbounded series needs an upper bound",
			"series_id", st.master.ID)
	}

	occs, err := recurrence.Expand(st.master, st.sortedExceptions(), recurrence.Window{From: from, Until: until, Location: loc}, e.guard.MaxOccurrences())
	if err != nil {
		return nil, err
	}
	for i := range occs {
		occs[i].Alarms = models.CloneAlarms(occs[i].Alarms)
	}
	return occs, nil
}
