// Package recurrence expands recurring series into occurrences.
package recurrence

import (
	"sort"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
	"github.com/venkytv/calendar-alarms/pkg/guard"
)

// Window bounds an expansion by occurrence start: From inclusive, Until
// exclusive. Zero values leave that side open. Location resolves floating
// and all-day series.
type Window struct {
	From     time.Time
	Until    time.Time
	Location *time.Location
}

func (w Window) contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.Until.IsZero() && !t.Before(w.Until) {
		return false
	}
	return true
}

func (w Window) pastEnd(t time.Time) bool {
	return !w.Until.IsZero() && !t.Before(w.Until)
}

// Expand returns the occurrences of master whose effective start lies in the
// window, ordered by start. Change exceptions replace their slot but keep the
// slot's recurrence id; deleted slots are dropped. More than limit
// occurrences is an error, never a truncation. A limit of 0 disables the
// check, which is only safe for finite rules or bounded windows.
func Expand(master *models.Event, exceptions []*models.Event, w Window, limit int) ([]models.Occurrence, error) {
	if master.RecurrenceRule == "" {
		return expandSingle(master, w), nil
	}

	seriesID := master.ID
	g := guard.New(guard.Limits{MaxOccurrences: limit})
	byRID := make(map[string]*models.Event, len(exceptions))
	for _, ex := range exceptions {
		if ex.RecurrenceID != nil {
			byRID[ex.RecurrenceID.Key()] = ex
		}
	}

	var out []models.Occurrence
	emitted := make(map[string]bool)
	add := func(occ models.Occurrence) error {
		key := occ.RecurrenceID.Key()
		if emitted[key] {
			return nil
		}
		emitted[key] = true
		out = append(out, occ)
		return g.CheckOccurrences(seriesID, len(out))
	}

	duration := master.Duration()
	err := walk(master, func(slot models.DateTime) (bool, error) {
		if w.pastEnd(slot.In(w.Location)) {
			return false, nil
		}
		rid := models.NewRecurrenceID(slot)
		if master.IsDeletedOccurrence(rid) {
			return true, nil
		}
		if _, ok := byRID[rid.Key()]; ok {
			// placed by its own start below
			return true, nil
		}
		if !w.contains(slot.In(w.Location)) {
			return true, nil
		}
		return true, add(models.Occurrence{
			SeriesID:     seriesID,
			EventID:      master.ID,
			RecurrenceID: &rid,
			Start:        slot,
			End:          slot.Add(duration),
			Alarms:       master.Alarms,
		})
	})
	if err != nil {
		return nil, err
	}

	for _, ex := range exceptions {
		if ex.RecurrenceID == nil || master.IsDeletedOccurrence(*ex.RecurrenceID) {
			continue
		}
		if !w.contains(ex.Start.In(w.Location)) {
			continue
		}
		rid := *ex.RecurrenceID
		if err := add(exceptionOccurrence(seriesID, ex, rid)); err != nil {
			return nil, err
		}
	}

	sortOccurrences(out, w.Location)
	return out, nil
}

func expandSingle(ev *models.Event, w Window) []models.Occurrence {
	if !w.contains(ev.Start.In(w.Location)) {
		return nil
	}
	end := ev.End
	if end.IsZero() {
		end = ev.Start.Add(ev.Duration())
	}
	return []models.Occurrence{{
		SeriesID: ev.ID,
		EventID:  ev.ID,
		Start:    ev.Start,
		End:      end,
		Alarms:   ev.Alarms,
	}}
}

func exceptionOccurrence(seriesID string, ex *models.Event, rid models.RecurrenceID) models.Occurrence {
	end := ex.End
	if end.IsZero() {
		end = ex.Start.Add(ex.Duration())
	}
	return models.Occurrence{
		SeriesID:     seriesID,
		EventID:      ex.ID,
		RecurrenceID: &rid,
		Start:        ex.Start,
		End:          end,
		Alarms:       ex.Alarms,
		Exception:    true,
	}
}

func sortOccurrences(occs []models.Occurrence, loc *time.Location) {
	sort.SliceStable(occs, func(i, j int) bool {
		a, b := occs[i].Start.In(loc), occs[j].Start.In(loc)
		if !a.Equal(b) {
			return a.Before(b)
		}
		return models.RecurrenceKey(occs[i].RecurrenceID) < models.RecurrenceKey(occs[j].RecurrenceID)
	})
}

// walk visits the raw slots of master in order until fn returns false.
func walk(master *models.Event, fn func(slot models.DateTime) (bool, error)) error {
	r, err := compile(master.RecurrenceRule, master.Start)
	if err != nil {
		return err
	}

	next := r.Iterator()
	for i := 0; ; i++ {
		if i >= maxIterations {
			return errs.New(errs.CodeTooManyOccurrences, "expansion exceeds the iteration limit",
				"series_id", master.ID,
				"limit", maxIterations)
		}
		t, ok := next()
		if !ok {
			return nil
		}
		cont, err := fn(master.Start.Like(t))
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// Validate checks that the rule of master parses and, for finite rules, that
// the complete series stays within limit.
func Validate(master *models.Event, limit int) error {
	if master.RecurrenceRule == "" {
		return nil
	}
	if _, err := compile(master.RecurrenceRule, master.Start); err != nil {
		return err
	}
	if limit <= 0 || !IsFinite(master.RecurrenceRule) {
		return nil
	}

	g := guard.New(guard.Limits{MaxOccurrences: limit})
	n := 0
	return walk(master, func(models.DateTime) (bool, error) {
		n++
		if err := g.CheckOccurrences(master.ID, n); err != nil {
			return false, err
		}
		return true, nil
	})
}

// HasSlot reports whether rid is a slot of master's rule. Deleted slots are
// still slots.
func HasSlot(master *models.Event, rid models.RecurrenceID) (bool, error) {
	if master.RecurrenceRule == "" {
		return false, nil
	}
	found := false
	err := walk(master, func(slot models.DateTime) (bool, error) {
		if slot.Key() == rid.Key() {
			found = true
			return false, nil
		}
		return !rid.Before(slot), nil
	})
	return found, err
}

// Next returns the first slot strictly after after.
func Next(master *models.Event, after models.DateTime) (models.DateTime, bool, error) {
	var (
		result models.DateTime
		found  bool
	)
	err := walk(master, func(slot models.DateTime) (bool, error) {
		if after.Before(slot) {
			result, found = slot, true
			return false, nil
		}
		return true, nil
	})
	return result, found, err
}

// countBefore returns how many slots precede rid.
func countBefore(master *models.Event, rid models.RecurrenceID) (int, error) {
	n := 0
	err := walk(master, func(slot models.DateTime) (bool, error) {
		if !slot.Before(rid.DateTime) {
			return false, nil
		}
		n++
		return true, nil
	})
	return n, err
}
