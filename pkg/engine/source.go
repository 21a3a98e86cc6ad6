package engine

import (
	"context"
	"sort"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
	"github.com/venkytv/calendar-alarms/pkg/recurrence"
)

// Series is a master (or single event) with its change exceptions.
type Series struct {
	Master     *models.Event
	Exceptions []*models.Event
}

// ReplaceSource replaces every series imported from source with series.
// Series of the source that are missing from the import are removed.
// Acknowledgement and snooze records of surviving series are kept; they stay
// in force as long as the instance schedules are unchanged. The import is
// validated as a whole before anything is published.
func (e *Engine) ReplaceSource(ctx context.Context, source string, series []Series) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.replaceSource(source, series)
	e.record("replace_source", err)
	return err
}

func (e *Engine) replaceSource(source string, series []Series) error {
	if source == "" {
		return errs.New(errs.CodeInvalidArgument, "source name is required")
	}

	prepared := make(map[string]*seriesState, len(series))
	for _, in := range series {
		st, err := e.prepareSeries(source, in)
		if err != nil {
			return err
		}
		if st == nil {
			continue
		}
		prepared[st.master.ID] = st
	}

	e.mu.RLock()
	ids := make([]string, 0, len(prepared))
	for id := range prepared {
		ids = append(ids, id)
	}
	for id, st := range e.series {
		if _, ok := prepared[id]; !ok && st.master.Source == source {
			ids = append(ids, id)
		}
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	return e.update(ids, func(cur map[string]*seriesState) (map[string]*seriesState, error) {
		next := make(map[string]*seriesState, len(ids))
		for _, id := range ids {
			old := cur[id]
			st, imported := prepared[id]
			switch {
			case !imported:
				if old != nil && old.master.Source == source {
					next[id] = nil
				}
			case old != nil && old.master.Source != source:
				e.logger.Warn("Skipping imported series that collides with a local one",
					"source", source,
					"series_id", id)
			default:
				if old != nil {
					for k, a := range old.acks {
						st.acks[k] = a
					}
					for k, sn := range old.snoozes {
						st.snoozes[k] = sn
					}
					st.prune()
				}
				next[id] = st
			}
		}
		return next, nil
	})
}

// prepareSeries validates one imported series and builds its snapshot.
// Exceptions that do not address a slot of the master are dropped.
func (e *Engine) prepareSeries(source string, in Series) (*seriesState, error) {
	if in.Master == nil {
		return nil, nil
	}
	master, err := e.prepare(in.Master)
	if err != nil {
		return nil, err
	}
	if master.RecurrenceID != nil {
		return nil, errs.New(errs.CodeInvalidEvent, "series master carries a recurrence id", "event_id", master.ID)
	}
	master.SeriesID = master.ID
	master.Source = source
	if master.LastModified.IsZero() {
		master.LastModified = e.now().UTC()
	}
	if err := recurrence.Validate(master, e.guard.MaxOccurrences()); err != nil {
		return nil, err
	}

	st := newSeriesState(master)
	for _, raw := range in.Exceptions {
		if raw == nil || raw.RecurrenceID == nil || !master.IsSeriesMaster() {
			continue
		}
		ex, err := e.prepare(raw)
		if err != nil {
			return nil, err
		}
		rid := slotOf(master, *ex.RecurrenceID)
		if err := st.requireSlot(rid); err != nil {
			e.logger.Warn("Dropping imported exception",
				"source", source,
				"series_id", master.ID,
				"recurrence_id", rid.Key(),
				"error", err)
			continue
		}
		if ex.ID == "" || ex.ID == master.ID {
			ex.ID = master.ID + "/" + rid.Key()
		}
		ex.SeriesID = master.ID
		ex.RecurrenceID = &rid
		ex.RecurrenceRule = ""
		ex.Source = source
		if ex.Alarms == nil {
			ex.Alarms = []models.Alarm{}
		}
		if ex.LastModified.IsZero() {
			ex.LastModified = master.LastModified
		}
		st.exceptions[rid.Key()] = ex
	}
	return st, nil
}

// MarkSourceStale flags the triggers of a feed's series as coming from a
// feed whose last refresh failed.
func (e *Engine) MarkSourceStale(source string, stale bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if stale {
		e.stale[source] = true
	} else {
		delete(e.stale, source)
	}
}

// SourceStale reports whether a feed is marked stale.
func (e *Engine) SourceStale(source string) bool {
	return e.isStale(source)
}
