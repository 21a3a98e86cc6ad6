package engine

import (
	"context"
	"slices"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

// Acknowledge marks an alarm instance as handled and returns the recorded
// acknowledgement time, which is never earlier than the event's last
// modification. Acknowledging an instance twice returns the first time.
//
// The acknowledgement is bound to the schedule the instance had when it was
// acknowledged: if the occurrence or the alarm trigger later moves, the
// instance is pending again.
func (e *Engine) Acknowledge(ctx context.Context, ref models.InstanceRef) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	var ackedAt time.Time
	err := e.updateInstance(ref, func(cur *seriesState, inst *instance) (*seriesState, error) {
		key := inst.key()
		if a, ok := cur.acks[key]; ok && a.Fingerprint == inst.fingerprint {
			ackedAt = a.AckedAt
			return cur, nil
		}

		ackedAt = e.now().UTC()
		for _, ev := range []*models.Event{cur.master, inst.owner} {
			if ev.LastModified.After(ackedAt) {
				ackedAt = ev.LastModified
			}
		}

		s := cur.clone()
		s.acks[key] = ackState{
			EventID:      inst.owner.ID,
			AlarmID:      inst.alarm.ID,
			RecurrenceID: inst.rid,
			Fingerprint:  inst.fingerprint,
			AckedAt:      ackedAt,
		}
		delete(s.snoozes, key)
		return s, nil
	})
	e.record("acknowledge", err)
	if err != nil {
		return time.Time{}, err
	}

	e.logger.Debug("Alarm acknowledged",
		"event_id", ref.EventID,
		"recurrence_id", models.RecurrenceKey(ref.RecurrenceID),
		"alarm_id", ref.AlarmID,
		"acked_at", models.FormatZulu(ackedAt))
	return ackedAt, nil
}

// Snooze postpones an alarm instance by delay from now and returns the
// replacement trigger. Snoozing a snoozed instance extends the chain; the
// superseded trigger instants are kept and can be read with SnoozeChain.
func (e *Engine) Snooze(ctx context.Context, ref models.InstanceRef, delay time.Duration) (*models.Trigger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if delay <= 0 {
		return nil, errs.New(errs.CodeInvalidArgument, "snooze delay must be positive", "delay", delay)
	}

	var trigger *models.Trigger
	err := e.updateInstance(ref, func(cur *seriesState, inst *instance) (*seriesState, error) {
		key := inst.key()
		if a, ok := cur.acks[key]; ok && a.Fingerprint == inst.fingerprint {
			return nil, errs.New(errs.CodeAlreadyAcknowledged, "alarm instance is already acknowledged",
				"event_id", inst.owner.ID,
				"alarm_id", inst.alarm.ID,
				"recurrence_id", models.RecurrenceKey(inst.rid))
		}

		var chain []time.Time
		if prev, ok := cur.snoozes[key]; ok && prev.Fingerprint == inst.fingerprint {
			chain = append(slices.Clone(prev.Chain), prev.TriggerAt)
		} else {
			origin, err := e.calc.Compute(inst.start, inst.end, inst.alarm, nil)
			if err != nil {
				return nil, err
			}
			chain = []time.Time{origin}
		}

		at := e.now().UTC().Add(delay)
		s := cur.clone()
		s.snoozes[key] = snoozeState{
			EventID:      inst.owner.ID,
			AlarmID:      inst.alarm.ID,
			RecurrenceID: inst.rid,
			Fingerprint:  inst.fingerprint,
			TriggerAt:    at,
			Chain:        chain,
		}

		trigger = e.newTrigger(cur, inst, at)
		trigger.Snoozed = true
		return s, nil
	})
	e.record("snooze", err)
	if err != nil {
		return nil, err
	}
	return trigger, nil
}

// SnoozeChain returns the trigger instants an instance's snoozes superseded,
// oldest first, followed by the current snoozed trigger. It returns nil for
// instances that are not snoozed.
func (e *Engine) SnoozeChain(ctx context.Context, ref models.InstanceRef) ([]time.Time, error) {
	seriesID, ok := e.seriesOf(ref.EventID)
	if !ok {
		return nil, errs.New(errs.CodeEventNotFound, "event not found", "event_id", ref.EventID)
	}
	st := e.snapshot(seriesID)
	if st == nil {
		return nil, seriesNotFound(seriesID)
	}
	inst, err := st.resolve(ref)
	if err != nil {
		return nil, err
	}
	sn, ok := st.snoozes[inst.key()]
	if !ok || sn.Fingerprint != inst.fingerprint {
		return nil, nil
	}
	return append(slices.Clone(sn.Chain), sn.TriggerAt), nil
}

// updateInstance resolves ref inside the exclusive section of its series
// and runs fn on it.
func (e *Engine) updateInstance(ref models.InstanceRef, fn func(cur *seriesState, inst *instance) (*seriesState, error)) error {
	seriesID, ok := e.seriesOf(ref.EventID)
	if !ok {
		return errs.New(errs.CodeEventNotFound, "event not found", "event_id", ref.EventID)
	}
	return e.updateOne(seriesID, func(cur *seriesState) (*seriesState, error) {
		if cur == nil {
			return nil, seriesNotFound(seriesID)
		}
		inst, err := cur.resolve(ref)
		if err != nil {
			return nil, err
		}
		return fn(cur, inst)
	})
}

func (e *Engine) newTrigger(st *seriesState, inst *instance, at time.Time) *models.Trigger {
	return e.triggerFor(candidate{state: st, stale: e.isStale(st.master.Source)}, inst, at)
}

func (e *Engine) isStale(source string) bool {
	if source == "" {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stale[source]
}
