// Package alarm reconciles alarm definitions across a series and computes
// trigger instants.
package alarm

import (
	"github.com/venkytv/calendar-alarms/internal/models"
)

// IDFunc produces a new alarm id.
type IDFunc func() string

// Inherit copies the master's alarms for a new change exception. Every copy
// gets its own id; the copies are matched back to the master by key.
func Inherit(master []models.Alarm, newID IDFunc) []models.Alarm {
	if len(master) == 0 {
		return nil
	}
	out := make([]models.Alarm, 0, len(master))
	for _, a := range master {
		c := a.Clone()
		c.ID = newID()
		out = append(out, c)
	}
	return out
}

// Propagate applies a master-level alarm edit (oldMaster → newMaster) to the
// alarms of one change exception and returns the exception's new set.
//
// Exception alarms whose key was not on the old master are unrelated to the
// edit and kept as they are. Alarms mirroring an old master alarm follow the
// master: dropped when the key is gone, kept otherwise. Keys added to the
// master are inserted unless the exception already carries them.
func Propagate(oldMaster, newMaster, exception []models.Alarm, newID IDFunc) []models.Alarm {
	oldKeys := keySet(oldMaster)
	newKeys := keySet(newMaster)

	out := make([]models.Alarm, 0, len(exception)+len(newMaster))
	have := make(map[models.AlarmKey]bool, len(exception))

	for _, a := range exception {
		key := a.Key()
		if oldKeys[key] && !newKeys[key] {
			continue
		}
		if have[key] && oldKeys[key] {
			// duplicate mirror of one master alarm
			continue
		}
		have[key] = true
		out = append(out, a.Clone())
	}

	for _, a := range newMaster {
		key := a.Key()
		if oldKeys[key] || have[key] {
			continue
		}
		c := a.Clone()
		c.ID = newID()
		have[key] = true
		out = append(out, c)
	}

	if len(out) == 0 && exception == nil {
		return nil
	}
	return out
}

// Diverged reports whether an exception's alarm set differs from the master's
// by key.
func Diverged(master, exception []models.Alarm) bool {
	mk, ek := keySet(master), keySet(exception)
	if len(mk) != len(ek) {
		return true
	}
	for k := range mk {
		if !ek[k] {
			return true
		}
	}
	return false
}

func keySet(alarms []models.Alarm) map[models.AlarmKey]bool {
	set := make(map[models.AlarmKey]bool, len(alarms))
	for i := range alarms {
		set[alarms[i].Key()] = true
	}
	return set
}
