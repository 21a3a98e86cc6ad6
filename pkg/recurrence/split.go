package recurrence

import (
	"strconv"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

// Split is the result of partitioning a series at one of its slots.
type Split struct {
	// Head is the rule covering the slots before the split point.
	Head string
	// Tail is the rule covering the slots from the split point on, to be
	// anchored at TailStart.
	Tail      string
	TailStart models.DateTime
	// HeadEmpty / TailEmpty report sides without any slot.
	HeadEmpty bool
	TailEmpty bool
}

// SplitFuture partitions master so that rid is the first slot of the tail.
func SplitFuture(master *models.Event, rid models.RecurrenceID) (Split, error) {
	return split(master, rid, false)
}

// SplitPrior partitions master so that rid is the last slot of the head.
func SplitPrior(master *models.Event, rid models.RecurrenceID) (Split, error) {
	return split(master, rid, true)
}

func split(master *models.Event, rid models.RecurrenceID, inclusive bool) (Split, error) {
	var result Split

	parts, err := parseParts(master.RecurrenceRule)
	if err != nil {
		return result, err
	}
	ok, err := HasSlot(master, rid)
	if err != nil {
		return result, err
	}
	if !ok {
		return result, errs.New(errs.CodeOccurrenceNotFound, "recurrence id is not a slot of the series",
			"series_id", master.ID,
			"recurrence_id", rid.Key())
	}

	headCount, err := countBefore(master, rid)
	if err != nil {
		return result, err
	}
	tailStart := rid.DateTime
	if inclusive {
		headCount++
		next, found, err := Next(master, rid.DateTime)
		if err != nil {
			return result, err
		}
		if !found {
			result.TailEmpty = true
		}
		tailStart = next
	}
	result.TailStart = tailStart
	result.HeadEmpty = headCount == 0

	if total := parts.count(); total > 0 {
		result.Head = parts.set("COUNT", strconv.Itoa(headCount)).String()
		if rest := total - headCount; rest > 0 {
			result.Tail = parts.set("COUNT", strconv.Itoa(rest)).String()
		} else {
			result.TailEmpty = true
		}
		return result, nil
	}

	bound := rid.Time.Add(-time.Second)
	if inclusive {
		bound = rid.Time
	}
	result.Head = parts.without("COUNT").set("UNTIL", untilValue(master.Start, bound)).String()
	result.Tail = parts.String()
	return result, nil
}
