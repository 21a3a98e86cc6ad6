package calendar

import (
	"log/slog"
	"sort"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/engine"
)

// CoordinatorConfig holds configuration for grouping feed events into series
type CoordinatorConfig struct {
	// PromoteOrphans keeps overridden instances whose master is not in the
	// feed (e.g. an invitation to a single occurrence) as single events.
	PromoteOrphans bool `yaml:"promote_orphans"`
}

// DefaultCoordinatorConfig returns the default coordination settings
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{PromoteOrphans: true}
}

// CoordinationStats holds statistics about one coordination pass
type CoordinationStats struct {
	Raw        int `json:"raw"`
	Series     int `json:"series"`
	Exceptions int `json:"exceptions"`
	Duplicates int `json:"duplicates"`
	Cancelled  int `json:"cancelled"`
	Orphans    int `json:"orphans"`
}

// SeriesCoordinator turns the flat event list of a feed into series
type SeriesCoordinator struct {
	config *CoordinatorConfig
	logger *slog.Logger
}

// NewSeriesCoordinator creates a new coordinator
func NewSeriesCoordinator(config *CoordinatorConfig, logger *slog.Logger) *SeriesCoordinator {
	if config == nil {
		config = DefaultCoordinatorConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SeriesCoordinator{config: config, logger: logger}
}

// Coordinate groups events by UID. Copies of the same UID and recurrence id
// are reduced to the highest SEQUENCE (then the latest modification).
// Overridden instances without a start are cancellations and become deleted
// occurrences of their master. The result is ordered by series id.
func (c *SeriesCoordinator) Coordinate(events []*models.Event) ([]engine.Series, CoordinationStats) {
	stats := CoordinationStats{Raw: len(events)}

	latest := make(map[string]*models.Event, len(events))
	var order []string
	for _, ev := range events {
		if ev == nil || ev.ID == "" {
			continue
		}
		key := ev.ID + "|" + models.RecurrenceKey(ev.RecurrenceID)
		cur, ok := latest[key]
		if !ok {
			latest[key] = ev
			order = append(order, key)
			continue
		}
		stats.Duplicates++
		if newer(ev, cur) {
			latest[key] = ev
		}
	}

	masters := make(map[string]*engine.Series)
	var overrides []*models.Event
	for _, key := range order {
		ev := latest[key]
		if ev.RecurrenceID != nil {
			overrides = append(overrides, ev)
			continue
		}
		if ev.Start.IsZero() {
			continue
		}
		masters[ev.ID] = &engine.Series{Master: ev}
	}

	for _, ex := range overrides {
		s, ok := masters[ex.ID]
		recurring := ok && s.Master.IsSeriesMaster()
		cancelled := ex.Start.IsZero()

		switch {
		case recurring && cancelled:
			s.Master.DeleteExceptionDates = append(s.Master.DeleteExceptionDates, *ex.RecurrenceID)
			stats.Cancelled++
		case recurring:
			s.Exceptions = append(s.Exceptions, ex)
			stats.Exceptions++
		case cancelled:
			stats.Cancelled++
		case c.config.PromoteOrphans:
			single := ex.Clone()
			single.ID = ex.ID + "/" + ex.RecurrenceID.Key()
			single.RecurrenceID = nil
			masters[single.ID] = &engine.Series{Master: single}
			stats.Orphans++
		default:
			c.logger.Debug("Dropping overridden instance without master",
				"uid", ex.ID,
				"recurrence_id", ex.RecurrenceID.Key())
			stats.Orphans++
		}
	}

	out := make([]engine.Series, 0, len(masters))
	for _, s := range masters {
		sort.Slice(s.Exceptions, func(i, j int) bool {
			return s.Exceptions[i].RecurrenceID.Key() < s.Exceptions[j].RecurrenceID.Key()
		})
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Master.ID < out[j].Master.ID })
	stats.Series = len(out)

	c.logger.Debug("Feed coordination complete",
		"raw", stats.Raw,
		"series", stats.Series,
		"exceptions", stats.Exceptions,
		"duplicates", stats.Duplicates,
		"cancelled", stats.Cancelled,
		"orphans", stats.Orphans)
	return out, stats
}

// newer reports whether a supersedes b.
func newer(a, b *models.Event) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return a.LastModified.After(b.LastModified)
}
