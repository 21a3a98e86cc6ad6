package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

func feedSeries() []Series {
	master := standup("FREQ=DAILY;COUNT=10")
	moved := &models.Event{
		ID:           "standup",
		Summary:      "Standup (offsite)",
		Start:        models.NewDateTime(day(4).Add(2 * time.Hour)),
		End:          models.NewDateTime(day(4).Add(2*time.Hour + 30*time.Minute)),
		RecurrenceID: ridAt(day(4)),
		Alarms:       models.CloneAlarms(master.Alarms),
	}
	return []Series{
		{Master: master, Exceptions: []*models.Event{moved}},
		{Master: lunch()},
	}
}

func TestReplaceSource_Import(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.ReplaceSource(ctx, "team", feedSeries()))

	assert.Equal(t, 2, e.SeriesCount())
	exceptions := e.Exceptions(ctx, "standup")
	require.Len(t, exceptions, 1)
	assert.Equal(t, "standup/20250307T090000Z", exceptions[0].ID)
	assert.Equal(t, "team", exceptions[0].Source)

	triggers := queryMonth(t, e)
	assert.Equal(t, map[string]int{"standup": 10, "lunch": 1}, countBySeries(triggers))
	assert.Contains(t, zulus(triggers), "20250307T104500Z")
}

func TestReplaceSource_KeepsAcknowledgements(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.ReplaceSource(ctx, "team", feedSeries()))

	_, err := e.Acknowledge(ctx, models.InstanceRef{EventID: "standup", RecurrenceID: ridAt(day(1)), AlarmID: "m1"})
	require.NoError(t, err)
	_, err = e.Acknowledge(ctx, models.InstanceRef{EventID: "standup/20250307T090000Z", AlarmID: "m1"})
	require.NoError(t, err)
	_, err = e.Snooze(ctx, models.InstanceRef{EventID: "lunch", AlarmID: "a1"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, e.ReplaceSource(ctx, "team", feedSeries()))
	triggers := queryMonth(t, e)
	assert.Equal(t, map[string]int{"standup": 8, "lunch": 1}, countBySeries(triggers))
	assert.True(t, triggers[0].Snoozed)

	// The feed moved the acknowledged occurrence
	series := feedSeries()
	series[0].Exceptions[0].Start = series[0].Exceptions[0].Start.Add(time.Hour)
	series[0].Exceptions[0].End = series[0].Exceptions[0].End.Add(time.Hour)
	require.NoError(t, e.ReplaceSource(ctx, "team", series))
	assert.Equal(t, map[string]int{"standup": 9, "lunch": 1}, countBySeries(queryMonth(t, e)))
}

func TestReplaceSource_RemovesMissingSeries(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.ReplaceSource(ctx, "team", feedSeries()))
	require.NoError(t, e.OnEventChanged(ctx, &models.Event{
		ID:    "local",
		Start: models.NewDateTime(day(1)),
		Alarms: []models.Alarm{
			{ID: "l1", Action: models.ActionDisplay, Trigger: models.Before(time.Minute)},
		},
	}, models.EntireSeries))

	require.NoError(t, e.ReplaceSource(ctx, "team", feedSeries()[1:]))
	assert.Equal(t, 2, e.SeriesCount())
	_, ok := e.Event(ctx, "standup")
	assert.False(t, ok)

	require.NoError(t, e.ReplaceSource(ctx, "team", nil))
	assert.Equal(t, 1, e.SeriesCount())
	_, ok = e.Event(ctx, "local")
	assert.True(t, ok)
}

func TestReplaceSource_LeavesLocalSeriesAlone(t *testing.T) {
	e, _ := newStandup(t, "FREQ=DAILY;COUNT=3")
	ctx := context.Background()

	require.NoError(t, e.ReplaceSource(ctx, "team", feedSeries()))
	ev, ok := e.Event(ctx, "standup")
	require.True(t, ok)
	assert.Equal(t, "", ev.Source)
	assert.Equal(t, "FREQ=DAILY;COUNT=3", ev.RecurrenceRule)
	_, ok = e.Event(ctx, "lunch")
	assert.True(t, ok)
}

func TestReplaceSource_RejectsWholeImport(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.ReplaceSource(ctx, "team", feedSeries()))

	series := feedSeries()
	series[1].Master.End = models.NewDateTime(day(-10))
	err := e.ReplaceSource(ctx, "team", series)
	require.ErrorIs(t, err, errs.ErrInvalidEvent)

	// Nothing of the failed import was published
	assert.Len(t, e.Exceptions(ctx, "standup"), 1)
	ev, ok := e.Event(ctx, "lunch")
	require.True(t, ok)
	assert.Equal(t, "Lunch", ev.Summary)

	require.ErrorIs(t, e.ReplaceSource(ctx, "", nil), errs.ErrInvalidArgument)
}

func TestReplaceSource_DropsOrphanedExceptions(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	series := feedSeries()
	series[0].Exceptions[0].RecurrenceID = ridAt(day(40))
	require.NoError(t, e.ReplaceSource(ctx, "team", series))

	assert.Empty(t, e.Exceptions(ctx, "standup"))
	assert.Equal(t, map[string]int{"standup": 10, "lunch": 1}, countBySeries(queryMonth(t, e)))
}
