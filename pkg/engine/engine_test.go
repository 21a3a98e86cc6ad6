package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

var (
	testNow     = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	seriesStart = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, config *Config, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: testNow}
	var n atomic.Int64
	ids := func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(clock.Now), WithIDGenerator(ids)}, opts...)
	return New(config, logger, opts...), clock
}

func standup(rule string) *models.Event {
	return &models.Event{
		ID:             "standup",
		Summary:        "Standup",
		Start:          models.NewDateTime(seriesStart),
		End:            models.NewDateTime(seriesStart.Add(30 * time.Minute)),
		RecurrenceRule: rule,
		Alarms: []models.Alarm{
			{ID: "m1", Action: models.ActionDisplay, Trigger: models.Before(15 * time.Minute)},
		},
	}
}

func day(n int) time.Time {
	return seriesStart.AddDate(0, 0, n)
}

func ridAt(t time.Time) *models.RecurrenceID {
	r := models.NewRecurrenceID(models.NewDateTime(t))
	return &r
}

func queryMonth(t *testing.T, e *Engine) []*models.Trigger {
	t.Helper()
	triggers, err := e.Query(context.Background(), QueryOptions{
		From:  testNow,
		Until: seriesStart.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	return triggers
}

func zulus(triggers []*models.Trigger) []string {
	out := make([]string, len(triggers))
	for i, t := range triggers {
		out[i] = t.Zulu()
	}
	return out
}

func countBySeries(triggers []*models.Trigger) map[string]int {
	out := make(map[string]int)
	for _, t := range triggers {
		out[t.SeriesID]++
	}
	return out
}

func TestQuery_TomorrowNoonExample(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()

	noon := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	ev := &models.Event{
		ID:      "lunch",
		Summary: "Lunch",
		Start:   models.NewDateTime(noon),
		End:     models.NewDateTime(noon.Add(time.Hour)),
		Alarms: []models.Alarm{
			{ID: "a1", Action: models.ActionDisplay, Trigger: models.Before(15 * time.Minute)},
		},
	}
	require.NoError(t, e.OnEventChanged(ctx, ev, models.EntireSeries))

	triggers, err := e.Query(ctx, QueryOptions{Until: clock.Now().Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "20250302T114500Z", triggers[0].Zulu())
	assert.Equal(t, "lunch", triggers[0].EventID)
	assert.Equal(t, "a1", triggers[0].AlarmID)

	ev.Start = models.NewDateTime(noon.Add(time.Hour))
	ev.End = models.NewDateTime(noon.Add(2 * time.Hour))
	require.NoError(t, e.OnEventChanged(ctx, ev, models.EntireSeries))

	triggers, err = e.Query(ctx, QueryOptions{Until: clock.Now().Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "20250302T124500Z", triggers[0].Zulu())
}

func TestEngine_StoresCopies(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	ev := standup("FREQ=DAILY;COUNT=3")
	require.NoError(t, e.OnEventChanged(ctx, ev, models.EntireSeries))

	ev.Alarms[0].Trigger = models.Before(time.Hour)
	stored, ok := e.Event(ctx, "standup")
	require.True(t, ok)
	assert.Equal(t, "-PT15M", stored.Alarms[0].Trigger.Duration.String())
	assert.Equal(t, "standup", stored.SeriesID)
}

func TestEngine_RejectsInvalidEvents(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		event *models.Event
		code  errs.Code
	}{
		{"nil event", nil, errs.CodeInvalidEvent},
		{"missing id", &models.Event{Start: models.NewDateTime(seriesStart)}, errs.CodeInvalidEvent},
		{"missing start", &models.Event{ID: "x"}, errs.CodeInvalidEvent},
		{
			"end before start",
			&models.Event{ID: "x", Start: models.NewDateTime(seriesStart), End: models.NewDateTime(seriesStart.Add(-time.Hour))},
			errs.CodeInvalidEvent,
		},
		{
			"alarm without trigger",
			&models.Event{ID: "x", Start: models.NewDateTime(seriesStart), Alarms: []models.Alarm{{ID: "a", Action: models.ActionDisplay}}},
			errs.CodeInvalidEvent,
		},
		{
			"unknown action",
			&models.Event{ID: "x", Start: models.NewDateTime(seriesStart), Alarms: []models.Alarm{{ID: "a", Action: "PROCEDURE", Trigger: models.Before(time.Minute)}}},
			errs.CodeInvalidEvent,
		},
		{
			"bad rule",
			&models.Event{ID: "x", Start: models.NewDateTime(seriesStart), RecurrenceRule: "FREQ=SOMETIMES"},
			errs.CodeInvalidRecurrenceRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.OnEventChanged(ctx, tt.event, models.EntireSeries)
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
	assert.Zero(t, e.SeriesCount())
}

func TestEngine_GuardRejectsBeforeCommit(t *testing.T) {
	config := DefaultConfig()
	config.Limits.MaxAttendees = 2
	config.Limits.MaxAlarms = 1
	e, _ := newTestEngine(t, config)
	ctx := context.Background()

	crowded := standup("")
	crowded.Attendees = []models.Attendee{{URI: "mailto:a@x"}, {URI: "mailto:b@x"}, {URI: "mailto:c@x"}}
	err := e.OnEventChanged(ctx, crowded, models.EntireSeries)
	require.ErrorIs(t, err, errs.ErrTooManyAttendees)
	assert.Zero(t, e.SeriesCount())

	require.NoError(t, e.OnEventChanged(ctx, standup(""), models.EntireSeries))
	err = e.OnAttendeeAlarmsChanged(ctx, "standup", nil, []models.Alarm{
		{ID: "m1", Action: models.ActionDisplay, Trigger: models.Before(time.Minute)},
		{ID: "m2", Action: models.ActionDisplay, Trigger: models.Before(time.Hour)},
	})
	require.ErrorIs(t, err, errs.ErrTooManyAlarms)

	stored, _ := e.Event(ctx, "standup")
	assert.Len(t, stored.Alarms, 1)
}

func TestEngine_OccurrenceLimit(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	err := e.OnEventChanged(ctx, standup("FREQ=DAILY;COUNT=1001"), models.EntireSeries)
	require.ErrorIs(t, err, errs.ErrTooManyOccurrences)
	assert.Zero(t, e.SeriesCount())

	require.NoError(t, e.OnEventChanged(ctx, standup("FREQ=DAILY"), models.EntireSeries))
	opts := QueryOptions{Until: seriesStart.AddDate(0, 0, 1100)}

	_, first := e.Query(ctx, opts)
	require.ErrorIs(t, first, errs.ErrTooManyOccurrences)
	_, second := e.Query(ctx, opts)
	require.ErrorIs(t, second, errs.ErrTooManyOccurrences)

	var a, b *errs.Error
	require.ErrorAs(t, first, &a)
	require.ErrorAs(t, second, &b)
	assert.Equal(t, string(a.Payload()), string(b.Payload()))
	assert.Equal(t, "1000", a.Params["limit"])

	// A bounded window over the same series still works
	triggers, err := e.Query(ctx, QueryOptions{From: seriesStart, Until: seriesStart.AddDate(0, 0, 7)})
	require.NoError(t, err)
	assert.Len(t, triggers, 7)
}

type countingObserver struct {
	mu       sync.Mutex
	hits     int
	misses   int
	applied  map[string]int
	rejected map[errs.Code]int
	queries  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{applied: make(map[string]int), rejected: make(map[errs.Code]int)}
}

func (o *countingObserver) MutationApplied(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applied[op]++
}

func (o *countingObserver) MutationRejected(op string, code errs.Code) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[code]++
}

func (o *countingObserver) QueryServed(int, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries++
}

func (o *countingObserver) ExpansionCache(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func TestEngine_ObserverAndCache(t *testing.T) {
	observer := newCountingObserver()
	e, _ := newTestEngine(t, nil, WithObserver(observer))
	ctx := context.Background()

	require.NoError(t, e.OnEventChanged(ctx, standup("FREQ=DAILY;COUNT=5"), models.EntireSeries))
	_, err := e.Acknowledge(ctx, models.InstanceRef{EventID: "standup", AlarmID: "nope", RecurrenceID: ridAt(day(0))})
	require.ErrorIs(t, err, errs.ErrAlarmNotFound)

	first := queryMonth(t, e)
	second := queryMonth(t, e)
	assert.Equal(t, zulus(first), zulus(second))

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, 1, observer.applied["event_changed"])
	assert.Equal(t, 1, observer.rejected[errs.CodeAlarmNotFound])
	assert.Equal(t, 2, observer.queries)
	assert.Equal(t, 1, observer.misses)
	assert.Equal(t, 1, observer.hits)
}

func TestEngine_ConcurrentSnoozesSurvivePropagation(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.OnEventChanged(ctx, standup("FREQ=DAILY;COUNT=20"), models.EntireSeries))

	base := []models.Alarm{{ID: "m1", Action: models.ActionDisplay, Trigger: models.Before(15 * time.Minute)}}
	extended := append(models.CloneAlarms(base), models.Alarm{ID: "m2", Action: models.ActionEmail, Trigger: models.Before(time.Hour)})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			alarms := base
			if i%2 == 0 {
				alarms = extended
			}
			assert.NoError(t, e.OnAttendeeAlarmsChanged(ctx, "standup", nil, alarms))
		}
	}()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Snooze(ctx, models.InstanceRef{EventID: "standup", RecurrenceID: ridAt(day(i)), AlarmID: "m1"}, time.Duration(i+1)*time.Minute)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	triggers, err := e.Query(ctx, QueryOptions{From: testNow, Until: seriesStart.AddDate(0, 1, 0), Actions: []models.AlarmAction{models.ActionDisplay}})
	require.NoError(t, err)
	require.Len(t, triggers, 20)
	for _, tr := range triggers {
		assert.True(t, tr.Snoozed, "expected %s to stay snoozed", models.RecurrenceKey(tr.RecurrenceID))
	}
}
