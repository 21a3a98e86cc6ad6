// Package dispatcher delivers due alarm triggers. It polls the engine on a
// cron schedule, publishes every trigger that became due within the lookback
// window and was not delivered yet, and refreshes the external feeds on a
// second schedule.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/engine"
)

// Engine is the part of the alarm engine the dispatcher drives
type Engine interface {
	Query(ctx context.Context, opts engine.QueryOptions) ([]*models.Trigger, error)
	Acknowledge(ctx context.Context, ref models.InstanceRef) (time.Time, error)
}

// Publisher defines the interface for notification publishing
type Publisher interface {
	PublishNotification(ctx context.Context, notification *models.Notification) error
	Close() error
}

// Refresher reloads external feeds into the engine
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Observer is told about every delivery attempt
type Observer interface {
	NotificationDelivered(action models.AlarmAction, err error)
}

// Config holds the dispatcher configuration
type Config struct {
	// Schedule is the cron spec of due-trigger polls.
	Schedule string `yaml:"schedule"`
	// RefreshSchedule is the cron spec of feed refreshes.
	RefreshSchedule string `yaml:"refresh_schedule"`
	// Lookback is how far back every poll reaches. Triggers that show up late
	// (a feed refresh adding an alarm due a minute ago) are still delivered
	// while they are inside this window.
	Lookback time.Duration `yaml:"lookback"`
	// MaxConcurrent bounds in-flight publishes.
	MaxConcurrent int `yaml:"max_concurrent"`
	// Actions restricts delivery to these alarm actions. Empty means all.
	Actions []models.AlarmAction `yaml:"actions"`
	// AutoAcknowledge acknowledges instances once delivered. Leave off when
	// consumers snooze through the engine.
	AutoAcknowledge bool `yaml:"auto_acknowledge"`
	// Timezone resolves floating events. Empty uses the engine default.
	Timezone string `yaml:"timezone"`
	// DeliveredCacheSize bounds the memory of delivered trigger instants.
	DeliveredCacheSize int `yaml:"delivered_cache_size"`
}

// DefaultConfig returns a default dispatcher configuration
func DefaultConfig() *Config {
	return &Config{
		Schedule:           "@every 30s",
		RefreshSchedule:    "@every 5m",
		Lookback:           5 * time.Minute,
		MaxConcurrent:      8,
		DeliveredCacheSize: 4096,
	}
}

// Stats holds statistics about the dispatcher
type Stats struct {
	Polls        int       `json:"polls"`
	Published    int       `json:"published"`
	Failed       int       `json:"failed"`
	Acknowledged int       `json:"acknowledged"`
	Refreshes    int       `json:"refreshes"`
	LastPoll     time.Time `json:"last_poll"`
	IsRunning    bool      `json:"is_running"`
}

// Dispatcher publishes due triggers
type Dispatcher struct {
	config    *Config
	engine    Engine
	publisher Publisher
	refresher Refresher
	observer  Observer
	location  *time.Location
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	pollMu    sync.Mutex
	cron      *cron.Cron
	running   bool
	retryFrom time.Time
	delivered *lru.Cache[string, struct{}]
	stats     Stats
}

// New creates a dispatcher. refresher may be nil when no feeds are configured.
func New(config *Config, eng Engine, publisher Publisher, refresher Refresher, logger *slog.Logger) (*Dispatcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	size := config.DeliveredCacheSize
	if size <= 0 {
		size = DefaultConfig().DeliveredCacheSize
	}
	delivered, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery cache: %w", err)
	}

	var loc *time.Location
	if config.Timezone != "" {
		if loc, err = time.LoadLocation(config.Timezone); err != nil {
			return nil, fmt.Errorf("invalid dispatcher timezone %q: %w", config.Timezone, err)
		}
	}

	return &Dispatcher{
		config:    config,
		engine:    eng,
		publisher: publisher,
		refresher: refresher,
		location:  loc,
		logger:    logger,
		now:       time.Now,
		delivered: delivered,
	}, nil
}

// SetObserver installs an observer for delivery attempts
func (d *Dispatcher) SetObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = o
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start registers the poll and refresh jobs, runs one refresh and one poll
// and starts the cron scheduler.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is already running")
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{d.logger})),
		cron.WithLogger(cronLogger{d.logger}),
	)
	if _, err := c.AddFunc(d.config.Schedule, func() { d.runPoll(ctx) }); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("invalid poll schedule %q: %w", d.config.Schedule, err)
	}
	if d.refresher != nil && d.config.RefreshSchedule != "" {
		if _, err := c.AddFunc(d.config.RefreshSchedule, func() { d.runRefresh(ctx) }); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("invalid refresh schedule %q: %w", d.config.RefreshSchedule, err)
		}
	}
	d.cron = c
	d.running = true
	d.stats.IsRunning = true
	d.mu.Unlock()

	d.logger.Info("Starting dispatcher",
		"schedule", d.config.Schedule,
		"refresh_schedule", d.config.RefreshSchedule,
		"auto_acknowledge", d.config.AutoAcknowledge)

	if d.refresher != nil {
		d.runRefresh(ctx)
	}
	d.runPoll(ctx)
	c.Start()
	return nil
}

// Stop waits for running jobs and stops the scheduler
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	c := d.cron
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.stats.IsRunning = false
	d.mu.Unlock()

	d.logger.Info("Stopping dispatcher")
	<-c.Stop().Done()
	d.logger.Info("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) runPoll(ctx context.Context) {
	if _, err := d.Poll(ctx); err != nil {
		d.logger.Error("Trigger poll failed", "error", err)
	}
}

func (d *Dispatcher) runRefresh(ctx context.Context) {
	err := d.refresher.Refresh(ctx)
	d.mu.Lock()
	d.stats.Refreshes++
	d.mu.Unlock()
	if err != nil {
		d.logger.Warn("Feed refresh finished with errors", "error", err)
	}
}

// Poll publishes every trigger due in [now-lookback, now] that was not
// delivered yet and returns the number published. A failed delivery older
// than the lookback window stretches the next window back to it so it is
// retried.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	now := d.now()
	from := now.Add(-d.config.Lookback)
	d.mu.Lock()
	if !d.retryFrom.IsZero() && d.retryFrom.Before(from) {
		from = d.retryFrom
	}
	d.mu.Unlock()

	triggers, err := d.engine.Query(ctx, engine.QueryOptions{
		From:     from,
		Until:    now.Add(time.Second),
		Actions:  d.config.Actions,
		Location: d.location,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query due triggers: %w", err)
	}

	var due []*models.Trigger
	for _, t := range triggers {
		if _, ok := d.delivered.Get(deliveryKey(t)); !ok {
			due = append(due, t)
		}
	}
	d.logger.Debug("Polled due triggers",
		"from", models.FormatZulu(from),
		"until", models.FormatZulu(now),
		"due", len(due),
		"skipped", len(triggers)-len(due))

	var (
		resMu       sync.Mutex
		published   int
		acked       int
		firstFailed time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.MaxConcurrent)
	for _, t := range due {
		g.Go(func() error {
			ok, ack := d.deliver(gctx, t)
			resMu.Lock()
			defer resMu.Unlock()
			switch {
			case ok:
				published++
				if ack {
					acked++
				}
			case firstFailed.IsZero() || t.Time.Before(firstFailed):
				firstFailed = t.Time
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := len(due) - published

	d.mu.Lock()
	d.retryFrom = firstFailed
	d.stats.Polls++
	d.stats.Published += published
	d.stats.Failed += failed
	d.stats.Acknowledged += acked
	d.stats.LastPoll = now
	d.mu.Unlock()

	if len(due) > 0 {
		d.logger.Info("Dispatched triggers", "published", published, "failed", failed)
	}
	if failed > 0 {
		return published, fmt.Errorf("failed to publish %d out of %d notifications", failed, len(due))
	}
	return published, nil
}

// deliver publishes one trigger and reports whether it was published and
// acknowledged.
func (d *Dispatcher) deliver(ctx context.Context, t *models.Trigger) (bool, bool) {
	n := models.NewNotification(t)
	err := d.publisher.PublishNotification(ctx, n)
	d.mu.Lock()
	observer := d.observer
	d.mu.Unlock()
	if observer != nil {
		observer.NotificationDelivered(t.Action, err)
	}
	if err != nil {
		d.logger.Error("Failed to publish notification",
			"error", err,
			"event_id", t.EventID,
			"alarm_id", t.AlarmID,
			"when", n.When)
		return false, false
	}
	d.delivered.Add(deliveryKey(t), struct{}{})

	if !d.config.AutoAcknowledge {
		return true, false
	}
	if _, err := d.engine.Acknowledge(ctx, t.Ref()); err != nil {
		d.logger.Warn("Failed to acknowledge delivered trigger",
			"error", err,
			"event_id", t.EventID,
			"alarm_id", t.AlarmID)
		return true, false
	}
	return true, true
}

func deliveryKey(t *models.Trigger) string {
	return t.Ref().Key() + "@" + t.Zulu()
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// cronLogger routes cron's logging through slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
