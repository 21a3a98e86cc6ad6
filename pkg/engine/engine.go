// Package engine maintains calendar series and answers alarm trigger queries.
//
// Series are stored as immutable snapshots. Every mutation runs inside the
// exclusive section of the series it touches (read snapshot, compute the
// next one, commit), so a snooze can never be lost to a concurrent
// propagation pass. Queries read snapshot pointers under a shared lock and
// compute triggers outside of it.
package engine

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/alarm"
	"github.com/venkytv/calendar-alarms/pkg/guard"
)

const lockStripes = 256

// Config holds the engine configuration
type Config struct {
	Limits guard.Limits `yaml:"limits"`
	// Location resolves floating events when a query names no viewer zone.
	Location *time.Location `yaml:"-"`
	// CacheSize is the number of expansions kept for non-floating series.
	// Zero disables the cache.
	CacheSize int `yaml:"cache_size"`
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Limits:    guard.DefaultLimits(),
		Location:  time.UTC,
		CacheSize: 1024,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides how alarm and event ids are generated.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// WithObserver installs an observer for instrumentation.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// Engine is the alarm trigger engine
type Engine struct {
	config *Config
	guard  *guard.Guard
	calc   *alarm.Calculator
	logger *slog.Logger

	now      func() time.Time
	newID    func() string
	observer Observer

	locks [lockStripes]sync.Mutex

	mu         sync.RWMutex
	series     map[string]*seriesState
	eventIndex map[string]string // event id -> series id
	stale      map[string]bool   // feed source -> last refresh failed

	versions atomic.Uint64
	cache    *lru.Cache[cacheKey, []models.Occurrence]
}

// New creates an engine
func New(config *Config, logger *slog.Logger, opts ...Option) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		config:     config,
		guard:      guard.New(config.Limits),
		calc:       alarm.NewCalculator(config.Location),
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		observer:   nopObserver{},
		series:     make(map[string]*seriesState),
		eventIndex: make(map[string]string),
		stale:      make(map[string]bool),
	}

	for _, opt := range opts {
		opt(e)
	}

	if config.CacheSize > 0 {
		cache, err := lru.New[cacheKey, []models.Occurrence](config.CacheSize)
		if err != nil {
			logger.Warn("Expansion cache disabled", "error", err)
		} else {
			e.cache = cache
		}
	}

	return e
}

// Limits returns the self-protection limits in force.
func (e *Engine) Limits() guard.Limits {
	return e.guard.Limits()
}

func stripe(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % lockStripes)
}

// lockSeries enters the exclusive section of every given series. Stripes are
// taken in ascending order so overlapping callers cannot deadlock.
func (e *Engine) lockSeries(ids ...string) func() {
	seen := make(map[int]bool, len(ids))
	var stripes []int
	for _, id := range ids {
		s := stripe(id)
		if !seen[s] {
			seen[s] = true
			stripes = append(stripes, s)
		}
	}
	sort.Ints(stripes)

	for _, s := range stripes {
		e.locks[s].Lock()
	}
	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			e.locks[stripes[i]].Unlock()
		}
	}
}

func (e *Engine) snapshot(seriesID string) *seriesState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.series[seriesID]
}

func (e *Engine) seriesOf(eventID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.eventIndex[eventID]
	return id, ok
}

// update runs fn inside the exclusive sections of ids. fn receives the
// current snapshots (nil for missing series) and returns the snapshots to
// publish; a nil entry deletes that series. Nothing is published when fn
// fails.
func (e *Engine) update(ids []string, fn func(cur map[string]*seriesState) (map[string]*seriesState, error)) error {
	unlock := e.lockSeries(ids...)
	defer unlock()

	cur := make(map[string]*seriesState, len(ids))
	e.mu.RLock()
	for _, id := range ids {
		cur[id] = e.series[id]
	}
	e.mu.RUnlock()

	next, err := fn(cur)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Events may move between the given series, so unindex everything first.
	for id, state := range next {
		old := e.series[id]
		if old == nil || old == state {
			continue
		}
		for _, eventID := range old.eventIDs() {
			delete(e.eventIndex, eventID)
		}
	}
	for id, state := range next {
		if state == nil {
			delete(e.series, id)
			continue
		}
		if e.series[id] == state {
			continue
		}
		state.version = e.versions.Add(1)
		e.series[id] = state
		for _, eventID := range state.eventIDs() {
			e.eventIndex[eventID] = id
		}
	}
	return nil
}

// updateOne is update for a single series.
func (e *Engine) updateOne(id string, fn func(cur *seriesState) (*seriesState, error)) error {
	return e.update([]string{id}, func(cur map[string]*seriesState) (map[string]*seriesState, error) {
		next, err := fn(cur[id])
		if err != nil {
			return nil, err
		}
		return map[string]*seriesState{id: next}, nil
	})
}

// SeriesCount returns the number of stored series.
func (e *Engine) SeriesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.series)
}

// Event returns a copy of a stored event (master, single or exception).
func (e *Engine) Event(ctx context.Context, eventID string) (*models.Event, bool) {
	seriesID, ok := e.seriesOf(eventID)
	if !ok {
		return nil, false
	}
	state := e.snapshot(seriesID)
	if state == nil {
		return nil, false
	}
	ev := state.findEvent(eventID)
	if ev == nil {
		return nil, false
	}
	return ev.Clone(), true
}

// Exceptions returns copies of a series' change exceptions ordered by recurrence id.
func (e *Engine) Exceptions(ctx context.Context, seriesID string) []*models.Event {
	state := e.snapshot(seriesID)
	if state == nil {
		return nil
	}
	var out []*models.Event
	for _, ex := range state.sortedExceptions() {
		out = append(out, ex.Clone())
	}
	return out
}
