package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venkytv/calendar-alarms/pkg/retry"
)

// ManagerConfig holds feed manager settings
type ManagerConfig struct {
	Coordinator *CoordinatorConfig          `yaml:"coordinator"`
	Breaker     *retry.CircuitBreakerConfig `yaml:"circuit_breaker"`
	// Concurrency bounds the number of feeds refreshed at once
	Concurrency int `yaml:"concurrency"`
}

// Manager refreshes the configured feeds into a Sink. A feed whose refresh
// fails keeps its last imported series, flagged stale; after repeated
// failures its circuit breaker keeps it from being contacted until the open
// window has passed.
type Manager struct {
	factory     ProviderFactory
	sink        Sink
	coordinator *SeriesCoordinator
	breaker     *retry.CircuitBreakerConfig
	concurrency int
	observer    FeedObserver
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.RWMutex
	feeds map[string]*feed
}

type feed struct {
	config   FeedConfig
	provider Provider
	breaker  *retry.CircuitBreaker

	// mu serializes refreshes of the feed and guards status
	mu     sync.Mutex
	status FeedStatus
}

// NewManager creates a feed manager
func NewManager(factory ProviderFactory, sink Sink, config *ManagerConfig, logger *slog.Logger) *Manager {
	if config == nil {
		config = &ManagerConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Manager{
		factory:     factory,
		sink:        sink,
		coordinator: NewSeriesCoordinator(config.Coordinator, logger),
		breaker:     config.Breaker,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
		feeds:       make(map[string]*feed),
	}
}

// SetObserver registers an observer for refresh outcomes
func (m *Manager) SetObserver(o FeedObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

func (m *Manager) feedObserver() FeedObserver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.observer
}

// AddFeed creates and initializes the provider for a feed
func (m *Manager) AddFeed(ctx context.Context, fc FeedConfig) error {
	provider, err := m.factory.CreateProvider(fc.Type)
	if err != nil {
		return fmt.Errorf("feed %s: %w", fc.Name, err)
	}
	if err := provider.Initialize(ctx, fc); err != nil {
		return fmt.Errorf("feed %s: failed to initialize provider: %w", fc.Name, err)
	}
	return m.AddProvider(fc, provider)
}

// AddProvider registers an initialized provider for a feed
func (m *Manager) AddProvider(fc FeedConfig, provider Provider) error {
	if fc.Name == "" {
		return fmt.Errorf("feed name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.feeds[fc.Name]; exists {
		return fmt.Errorf("duplicate feed name: %s", fc.Name)
	}
	m.feeds[fc.Name] = &feed{
		config:   fc,
		provider: provider,
		breaker:  retry.NewCircuitBreaker(fc.Name, m.breaker, m.logger),
		status:   FeedStatus{Name: fc.Name, Type: provider.Type()},
	}
	m.logger.Info("Added feed", "feed", fc.Name, "provider_type", provider.Type())
	return nil
}

// FeedNames returns the configured feed names in sorted order
func (m *Manager) FeedNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.feeds))
	for name := range m.feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) feed(name string) (*feed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.feeds[name]
	return f, ok
}

// Refresh refreshes every feed. A failing feed does not stop the others;
// the returned error joins the individual failures.
func (m *Manager) Refresh(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, name := range m.FeedNames() {
		g.Go(func() error {
			if err := m.RefreshFeed(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RefreshFeed fetches one feed and replaces its series in the sink.
func (m *Manager) RefreshFeed(ctx context.Context, name string) error {
	f, ok := m.feed(name)
	if !ok {
		return fmt.Errorf("unknown feed: %s", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	start := m.now()
	var stats CoordinationStats
	err := f.breaker.Execute(func() error {
		events, err := f.provider.Fetch(ctx)
		if err != nil {
			return err
		}
		series, s := m.coordinator.Coordinate(events)
		stats = s
		return m.sink.ReplaceSource(ctx, name, series)
	})
	if observer := m.feedObserver(); observer != nil {
		observer.FeedRefreshed(name, err)
	}

	if err != nil {
		m.sink.MarkSourceStale(name, true)
		f.status.Stale = true
		f.status.LastError = err.Error()
		if errors.Is(err, retry.ErrCircuitOpen) {
			m.logger.Debug("Feed refresh skipped while circuit is open",
				"feed", name,
				"retry_at", f.breaker.RetryAt())
		} else {
			m.logger.Warn("Feed refresh failed, keeping last known good events",
				"feed", name,
				"error", err)
		}
		return fmt.Errorf("refresh feed %s: %w", name, err)
	}

	m.sink.MarkSourceStale(name, false)
	f.status.Stale = false
	f.status.LastError = ""
	f.status.LastSuccess = m.now()
	f.status.Series = stats.Series
	m.logger.Info("Feed refreshed",
		"feed", name,
		"series", stats.Series,
		"exceptions", stats.Exceptions,
		"duplicates", stats.Duplicates,
		"elapsed", m.now().Sub(start))
	return nil
}

// Status returns the refresh state of every feed, ordered by name
func (m *Manager) Status() []FeedStatus {
	var out []FeedStatus
	for _, name := range m.FeedNames() {
		f, ok := m.feed(name)
		if !ok {
			continue
		}
		f.mu.Lock()
		st := f.status
		f.mu.Unlock()
		st.Breaker = f.breaker.State().String()
		st.RetryAt = f.breaker.RetryAt()
		out = append(out, st)
	}
	return out
}

// HealthCheck performs health checks on all providers
func (m *Manager) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, name := range m.FeedNames() {
		if f, ok := m.feed(name); ok {
			results[name] = f.provider.IsHealthy(ctx)
		}
	}
	return results
}

// Close closes all providers
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for name, f := range m.feeds {
		if err := f.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
