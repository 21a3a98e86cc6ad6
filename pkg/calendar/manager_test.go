package calendar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/engine"
	"github.com/venkytv/calendar-alarms/pkg/retry"
)

// MockProvider implements Provider for testing
type MockProvider struct {
	mu       sync.Mutex
	name     string
	events   []*models.Event
	err      error
	fetches  int
	closed   bool
	initFeed FeedConfig
}

func NewMockProvider(name string, events ...*models.Event) *MockProvider {
	return &MockProvider{name: name, events: events}
}

func (m *MockProvider) Name() string { return m.name }
func (m *MockProvider) Type() string { return "mock" }

func (m *MockProvider) Initialize(ctx context.Context, feed FeedConfig) error {
	m.initFeed = feed
	return nil
}

func (m *MockProvider) Fetch(ctx context.Context) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*models.Event, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Clone()
	}
	return out, nil
}

func (m *MockProvider) IsHealthy(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MockProvider) Close() error {
	m.closed = true
	return nil
}

func (m *MockProvider) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockProvider) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

type recordingObserver struct {
	mu      sync.Mutex
	results map[string][]error
}

func (o *recordingObserver) FeedRefreshed(feed string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string][]error)
	}
	o.results[feed] = append(o.results[feed], err)
}

var feedNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine() *engine.Engine {
	return engine.New(nil, quietLogger(), engine.WithClock(func() time.Time { return feedNow }))
}

func reviewEvent() *models.Event {
	start := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	return &models.Event{
		ID:      "review@example.com",
		Summary: "Design review",
		Start:   models.NewDateTime(start),
		End:     models.NewDateTime(start.Add(time.Hour)),
		Alarms: []models.Alarm{
			{ID: "r1", Action: models.ActionDisplay, Trigger: models.Before(10 * time.Minute)},
		},
	}
}

func pendingTriggers(t *testing.T, e *engine.Engine) []*models.Trigger {
	t.Helper()
	triggers, err := e.Query(context.Background(), engine.QueryOptions{From: feedNow, Until: feedNow.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	return triggers
}

func TestManager_RefreshImportsFeeds(t *testing.T) {
	e := newEngine()
	m := NewManager(NewDefaultProviderFactory(nil), e, nil, quietLogger())
	observer := &recordingObserver{}
	m.SetObserver(observer)

	team := NewMockProvider("team", reviewEvent())
	if err := m.AddProvider(FeedConfig{Name: "team"}, team); err != nil {
		t.Fatalf("AddProvider failed: %v", err)
	}
	if err := m.AddProvider(FeedConfig{Name: "team"}, team); err == nil {
		t.Error("Expected error for duplicate feed name")
	}

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	triggers := pendingTriggers(t, e)
	if len(triggers) != 1 {
		t.Fatalf("Expected 1 trigger, got %d", len(triggers))
	}
	if triggers[0].Zulu() != "20250303T135000Z" {
		t.Errorf("Expected trigger at 20250303T135000Z, got %s", triggers[0].Zulu())
	}
	if triggers[0].Stale {
		t.Error("Expected fresh trigger")
	}

	status := m.Status()
	if len(status) != 1 || status[0].Series != 1 || status[0].Stale || status[0].Breaker != "closed" {
		t.Errorf("Unexpected status: %+v", status)
	}
	if len(observer.results["team"]) != 1 || observer.results["team"][0] != nil {
		t.Errorf("Expected one successful refresh, got %v", observer.results["team"])
	}
}

func TestManager_FailureKeepsLastKnownGood(t *testing.T) {
	e := newEngine()
	m := NewManager(NewDefaultProviderFactory(nil), e, &ManagerConfig{
		Breaker: &retry.CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour, SuccessThreshold: 1},
	}, quietLogger())

	team := NewMockProvider("team", reviewEvent())
	if err := m.AddProvider(FeedConfig{Name: "team"}, team); err != nil {
		t.Fatalf("AddProvider failed: %v", err)
	}
	ctx := context.Background()
	if err := m.RefreshFeed(ctx, "team"); err != nil {
		t.Fatalf("RefreshFeed failed: %v", err)
	}

	outage := errors.New("connection refused")
	team.fail(outage)
	err := m.RefreshFeed(ctx, "team")
	if !errors.Is(err, outage) {
		t.Errorf("Expected outage error, got: %v", err)
	}

	triggers := pendingTriggers(t, e)
	if len(triggers) != 1 {
		t.Fatalf("Expected last known good trigger, got %d", len(triggers))
	}
	if !triggers[0].Stale {
		t.Error("Expected stale trigger")
	}

	// Second failure opens the breaker; the feed is no longer contacted
	_ = m.RefreshFeed(ctx, "team")
	before := team.fetchCount()
	err = m.RefreshFeed(ctx, "team")
	if !errors.Is(err, retry.ErrCircuitOpen) {
		t.Errorf("Expected open circuit, got: %v", err)
	}
	if team.fetchCount() != before {
		t.Error("Expected no fetch while the circuit is open")
	}
	status := m.Status()[0]
	if status.Breaker != "open" || !status.Stale || status.RetryAt.IsZero() {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestManager_RecoveryClearsStale(t *testing.T) {
	e := newEngine()
	m := NewManager(NewDefaultProviderFactory(nil), e, nil, quietLogger())
	team := NewMockProvider("team", reviewEvent())
	if err := m.AddProvider(FeedConfig{Name: "team"}, team); err != nil {
		t.Fatalf("AddProvider failed: %v", err)
	}
	ctx := context.Background()

	_ = m.RefreshFeed(ctx, "team")
	team.fail(errors.New("timeout"))
	_ = m.RefreshFeed(ctx, "team")
	if !e.SourceStale("team") {
		t.Fatal("Expected stale source")
	}

	team.fail(nil)
	if err := m.RefreshFeed(ctx, "team"); err != nil {
		t.Fatalf("RefreshFeed failed: %v", err)
	}
	if e.SourceStale("team") {
		t.Error("Expected fresh source after recovery")
	}
}

func TestManager_FailingFeedDoesNotBlockOthers(t *testing.T) {
	e := newEngine()
	m := NewManager(NewDefaultProviderFactory(nil), e, &ManagerConfig{Concurrency: 1}, quietLogger())

	broken := NewMockProvider("broken")
	broken.fail(errors.New("no such host"))
	team := NewMockProvider("team", reviewEvent())
	for name, p := range map[string]*MockProvider{"broken": broken, "team": team} {
		if err := m.AddProvider(FeedConfig{Name: name}, p); err != nil {
			t.Fatalf("AddProvider failed: %v", err)
		}
	}

	err := m.Refresh(context.Background())
	if err == nil {
		t.Error("Expected joined error from the broken feed")
	}
	if len(pendingTriggers(t, e)) != 1 {
		t.Error("Expected the healthy feed to be imported")
	}
	health := m.HealthCheck(context.Background())
	if health["broken"] == nil || health["team"] != nil {
		t.Errorf("Unexpected health results: %v", health)
	}
}

func TestManager_AddFeedUsesFactory(t *testing.T) {
	factory := NewDefaultProviderFactory(nil)
	mock := NewMockProvider("team")
	factory.RegisterProvider("mock", func(*slog.Logger) Provider { return mock })

	m := NewManager(factory, newEngine(), nil, quietLogger())
	fc := FeedConfig{Name: "team", Type: "mock", URL: "https://feeds.test/team.ics"}
	if err := m.AddFeed(context.Background(), fc); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	if mock.initFeed.URL != fc.URL {
		t.Errorf("Expected provider initialized with %s, got %s", fc.URL, mock.initFeed.URL)
	}
	if err := m.AddFeed(context.Background(), FeedConfig{Name: "x", Type: "google"}); err == nil {
		t.Error("Expected error for unsupported provider type")
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !mock.closed {
		t.Error("Expected provider to be closed")
	}
}

func TestManager_SetObserverDuringRefresh(t *testing.T) {
	e := newEngine()
	m := NewManager(NewDefaultProviderFactory(nil), e, nil, quietLogger())
	if err := m.AddProvider(FeedConfig{Name: "team"}, NewMockProvider("team", reviewEvent())); err != nil {
		t.Fatalf("AddProvider failed: %v", err)
	}

	observer := &recordingObserver{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = m.Refresh(context.Background())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			m.SetObserver(observer)
		}
	}()
	wg.Wait()

	if err := m.RefreshFeed(context.Background(), "team"); err != nil {
		t.Fatalf("RefreshFeed failed: %v", err)
	}
	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.results["team"]) == 0 {
		t.Error("Expected the observer to see refreshes once installed")
	}
}
