// Package calendar imports external calendar feeds into the alarm engine.
// Each configured feed is a source: its events replace the source's series
// on every refresh, and a failed refresh keeps the last known good series
// flagged as stale.
package calendar

import (
	"context"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/engine"
)

// Provider fetches the raw events of one feed
type Provider interface {
	// Name returns the human-readable name of the provider
	Name() string

	// Type returns the provider type identifier (e.g., "ical", "caldav")
	Type() string

	// Initialize configures the provider for a feed
	Initialize(ctx context.Context, feed FeedConfig) error

	// Fetch returns every event of the feed: masters, single events and
	// overridden instances, with recurrence rules unexpanded
	Fetch(ctx context.Context) ([]*models.Event, error)

	// IsHealthy performs a health check on the provider
	IsHealthy(ctx context.Context) error

	// Close cleans up any resources used by the provider
	Close() error
}

// ProviderFactory creates providers by type
type ProviderFactory interface {
	// CreateProvider creates a new provider instance
	CreateProvider(providerType string) (Provider, error)

	// SupportedTypes returns the registered provider types
	SupportedTypes() []string
}

// Sink receives refreshed feed contents. *engine.Engine implements it.
type Sink interface {
	ReplaceSource(ctx context.Context, source string, series []engine.Series) error
	MarkSourceStale(source string, stale bool)
}

// FeedObserver is notified about refresh outcomes.
type FeedObserver interface {
	FeedRefreshed(feed string, err error)
}

var _ Sink = (*engine.Engine)(nil)
