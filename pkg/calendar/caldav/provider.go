package caldav

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/calendar"
	"github.com/venkytv/calendar-alarms/pkg/calendar/ical"
	"github.com/venkytv/calendar-alarms/pkg/retry"
)

// SimpleProvider fetches a calendar collection from a CalDAV server as a
// single ICS export, authenticating with HTTP basic auth
type SimpleProvider struct {
	name     string
	url      string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
	retryer  *retry.Retryer
	parser   *ical.Parser
}

// NewSimpleProvider creates a new simple CalDAV provider
func NewSimpleProvider(logger *slog.Logger) *SimpleProvider {
	if logger == nil {
		logger = slog.Default()
	}
	config := retry.DefaultConfig()
	config.InitialDelay = 2 * time.Second
	return &SimpleProvider{
		name:    "CalDAV",
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		retryer: retry.NewRetryer(config, logger),
		parser:  ical.NewParser(time.UTC, logger),
	}
}

// Name returns the provider name
func (p *SimpleProvider) Name() string {
	return p.name
}

// Type returns the provider type identifier
func (p *SimpleProvider) Type() string {
	return "caldav"
}

// Initialize sets up the provider with the collection URL and credentials.
// The username doubles as the attendee address when no user email is set.
func (p *SimpleProvider) Initialize(ctx context.Context, feed calendar.FeedConfig) error {
	if feed.URL == "" {
		return fmt.Errorf("CalDAV URL is required")
	}
	if feed.Username == "" {
		return fmt.Errorf("CalDAV username is required")
	}
	if feed.Password == "" {
		return fmt.Errorf("CalDAV password is required")
	}
	loc, err := feed.Location()
	if err != nil {
		return err
	}

	if feed.Name != "" {
		p.name = feed.Name
	}
	p.url = feed.URL
	p.username = feed.Username
	p.password = feed.Password
	p.parser.Location = loc
	p.parser.UserEmail = feed.UserEmail
	if p.parser.UserEmail == "" {
		p.parser.UserEmail = feed.Username
	}
	p.logger.Info("Initialized CalDAV provider", "feed", p.name, "url", p.url, "username", p.username)
	return nil
}

// Fetch downloads and parses the collection
func (p *SimpleProvider) Fetch(ctx context.Context) ([]*models.Event, error) {
	if p.url == "" {
		return nil, fmt.Errorf("CalDAV provider not initialized")
	}
	body, err := ical.Download(ctx, p.client, p.retryer, p.url, func(req *http.Request) {
		req.SetBasicAuth(p.username, p.password)
	})
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Fetched CalDAV data", "feed", p.name, "content_length", len(body))
	return p.parser.Parse(bytes.NewReader(body))
}

// IsHealthy performs a health check by fetching the collection
func (p *SimpleProvider) IsHealthy(ctx context.Context) error {
	if _, err := p.Fetch(ctx); err != nil {
		return fmt.Errorf("CalDAV health check failed: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *SimpleProvider) Close() error {
	return nil
}
