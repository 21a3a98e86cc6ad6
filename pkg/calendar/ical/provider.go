package ical

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/calendar"
	"github.com/venkytv/calendar-alarms/pkg/retry"
)

const userAgent = "calendar-alarms/1.0"

// maxFeedSize bounds the body read from a feed server
const maxFeedSize = 32 << 20

// Provider fetches a public ICS feed over HTTP
type Provider struct {
	name    string
	url     string
	client  *http.Client
	logger  *slog.Logger
	retryer *retry.Retryer
	parser  *Parser
}

// NewProvider creates a new iCal provider
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	config := retry.DefaultConfig()
	config.InitialDelay = 2 * time.Second
	return &Provider{
		name:    "iCal",
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		retryer: retry.NewRetryer(config, logger),
		parser:  NewParser(time.UTC, logger),
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider type identifier
func (p *Provider) Type() string {
	return "ical"
}

// Initialize sets up the provider for a feed URL. webcal:// URLs are
// fetched over https.
func (p *Provider) Initialize(ctx context.Context, feed calendar.FeedConfig) error {
	if feed.URL == "" {
		return fmt.Errorf("iCal URL is required")
	}
	loc, err := feed.Location()
	if err != nil {
		return err
	}
	if feed.Name != "" {
		p.name = feed.Name
	}
	p.url = NormalizeURL(feed.URL)
	p.parser.Location = loc
	p.parser.UserEmail = feed.UserEmail
	p.logger.Info("Initialized iCal provider", "feed", p.name, "url", p.url)
	return nil
}

// Fetch downloads and parses the feed
func (p *Provider) Fetch(ctx context.Context) ([]*models.Event, error) {
	if p.url == "" {
		return nil, fmt.Errorf("iCal provider not initialized")
	}
	body, err := Download(ctx, p.client, p.retryer, p.url, nil)
	if err != nil {
		return nil, err
	}
	return p.parser.Parse(bytes.NewReader(body))
}

// IsHealthy performs a health check by fetching the feed
func (p *Provider) IsHealthy(ctx context.Context) error {
	if _, err := p.Fetch(ctx); err != nil {
		return fmt.Errorf("iCal health check failed: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *Provider) Close() error {
	return nil
}

// NormalizeURL rewrites webcal:// links to https://.
func NormalizeURL(url string) string {
	if rest, ok := strings.CutPrefix(url, "webcal://"); ok {
		return "https://" + rest
	}
	return url
}

// Download GETs an ICS document with retries. decorate may add headers or
// credentials to each attempt's request.
func Download(ctx context.Context, client *http.Client, retryer *retry.Retryer, url string, decorate func(*http.Request)) ([]byte, error) {
	return retry.DoValue(ctx, retryer, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "text/calendar,application/calendar")
		req.Header.Set("User-Agent", userAgent)
		if decorate != nil {
			decorate(req)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, retry.NewHTTPError(resp.StatusCode, resp.Status, url)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return body, nil
	})
}
