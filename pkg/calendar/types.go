package calendar

import (
	"fmt"
	"time"
)

// FeedConfig describes one external feed
type FeedConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// UserEmail identifies the account owner among attendees; events the
	// owner declined raise no alarms
	UserEmail string `yaml:"user_email,omitempty"`
	// Timezone is used for TZIDs the feed defines but the system does not know
	Timezone string `yaml:"timezone,omitempty"`
}

// Location returns the feed's fallback timezone.
func (f FeedConfig) Location() (*time.Location, error) {
	if f.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("feed %s: unknown timezone %q: %w", f.Name, f.Timezone, err)
	}
	return loc, nil
}

// FeedStatus reports the refresh state of a feed
type FeedStatus struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Stale       bool      `json:"stale"`
	Series      int       `json:"series"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Breaker     string    `json:"breaker"`
	RetryAt     time.Time `json:"retry_at,omitempty"`
}
