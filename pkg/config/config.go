package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/venkytv/calendar-alarms/pkg/calendar"
	"github.com/venkytv/calendar-alarms/pkg/dispatcher"
	"github.com/venkytv/calendar-alarms/pkg/engine"
	"github.com/venkytv/calendar-alarms/pkg/guard"
	"github.com/venkytv/calendar-alarms/pkg/metrics"
	"github.com/venkytv/calendar-alarms/pkg/nats"
)

type Config struct {
	Engine      EngineConfig           `yaml:"engine"`
	Feeds       []calendar.FeedConfig  `yaml:"feeds"`
	FeedManager calendar.ManagerConfig `yaml:"feed_manager"`
	Dispatcher  dispatcher.Config      `yaml:"dispatcher"`
	NATS        nats.Config            `yaml:"nats"`
	Metrics     metrics.Config         `yaml:"metrics"`
	Logging     LoggingConfig          `yaml:"logging"`
}

type EngineConfig struct {
	Limits guard.Limits `yaml:"limits"`
	// Timezone resolves floating and all-day events for viewers that do
	// not name one.
	Timezone  string `yaml:"timezone"`
	CacheSize *int   `yaml:"cache_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// BuildEngineConfig returns the engine configuration with the timezone resolved
func (c *Config) BuildEngineConfig() (*engine.Config, error) {
	ec := engine.DefaultConfig()
	ec.Limits = c.Engine.Limits
	if c.Engine.CacheSize != nil {
		ec.CacheSize = *c.Engine.CacheSize
	}
	if c.Engine.Timezone != "" {
		loc, err := time.LoadLocation(c.Engine.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid engine timezone %q: %w", c.Engine.Timezone, err)
		}
		ec.Location = loc
	}
	return ec, nil
}

func (c *Config) validate() error {
	if c.Engine.Limits == (guard.Limits{}) {
		c.Engine.Limits = guard.DefaultLimits()
	}
	if c.Engine.Limits.MaxOccurrences < 0 || c.Engine.Limits.MaxAttendees < 0 || c.Engine.Limits.MaxAlarms < 0 {
		return fmt.Errorf("engine limits must not be negative")
	}
	if c.Engine.CacheSize != nil && *c.Engine.CacheSize < 0 {
		return fmt.Errorf("engine cache_size must not be negative")
	}
	if c.Engine.Timezone != "" {
		if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
			return fmt.Errorf("engine timezone: %w", err)
		}
	}

	if len(c.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	seen := make(map[string]bool)
	for i, feed := range c.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("feeds[%d]: name is required", i)
		}
		if seen[feed.Name] {
			return fmt.Errorf("feeds[%d]: duplicate feed name %q", i, feed.Name)
		}
		seen[feed.Name] = true
		if feed.Type == "" {
			c.Feeds[i].Type = "ical"
		}
		if feed.URL == "" {
			return fmt.Errorf("feeds[%d]: url is required", i)
		}
		if _, err := feed.Location(); err != nil {
			return fmt.Errorf("feeds[%d]: %w", i, err)
		}
	}

	defaults := dispatcher.DefaultConfig()
	if c.Dispatcher.Schedule == "" {
		c.Dispatcher.Schedule = defaults.Schedule
	}
	if c.Dispatcher.RefreshSchedule == "" {
		c.Dispatcher.RefreshSchedule = defaults.RefreshSchedule
	}
	if c.Dispatcher.Lookback == 0 {
		c.Dispatcher.Lookback = defaults.Lookback
	}
	if c.Dispatcher.MaxConcurrent == 0 {
		c.Dispatcher.MaxConcurrent = defaults.MaxConcurrent
	}
	if c.Dispatcher.DeliveredCacheSize == 0 {
		c.Dispatcher.DeliveredCacheSize = defaults.DeliveredCacheSize
	}
	for _, action := range c.Dispatcher.Actions {
		if !action.Valid() {
			return fmt.Errorf("dispatcher: unknown alarm action %q", action)
		}
	}

	natsDefaults := nats.DefaultConfig()
	if c.NATS.URL == "" {
		c.NATS.URL = natsDefaults.URL
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = natsDefaults.Subject
	}
	if c.NATS.CommandSubject == "" {
		c.NATS.CommandSubject = natsDefaults.CommandSubject
	}
	if c.NATS.ConnectTimeout == 0 {
		c.NATS.ConnectTimeout = natsDefaults.ConnectTimeout
	}
	if c.NATS.ConnectAttempts == 0 {
		c.NATS.ConnectAttempts = natsDefaults.ConnectAttempts
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = natsDefaults.ReconnectWait
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = natsDefaults.MaxReconnects
	}
	if c.NATS.PingInterval == 0 {
		c.NATS.PingInterval = natsDefaults.PingInterval
	}
	if c.NATS.MaxPingsOut == 0 {
		c.NATS.MaxPingsOut = natsDefaults.MaxPingsOut
	}
	if c.NATS.ReconnectBuffer == 0 {
		c.NATS.ReconnectBuffer = natsDefaults.ReconnectBuffer
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = metrics.DefaultConfig().Address
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = metrics.DefaultConfig().Path
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
