package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/retry"
)

// Publisher publishes alarm notifications to NATS. Each notification goes
// to <subject>.<action>, e.g. calendar.alarms.display.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// Config holds NATS configuration
type Config struct {
	URL             string        `yaml:"url"`
	Subject         string        `yaml:"subject"`
	CommandSubject  string        `yaml:"command_subject"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxReconnects   int           `yaml:"max_reconnects"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxPingsOut     int           `yaml:"max_pings_out"`
	ReconnectBuffer int           `yaml:"reconnect_buffer"`
	// DryRun logs notifications instead of connecting to NATS.
	DryRun bool `yaml:"dry_run"`
}

// DefaultConfig returns a default NATS configuration
func DefaultConfig() *Config {
	return &Config{
		URL:             "nats://localhost:4222",
		Subject:         "calendar.alarms",
		CommandSubject:  "calendar.alarms.commands",
		ConnectTimeout:  5 * time.Second,
		ConnectAttempts: 3,
		ReconnectWait:   2 * time.Second,
		MaxReconnects:   10,
		PingInterval:    2 * time.Minute,
		MaxPingsOut:     2,
		ReconnectBuffer: 5 * 1024 * 1024, // 5MB
	}
}

// Connect opens a NATS connection with the configured reconnect behaviour.
// The initial dial is retried with backoff while no server is reachable.
func Connect(ctx context.Context, config *Config, logger *slog.Logger) (*nats.Conn, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	options := []nats.Option{
		nats.Name("calendar-alarms"),
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.PingInterval(config.PingInterval),
		nats.MaxPingsOutstanding(config.MaxPingsOut),
		nats.ReconnectBufSize(config.ReconnectBuffer),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error", "error", err, "subject", subject)
		}),
	}

	var conn *nats.Conn
	err := connectRetryer(config, logger).Do(ctx, func(context.Context) error {
		var err error
		conn, err = nats.Connect(config.URL, options...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, err)
	}
	return conn, nil
}

func connectRetryer(config *Config, logger *slog.Logger) *retry.Retryer {
	return retry.NewRetryer(&retry.Config{
		MaxAttempts:   config.ConnectAttempts,
		InitialDelay:  config.ReconnectWait,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		RetriableErrors: []string{
			nats.ErrNoServers.Error(),
			"connection refused",
			"timeout",
		},
	}, logger)
}

// NewPublisher creates a publisher on an open connection
func NewPublisher(conn *nats.Conn, subject string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultConfig().Subject
	}
	p := &Publisher{conn: conn, subject: subject, logger: logger}
	if conn != nil {
		logger.Info("NATS publisher initialized",
			"subject", subject,
			"connected_url", conn.ConnectedUrl())
	}
	return p
}

// SubjectFor returns the subject a notification is published on
func (p *Publisher) SubjectFor(n *models.Notification) string {
	return p.subject + "." + strings.ToLower(string(n.Action))
}

// Message builds the NATS message for a notification. The message id header
// lets JetStream streams drop redelivered notifications.
func (p *Publisher) Message(n *models.Notification) (*nats.Msg, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg := nats.NewMsg(p.SubjectFor(n))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, MessageID(n))
	return msg, nil
}

// MessageID identifies one delivery of one alarm instance
func MessageID(n *models.Notification) string {
	return n.EventID + "|" + n.RecurrenceID + "|" + n.AlarmID + "@" + n.When
}

// PublishNotification publishes a single notification
func (p *Publisher) PublishNotification(ctx context.Context, notification *models.Notification) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is not available")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := p.Message(notification)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.Debug("Published notification",
		"subject", msg.Subject,
		"event_id", notification.EventID,
		"alarm_id", notification.AlarmID,
		"when", notification.When)
	return nil
}

// Flush ensures all published messages have been sent
func (p *Publisher) Flush(timeout time.Duration) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is not available")
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("failed to flush NATS messages: %w", err)
	}
	return nil
}

// IsHealthy checks if the NATS connection is healthy
func (p *Publisher) IsHealthy() error {
	if p.conn == nil {
		return fmt.Errorf("NATS connection is nil")
	}
	if p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !p.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() error {
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.Flush(5 * time.Second); err != nil {
			p.logger.Warn("Failed to flush messages on close", "error", err)
		}
		p.conn.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// LogPublisher writes notifications to the log instead of NATS
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a dry-run publisher
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// PublishNotification logs the notification
func (p *LogPublisher) PublishNotification(ctx context.Context, n *models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.Info("Alarm due",
		"event_id", n.EventID,
		"recurrence_id", n.RecurrenceID,
		"alarm_id", n.AlarmID,
		"action", n.Action,
		"title", n.Title,
		"when", n.When,
		"snoozed", n.Snoozed,
		"stale", n.Stale)
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error {
	return nil
}
