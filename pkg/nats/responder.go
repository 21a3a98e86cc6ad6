package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

const queueGroup = "calendar-alarms"

// Commands is the part of the engine clients drive over NATS
type Commands interface {
	Acknowledge(ctx context.Context, ref models.InstanceRef) (time.Time, error)
	Snooze(ctx context.Context, ref models.InstanceRef, delay time.Duration) (*models.Trigger, error)
}

// Command addresses one alarm instance. Delay is only read by snooze and
// accepts an RFC 5545 duration ("PT10M") or a Go duration ("10m").
type Command struct {
	EventID      string `json:"event_id"`
	RecurrenceID string `json:"recurrence_id,omitempty"`
	AlarmID      string `json:"alarm_id"`
	Delay        string `json:"delay,omitempty"`
}

// Reply answers a command
type Reply struct {
	OK             bool                 `json:"ok"`
	AcknowledgedAt string               `json:"acknowledged_at,omitempty"`
	Trigger        *models.Notification `json:"trigger,omitempty"`
	Error          json.RawMessage      `json:"error,omitempty"`
}

// Responder serves acknowledge and snooze requests on
// <subject>.ack and <subject>.snooze
type Responder struct {
	conn    *nats.Conn
	subject string
	engine  Commands
	timeout time.Duration
	logger  *slog.Logger
	subs    []*nats.Subscription
}

// NewResponder creates a responder
func NewResponder(conn *nats.Conn, subject string, engine Commands, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultConfig().CommandSubject
	}
	return &Responder{
		conn:    conn,
		subject: subject,
		engine:  engine,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Start subscribes to the command subjects. Replicas share the work through
// a queue group.
func (r *Responder) Start() error {
	for _, op := range []string{"ack", "snooze"} {
		subject := r.subject + "." + op
		sub, err := r.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := msg.Respond(r.Handle(ctx, op, msg.Data)); err != nil {
				r.logger.Warn("Failed to reply to command", "subject", msg.Subject, "error", err)
			}
		})
		if err != nil {
			r.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	r.logger.Info("Command responder started", "subject", r.subject+".>")
	return nil
}

// Handle runs one command and returns the encoded reply
func (r *Responder) Handle(ctx context.Context, op string, data []byte) []byte {
	reply := r.handle(ctx, op, data)
	out, err := json.Marshal(reply)
	if err != nil {
		return []byte(`{"ok":false}`)
	}
	return out
}

func (r *Responder) handle(ctx context.Context, op string, data []byte) Reply {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return failure(errs.New(errs.CodeInvalidArgument, "malformed command", "error", err))
	}
	ref, err := cmd.ref()
	if err != nil {
		return failure(err)
	}

	switch op {
	case "ack":
		at, err := r.engine.Acknowledge(ctx, ref)
		if err != nil {
			r.logger.Debug("Acknowledge rejected", "event_id", ref.EventID, "alarm_id", ref.AlarmID, "error", err)
			return failure(err)
		}
		r.logger.Info("Alarm acknowledged", "event_id", ref.EventID, "alarm_id", ref.AlarmID)
		return Reply{OK: true, AcknowledgedAt: models.FormatZulu(at)}

	case "snooze":
		delay, err := parseDelay(cmd.Delay)
		if err != nil {
			return failure(err)
		}
		trigger, err := r.engine.Snooze(ctx, ref, delay)
		if err != nil {
			r.logger.Debug("Snooze rejected", "event_id", ref.EventID, "alarm_id", ref.AlarmID, "error", err)
			return failure(err)
		}
		r.logger.Info("Alarm snoozed", "event_id", ref.EventID, "alarm_id", ref.AlarmID, "until", trigger.Zulu())
		return Reply{OK: true, Trigger: models.NewNotification(trigger)}
	}
	return failure(errs.New(errs.CodeInvalidArgument, "unknown command", "command", op))
}

func (c Command) ref() (models.InstanceRef, error) {
	if c.EventID == "" || c.AlarmID == "" {
		return models.InstanceRef{}, errs.New(errs.CodeInvalidArgument, "event_id and alarm_id are required")
	}
	ref := models.InstanceRef{EventID: c.EventID, AlarmID: c.AlarmID}
	if c.RecurrenceID != "" {
		rid, err := models.ParseRecurrenceID(c.RecurrenceID)
		if err != nil {
			return models.InstanceRef{}, errs.New(errs.CodeInvalidArgument, "invalid recurrence id", "recurrence_id", c.RecurrenceID)
		}
		ref.RecurrenceID = &rid
	}
	return ref, nil
}

func parseDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, errs.New(errs.CodeInvalidArgument, "snooze needs a delay")
	}
	if d, err := models.ParseDuration(s); err == nil {
		return d.Approx(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errs.New(errs.CodeInvalidArgument, "invalid snooze delay", "delay", s)
	}
	return d, nil
}

func failure(err error) Reply {
	var coded *errs.Error
	if !errors.As(err, &coded) {
		coded = &errs.Error{Message: err.Error()}
	}
	return Reply{Error: coded.Payload()}
}

// Close unsubscribes from the command subjects
func (r *Responder) Close() error {
	var errList []error
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			errList = append(errList, err)
		}
	}
	r.subs = nil
	return errors.Join(errList...)
}
