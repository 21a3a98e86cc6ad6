package nats

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/engine"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

var commandNow = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func newCommandEngine(t *testing.T) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(nil, logger, engine.WithClock(func() time.Time { return commandNow }))
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	standup := &models.Event{
		ID:             "standup",
		Summary:        "Standup",
		Start:          models.NewDateTime(start),
		End:            models.NewDateTime(start.Add(15 * time.Minute)),
		RecurrenceRule: "FREQ=DAILY;COUNT=5",
		Alarms: []models.Alarm{
			{ID: "popup", Action: models.ActionDisplay, Trigger: models.Before(15 * time.Minute)},
		},
	}
	if err := e.ReplaceSource(context.Background(), "team", []engine.Series{{Master: standup}}); err != nil {
		t.Fatalf("ReplaceSource failed: %v", err)
	}
	return e
}

func command(t *testing.T, r *Responder, op string, cmd any) Reply {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Failed to encode command: %v", err)
	}
	var reply Reply
	if err := json.Unmarshal(r.Handle(context.Background(), op, data), &reply); err != nil {
		t.Fatalf("Failed to decode reply: %v", err)
	}
	return reply
}

func errorCode(t *testing.T, reply Reply) errs.Code {
	t.Helper()
	var body struct {
		Code errs.Code `json:"code"`
	}
	if err := json.Unmarshal(reply.Error, &body); err != nil {
		t.Fatalf("Failed to decode error payload %s: %v", reply.Error, err)
	}
	return body.Code
}

func TestResponder_Acknowledge(t *testing.T) {
	r := NewResponder(nil, "", newCommandEngine(t), nil)

	reply := command(t, r, "ack", Command{EventID: "standup", RecurrenceID: "20250304T090000Z", AlarmID: "popup"})
	if !reply.OK || reply.AcknowledgedAt != "20250303T080000Z" {
		t.Fatalf("Unexpected reply: %+v", reply)
	}

	again := command(t, r, "ack", Command{EventID: "standup", RecurrenceID: "20250304T090000Z", AlarmID: "popup"})
	if !again.OK || again.AcknowledgedAt != reply.AcknowledgedAt {
		t.Errorf("Expected idempotent acknowledgement, got %+v", again)
	}
}

func TestResponder_Snooze(t *testing.T) {
	r := NewResponder(nil, "", newCommandEngine(t), nil)

	tests := []struct {
		name  string
		delay string
		want  string
	}{
		{"rfc5545", "PT10M", "20250303T081000Z"},
		{"go duration", "1h", "20250303T090000Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := command(t, r, "snooze", Command{EventID: "standup", RecurrenceID: "20250305T090000Z", AlarmID: "popup", Delay: tt.delay})
			if !reply.OK || reply.Trigger == nil {
				t.Fatalf("Unexpected reply: %+v", reply)
			}
			if reply.Trigger.When != tt.want || !reply.Trigger.Snoozed {
				t.Errorf("Expected snoozed trigger at %s, got %+v", tt.want, reply.Trigger)
			}
		})
	}
}

func TestResponder_Errors(t *testing.T) {
	r := NewResponder(nil, "", newCommandEngine(t), nil)

	tests := []struct {
		name string
		op   string
		cmd  any
		code errs.Code
	}{
		{"missing alarm", "ack", Command{EventID: "standup"}, errs.CodeInvalidArgument},
		{"bad recurrence id", "ack", Command{EventID: "standup", AlarmID: "popup", RecurrenceID: "monday"}, errs.CodeInvalidArgument},
		{"unknown alarm", "ack", Command{EventID: "standup", AlarmID: "nope", RecurrenceID: "20250304T090000Z"}, errs.CodeAlarmNotFound},
		{"unknown occurrence", "ack", Command{EventID: "standup", AlarmID: "popup", RecurrenceID: "20250404T090000Z"}, errs.CodeOccurrenceNotFound},
		{"missing delay", "snooze", Command{EventID: "standup", AlarmID: "popup", RecurrenceID: "20250304T090000Z"}, errs.CodeInvalidArgument},
		{"bad delay", "snooze", Command{EventID: "standup", AlarmID: "popup", RecurrenceID: "20250304T090000Z", Delay: "soon"}, errs.CodeInvalidArgument},
		{"unknown command", "dismiss", Command{EventID: "standup", AlarmID: "popup"}, errs.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := command(t, r, tt.op, tt.cmd)
			if reply.OK {
				t.Fatalf("Expected failure, got %+v", reply)
			}
			if code := errorCode(t, reply); code != tt.code {
				t.Errorf("Expected %s, got %s", tt.code, code)
			}
		})
	}

	var reply Reply
	if err := json.Unmarshal(r.Handle(context.Background(), "ack", []byte("{")), &reply); err != nil {
		t.Fatalf("Failed to decode reply: %v", err)
	}
	if reply.OK || errorCode(t, reply) != errs.CodeInvalidArgument {
		t.Errorf("Expected malformed command to be rejected, got %+v", reply)
	}
}

func TestResponder_SnoozeAfterAcknowledge(t *testing.T) {
	r := NewResponder(nil, "", newCommandEngine(t), nil)
	cmd := Command{EventID: "standup", RecurrenceID: "20250306T090000Z", AlarmID: "popup", Delay: "PT5M"}

	if reply := command(t, r, "ack", cmd); !reply.OK {
		t.Fatalf("Acknowledge failed: %+v", reply)
	}
	reply := command(t, r, "snooze", cmd)
	if reply.OK || errorCode(t, reply) != errs.CodeAlreadyAcknowledged {
		t.Errorf("Expected ALREADY_ACKNOWLEDGED, got %+v", reply)
	}
}
