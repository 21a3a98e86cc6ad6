package ical

import (
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/venkytv/calendar-alarms/internal/models"
)

const (
	dateTimeLayout = "20060102T150405"
	dateLayout     = "20060102"
)

var (
	propRecurrenceID = ics.ComponentProperty("RECURRENCE-ID")
	propLastModified = ics.ComponentProperty("LAST-MODIFIED")
	propDuration     = ics.ComponentProperty("DURATION")
	propStatus       = ics.ComponentProperty("STATUS")
	propAttach       = ics.ComponentProperty("ATTACH")
)

// Parser converts ICS data into events. Values with a TZID that cannot be
// loaded are read in Location. Events UserEmail declined are dropped.
type Parser struct {
	Location  *time.Location
	UserEmail string
	logger    *slog.Logger
}

// NewParser creates a Parser. A nil location means UTC.
func NewParser(loc *time.Location, logger *slog.Logger) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{Location: loc, logger: logger}
}

// Parse reads every VEVENT of an ICS document. Masters, single events and
// overridden instances (RECURRENCE-ID) are all returned as separate events
// keyed by their UID; grouping them into series is left to the caller.
// Components that cannot be converted are logged and skipped.
func (p *Parser) Parse(r io.Reader) ([]*models.Event, error) {
	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse iCal data: %w", err)
	}

	var events []*models.Event
	for _, ve := range cal.Events() {
		ev, err := p.ConvertEvent(ve)
		if err != nil {
			p.logger.Warn("Skipping iCal event", "uid", ve.Id(), "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// ConvertEvent converts one VEVENT. Cancelled or declined overridden
// instances come back as events without a start; the coordinator turns them
// into deleted occurrences. Cancelled or declined masters return nil.
func (p *Parser) ConvertEvent(ve *ics.VEvent) (*models.Event, error) {
	uid := ve.Id()
	if uid == "" {
		return nil, fmt.Errorf("event missing UID")
	}
	ev := &models.Event{ID: uid}

	if prop := ve.GetProperty(propRecurrenceID); prop != nil {
		dt, err := p.dateTime(prop.Value, prop.ICalParameters)
		if err != nil {
			return nil, fmt.Errorf("bad RECURRENCE-ID: %w", err)
		}
		rid := models.NewRecurrenceID(dt)
		ev.RecurrenceID = &rid
	}

	if prop := ve.GetProperty(propStatus); prop != nil && strings.EqualFold(prop.Value, "CANCELLED") {
		if ev.RecurrenceID == nil {
			p.logger.Debug("Skipping cancelled event", "uid", uid)
			return nil, nil
		}
		return ev, nil
	}

	if prop := ve.GetProperty(ics.ComponentPropertySummary); prop != nil {
		ev.Summary = prop.Value
	}
	if prop := ve.GetProperty(ics.ComponentPropertySequence); prop != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(prop.Value)); err == nil {
			ev.Sequence = n
		}
	}
	if prop := ve.GetProperty(propLastModified); prop != nil {
		if t, err := models.ParseZulu(prop.Value); err == nil {
			ev.LastModified = t
		}
	}

	start := ve.GetProperty(ics.ComponentPropertyDtStart)
	if start == nil {
		return nil, fmt.Errorf("event missing DTSTART")
	}
	var err error
	if ev.Start, err = p.dateTime(start.Value, start.ICalParameters); err != nil {
		return nil, fmt.Errorf("bad DTSTART: %w", err)
	}

	switch end, dur := ve.GetProperty(ics.ComponentPropertyDtEnd), ve.GetProperty(propDuration); {
	case end != nil:
		if ev.End, err = p.dateTime(end.Value, end.ICalParameters); err != nil {
			return nil, fmt.Errorf("bad DTEND: %w", err)
		}
	case dur != nil:
		d, err := models.ParseDuration(dur.Value)
		if err != nil {
			return nil, fmt.Errorf("bad DURATION: %w", err)
		}
		ev.End = ev.Start
		ev.End.Time = d.AddTo(ev.Start.Time)
	case ev.Start.AllDay:
		ev.End = ev.Start
		ev.End.Time = ev.Start.Time.AddDate(0, 0, 1)
	}

	if prop := ve.GetProperty(ics.ComponentPropertyRrule); prop != nil && ev.RecurrenceID == nil {
		ev.RecurrenceRule = prop.Value
	}
	for _, prop := range ve.GetProperties(ics.ComponentPropertyExdate) {
		for _, v := range strings.Split(prop.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			dt, err := p.dateTime(v, prop.ICalParameters)
			if err != nil {
				p.logger.Warn("Ignoring bad EXDATE", "uid", uid, "value", v, "error", err)
				continue
			}
			ev.DeleteExceptionDates = append(ev.DeleteExceptionDates, models.NewRecurrenceID(dt))
		}
	}

	for _, prop := range ve.GetProperties(ics.ComponentPropertyAttendee) {
		ev.Attendees = append(ev.Attendees, attendee(prop))
	}
	if ResponseStatus(ev.Attendees, p.UserEmail) == "declined" {
		p.logger.Debug("Skipping declined event", "uid", uid)
		if ev.RecurrenceID == nil {
			return nil, nil
		}
		return &models.Event{ID: uid, RecurrenceID: ev.RecurrenceID}, nil
	}

	ev.Alarms = []models.Alarm{}
	seen := make(map[string]int)
	for _, va := range ve.Alarms() {
		a, err := p.convertAlarm(va)
		if err != nil {
			p.logger.Warn("Skipping iCal alarm", "uid", uid, "error", err)
			continue
		}
		if a == nil {
			continue
		}
		if a.ID == "" {
			a.ID = alarmID(a, seen)
		}
		ev.Alarms = append(ev.Alarms, *a)
	}

	return ev, nil
}

// ResponseStatus returns the participation status of email among the
// attendees, or "" when email is not invited.
func ResponseStatus(attendees []models.Attendee, email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	for _, a := range attendees {
		if strings.TrimPrefix(strings.ToLower(a.URI), "mailto:") == email {
			return a.ResponseStatus
		}
	}
	return ""
}

func attendee(prop *ics.IANAProperty) models.Attendee {
	a := models.Attendee{URI: strings.TrimSpace(prop.Value), ResponseStatus: "needsAction"}
	if cn := prop.ICalParameters["CN"]; len(cn) > 0 {
		a.CommonName = cn[0]
	}
	if ps := prop.ICalParameters["PARTSTAT"]; len(ps) > 0 {
		switch strings.ToUpper(ps[0]) {
		case "ACCEPTED":
			a.ResponseStatus = "accepted"
		case "DECLINED":
			a.ResponseStatus = "declined"
		case "TENTATIVE":
			a.ResponseStatus = "tentative"
		case "NEEDS-ACTION":
			a.ResponseStatus = "needsAction"
		default:
			a.ResponseStatus = strings.ToLower(ps[0])
		}
	}
	return a
}

// convertAlarm converts a VALARM. Actions the engine does not fire
// (PROCEDURE, NONE, vendor extensions) return nil.
func (p *Parser) convertAlarm(va *ics.VAlarm) (*models.Alarm, error) {
	a := &models.Alarm{}

	action := va.GetProperty(ics.ComponentPropertyAction)
	if action == nil {
		return nil, fmt.Errorf("alarm missing ACTION")
	}
	a.Action = models.AlarmAction(strings.ToUpper(strings.TrimSpace(action.Value)))
	if !a.Action.Valid() {
		p.logger.Debug("Ignoring alarm action", "action", action.Value)
		return nil, nil
	}

	if uid := va.GetProperty(ics.ComponentPropertyUniqueId); uid != nil {
		a.ID = uid.Value
	}

	trigger := va.GetProperty(ics.ComponentPropertyTrigger)
	if trigger == nil {
		return nil, fmt.Errorf("alarm missing TRIGGER")
	}
	if v := trigger.ICalParameters["VALUE"]; len(v) > 0 && strings.EqualFold(v[0], "DATE-TIME") {
		t, err := models.ParseZulu(trigger.Value)
		if err != nil {
			return nil, fmt.Errorf("bad absolute TRIGGER: %w", err)
		}
		a.Trigger = models.At(t)
	} else {
		d, err := models.ParseDuration(trigger.Value)
		if err != nil {
			return nil, fmt.Errorf("bad TRIGGER: %w", err)
		}
		related := models.RelatedStart
		if r := trigger.ICalParameters["RELATED"]; len(r) > 0 && strings.EqualFold(r[0], "END") {
			related = models.RelatedEnd
		}
		a.Trigger = models.RelativeTo(related, d)
	}

	if prop := va.GetProperty(ics.ComponentPropertyDescription); prop != nil {
		a.Description = prop.Value
	}
	if prop := va.GetProperty(ics.ComponentPropertySummary); prop != nil {
		a.Summary = prop.Value
	}
	if prop := va.GetProperty(propAttach); prop != nil {
		a.AttachURI = prop.Value
	}
	for _, prop := range va.GetProperties(ics.ComponentPropertyAttendee) {
		a.Recipients = append(a.Recipients, strings.TrimSpace(prop.Value))
	}
	return a, nil
}

// alarmID derives a stable id from the alarm's identity so that refreshes
// of an unchanged feed keep acknowledgements attached.
func alarmID(a *models.Alarm, seen map[string]int) string {
	k := a.Key()
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s", k.Action, k.Related, k.Duration, k.Absolute)
	id := fmt.Sprintf("%016x", h.Sum64())
	seen[id]++
	if n := seen[id]; n > 1 {
		id = fmt.Sprintf("%s-%d", id, n)
	}
	return id
}

// dateTime parses an RFC 5545 DATE or DATE-TIME value.
func (p *Parser) dateTime(value string, params map[string][]string) (models.DateTime, error) {
	value = strings.TrimSpace(value)
	isDate := len(value) == len(dateLayout)
	if v := params["VALUE"]; len(v) > 0 && strings.EqualFold(v[0], "DATE") {
		isDate = true
	}

	switch {
	case isDate:
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return models.DateTime{}, err
		}
		return models.NewDate(t.Year(), t.Month(), t.Day()), nil

	case strings.HasSuffix(value, "Z"):
		t, err := models.ParseZulu(value)
		if err != nil {
			return models.DateTime{}, err
		}
		return models.NewDateTime(t), nil

	case len(params["TZID"]) > 0:
		tzid := strings.Trim(params["TZID"][0], `"`)
		loc, err := time.LoadLocation(tzid)
		if err != nil {
			p.logger.Warn("Unknown TZID, using feed timezone", "tzid", tzid, "timezone", p.Location.String())
			loc = p.Location
		}
		t, err := time.ParseInLocation(dateTimeLayout, value, loc)
		if err != nil {
			return models.DateTime{}, err
		}
		return models.NewDateTime(t), nil

	default:
		t, err := time.Parse(dateTimeLayout, value)
		if err != nil {
			return models.DateTime{}, err
		}
		return models.NewFloating(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second()), nil
	}
}
