package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

// maxIterations bounds how many raw slots a single walk may visit, including
// slots skipped because they fall before the window.
const maxIterations = 500_000

type rulePart struct {
	key   string
	value string
}

// ruleParts is an RRULE value split into its KEY=VALUE parts, in order.
type ruleParts []rulePart

func parseParts(rule string) (ruleParts, error) {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(rule, "RRULE:")
	if rule == "" {
		return nil, invalidRule(rule, "empty rule")
	}

	var parts ruleParts
	for _, raw := range strings.Split(rule, ";") {
		if raw == "" {
			continue
		}
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" || value == "" {
			return nil, invalidRule(rule, "malformed part "+raw)
		}
		parts = append(parts, rulePart{key: strings.ToUpper(key), value: value})
	}
	if parts.get("FREQ") == "" {
		return nil, invalidRule(rule, "FREQ is required")
	}
	if parts.get("COUNT") != "" && parts.get("UNTIL") != "" {
		return nil, invalidRule(rule, "COUNT and UNTIL are mutually exclusive")
	}
	return parts, nil
}

func (p ruleParts) get(key string) string {
	for _, part := range p {
		if part.key == key {
			return part.value
		}
	}
	return ""
}

func (p ruleParts) set(key, value string) ruleParts {
	out := make(ruleParts, 0, len(p)+1)
	replaced := false
	for _, part := range p {
		if part.key == key {
			if !replaced {
				out = append(out, rulePart{key: key, value: value})
				replaced = true
			}
			continue
		}
		out = append(out, part)
	}
	if !replaced {
		out = append(out, rulePart{key: key, value: value})
	}
	return out
}

func (p ruleParts) without(keys ...string) ruleParts {
	out := make(ruleParts, 0, len(p))
next:
	for _, part := range p {
		for _, k := range keys {
			if part.key == k {
				continue next
			}
		}
		out = append(out, part)
	}
	return out
}

func (p ruleParts) String() string {
	fields := make([]string, len(p))
	for i, part := range p {
		fields[i] = part.key + "=" + part.value
	}
	return strings.Join(fields, ";")
}

func (p ruleParts) count() int {
	n, err := strconv.Atoi(p.get("COUNT"))
	if err != nil {
		return 0
	}
	return n
}

// IsFinite reports whether the rule ends on its own (COUNT or UNTIL).
func IsFinite(rule string) bool {
	parts, err := parseParts(rule)
	if err != nil {
		return false
	}
	return parts.get("COUNT") != "" || parts.get("UNTIL") != ""
}

// compile builds an rrule for the series anchored at start.
func compile(rule string, start models.DateTime) (*rrule.RRule, error) {
	parts, err := parseParts(rule)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if !start.IsFloating() {
		loc = start.Time.Location()
	}

	opt, err := rrule.StrToROptionInLocation(parts.String(), loc)
	if err != nil {
		return nil, invalidRule(rule, err.Error())
	}
	// Floating and all-day starts iterate on their UTC wall clock.
	opt.Dtstart = start.Time

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, invalidRule(rule, err.Error())
	}
	return r, nil
}

// untilValue renders an UNTIL bound of the same kind as the series start.
func untilValue(start models.DateTime, t time.Time) string {
	switch {
	case start.AllDay:
		return t.Format("20060102")
	case start.Floating:
		return t.Format("20060102T150405")
	default:
		return models.FormatZulu(t)
	}
}

// ShiftUntil moves the UNTIL bound of rule by delta so that a series whose
// start moved by delta keeps the same slots. COUNT and unbounded rules are
// returned as they are.
func ShiftUntil(rule string, start models.DateTime, delta time.Duration) (string, error) {
	parts, err := parseParts(rule)
	if err != nil {
		return "", err
	}
	until := parts.get("UNTIL")
	if until == "" || delta == 0 {
		return rule, nil
	}
	t, err := parseUntil(until, start)
	if err != nil {
		return "", invalidRule(rule, err.Error())
	}
	return parts.set("UNTIL", untilValue(start, t.Add(delta))).String(), nil
}

func parseUntil(value string, start models.DateTime) (time.Time, error) {
	loc := time.UTC
	if !start.IsFloating() {
		loc = start.Time.Location()
	}
	switch len(value) {
	case len("20060102"):
		return time.ParseInLocation("20060102", value, loc)
	case len("20060102T150405Z"):
		return time.Parse("20060102T150405Z", value)
	default:
		return time.ParseInLocation("20060102T150405", value, loc)
	}
}

func invalidRule(rule, reason string) *errs.Error {
	return errs.New(errs.CodeInvalidRecurrenceRule, "invalid recurrence rule",
		"rule", rule,
		"reason", reason)
}
