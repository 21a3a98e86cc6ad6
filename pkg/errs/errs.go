// Package errs defines the coded errors returned by the alarm engine.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	CodeTooManyOccurrences    Code = "TOO_MANY_OCCURRENCES"
	CodeTooManyAttendees      Code = "TOO_MANY_ATTENDEES"
	CodeTooManyAlarms         Code = "TOO_MANY_ALARMS"
	CodeAlarmNotFound         Code = "ALARM_NOT_FOUND"
	CodeOccurrenceNotFound    Code = "OCCURRENCE_NOT_FOUND"
	CodeInvalidRecurrenceRule Code = "INVALID_RECURRENCE_RULE"
	CodeEventNotFound         Code = "EVENT_NOT_FOUND"
	CodeInvalidEvent          Code = "INVALID_EVENT"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeAlreadyAcknowledged   Code = "ALREADY_ACKNOWLEDGED"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrTooManyOccurrences    = &Error{Code: CodeTooManyOccurrences}
	ErrTooManyAttendees      = &Error{Code: CodeTooManyAttendees}
	ErrTooManyAlarms         = &Error{Code: CodeTooManyAlarms}
	ErrAlarmNotFound         = &Error{Code: CodeAlarmNotFound}
	ErrOccurrenceNotFound    = &Error{Code: CodeOccurrenceNotFound}
	ErrInvalidRecurrenceRule = &Error{Code: CodeInvalidRecurrenceRule}
	ErrEventNotFound         = &Error{Code: CodeEventNotFound}
	ErrInvalidEvent          = &Error{Code: CodeInvalidEvent}
	ErrInvalidArgument       = &Error{Code: CodeInvalidArgument}
	ErrAlreadyAcknowledged   = &Error{Code: CodeAlreadyAcknowledged}
)

// Error is an engine error with a stable code and parameters.
type Error struct {
	Code    Code
	Message string
	Params  map[string]string
}

// New creates an error. Params are given as key/value pairs.
func New(code Code, message string, kv ...any) *Error {
	e := &Error{Code: code, Message: message}
	if len(kv) > 0 {
		e.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			e.Params[key] = fmt.Sprint(kv[i+1])
		}
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, k := range e.sortedKeys() {
		fmt.Fprintf(&b, " %s=%s", k, e.Params[k])
	}
	return b.String()
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Payload renders the error as JSON. Keys are sorted so equal errors produce
// identical bytes.
func (e *Error) Payload() []byte {
	type param struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	body := struct {
		Code    Code    `json:"code"`
		Message string  `json:"message"`
		Params  []param `json:"params,omitempty"`
	}{Code: e.Code, Message: e.Message}

	for _, k := range e.sortedKeys() {
		body.Params = append(body.Params, param{Key: k, Value: e.Params[k]})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return []byte(`{"code":"` + string(e.Code) + `"}`)
	}
	return data
}

func (e *Error) sortedKeys() []string {
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CodeOf returns the code of err, or "" if err is not an engine error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
