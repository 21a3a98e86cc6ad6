package models

import (
	"testing"
	"time"
)

func TestDateTime_In(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	fixed := NewDateTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	if !fixed.In(newYork).Equal(fixed.Time) {
		t.Error("Expected fixed values to ignore the viewer location")
	}

	floating := NewFloating(2025, 6, 1, 12, 0, 0)
	got := floating.In(newYork)
	want := time.Date(2025, 6, 1, 16, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected floating noon in New York to be %v, got %v", want, got.UTC())
	}

	if !floating.In(nil).Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Error("Expected nil location to resolve in UTC")
	}
}

func TestDateTime_Key(t *testing.T) {
	tests := []struct {
		name     string
		value    DateTime
		expected string
	}{
		{"fixed", NewDateTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 7200))), "20250601T100000Z"},
		{"floating", NewFloating(2025, 6, 1, 12, 0, 0), "20250601T120000"},
		{"all-day", NewDate(2025, 6, 1), "20250601"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.Key(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestDateTime_Like(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	fixed := NewDateTime(time.Date(2025, 1, 1, 9, 0, 0, 0, berlin))
	converted := fixed.Like(time.Date(2025, 7, 1, 7, 0, 0, 0, time.UTC))
	if converted.Time.Location() != berlin {
		t.Error("Expected fixed conversion to keep the series location")
	}
	if converted.Time.Hour() != 9 {
		t.Errorf("Expected 09:00 Berlin summer time, got %v", converted.Time)
	}

	floating := NewFloating(2025, 1, 1, 9, 0, 0)
	f := floating.Like(time.Date(2025, 1, 2, 9, 0, 0, 0, berlin))
	if !f.Floating || f.Key() != "20250102T090000" {
		t.Errorf("Expected floating wall clock 20250102T090000, got %s", f.Key())
	}
}

func TestParseZulu(t *testing.T) {
	ts, err := ParseZulu("20251019T114500Z")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if FormatZulu(ts) != "20251019T114500Z" {
		t.Errorf("Expected round trip, got %s", FormatZulu(ts))
	}
	if _, err := ParseZulu("2025-10-19"); err == nil {
		t.Error("Expected error for non-zulu input")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		canon    string
		wantErr  bool
	}{
		{name: "negative 15 minutes", input: "-PT15M", expected: -15 * time.Minute, canon: "-PT15M"},
		{name: "positive 10 minutes", input: "PT10M", expected: 10 * time.Minute, canon: "PT10M"},
		{name: "explicit plus", input: "+PT1H", expected: time.Hour, canon: "PT1H"},
		{name: "complex negative", input: "-P0DT1H30M0S", expected: -(90 * time.Minute), canon: "-PT1H30M"},
		{name: "days and time", input: "P1DT2H", expected: 26 * time.Hour, canon: "P1DT2H"},
		{name: "weeks", input: "-P2W", expected: -14 * 24 * time.Hour, canon: "-P2W"},
		{name: "seconds", input: "PT120S", expected: 2 * time.Minute, canon: "PT2M"},
		{name: "zero", input: "PT0S", expected: 0, canon: "PT0S"},
		{name: "invalid", input: "INVALID", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "missing unit", input: "PT15", wantErr: true},
		{name: "time unit before T", input: "P15M", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d.Approx() != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, d.Approx())
			}
			if d.String() != tt.canon {
				t.Errorf("Expected canonical %s, got %s", tt.canon, d.String())
			}
		})
	}
}

func TestDuration_AddToKeepsWallClockAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// Clocks go forward on 2025-03-30 in Berlin
	start := time.Date(2025, 3, 30, 10, 0, 0, 0, berlin)
	got := MustParseDuration("-P1D").AddTo(start)
	if got.Hour() != 10 || got.Day() != 29 {
		t.Errorf("Expected 2025-03-29 10:00, got %v", got)
	}
	if start.Sub(got) != 23*time.Hour {
		t.Errorf("Expected a 23h absolute distance, got %v", start.Sub(got))
	}
}

func TestParseRecurrenceID(t *testing.T) {
	for _, key := range []string{"20250304T080000Z", "20250304T090000", "20250304"} {
		rid, err := ParseRecurrenceID(key)
		if err != nil {
			t.Fatalf("ParseRecurrenceID(%q) failed: %v", key, err)
		}
		if rid.Key() != key {
			t.Errorf("Expected key %s, got %s", key, rid.Key())
		}
	}
	for _, key := range []string{"", "tomorrow", "2025-03-04T08:00:00Z"} {
		if _, err := ParseRecurrenceID(key); err == nil {
			t.Errorf("Expected error for %q", key)
		}
	}
}
