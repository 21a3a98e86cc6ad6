package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is an RFC 5545 duration. Weeks and days are nominal, so adding
// "P1D" keeps the wall-clock time across DST transitions.
type Duration struct {
	Negative bool          `json:"negative,omitempty"`
	Weeks    int           `json:"weeks,omitempty"`
	Days     int           `json:"days,omitempty"`
	Clock    time.Duration `json:"clock,omitempty"`
}

// Minutes is a shorthand for a signed minute offset.
func Minutes(n int) Duration {
	return FromDuration(time.Duration(n) * time.Minute)
}

// FromDuration converts a fixed duration.
func FromDuration(d time.Duration) Duration {
	if d < 0 {
		return Duration{Negative: true, Clock: -d}
	}
	return Duration{Clock: d}
}

// ParseDuration parses values such as "-PT15M", "P1D", "-P0DT1H30M0S" or "P2W".
func ParseDuration(s string) (Duration, error) {
	var d Duration
	in := strings.TrimSpace(s)
	if in == "" {
		return d, fmt.Errorf("empty duration")
	}

	switch in[0] {
	case '-':
		d.Negative = true
		in = in[1:]
	case '+':
		in = in[1:]
	}

	if !strings.HasPrefix(in, "P") || len(in) < 3 {
		return d, fmt.Errorf("invalid duration %q", s)
	}
	in = in[1:]

	inTime := false
	num := ""
	seen := false
	for _, r := range in {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return d, fmt.Errorf("invalid duration %q", s)
			}
			inTime = true
			continue
		}

		if num == "" {
			return d, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return d, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		num = ""
		seen = true

		switch {
		case r == 'W' && !inTime:
			d.Weeks += n
		case r == 'D' && !inTime:
			d.Days += n
		case r == 'H' && inTime:
			d.Clock += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			d.Clock += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			d.Clock += time.Duration(n) * time.Second
		default:
			return d, fmt.Errorf("invalid duration %q", s)
		}
	}
	if num != "" || !seen {
		return d, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// MustParseDuration panics on malformed input. Intended for literals.
func MustParseDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether the duration is empty.
func (d Duration) IsZero() bool {
	return d.Weeks == 0 && d.Days == 0 && d.Clock == 0
}

// Approx returns the signed duration assuming 24h days.
func (d Duration) Approx() time.Duration {
	total := time.Duration(d.Weeks*7+d.Days)*24*time.Hour + d.Clock
	if d.Negative {
		return -total
	}
	return total
}

// AddTo applies the duration to t: calendar days first, then clock time.
func (d Duration) AddTo(t time.Time) time.Time {
	sign := 1
	if d.Negative {
		sign = -1
	}
	if days := d.Weeks*7 + d.Days; days != 0 {
		t = t.AddDate(0, 0, sign*days)
	}
	return t.Add(time.Duration(sign) * d.Clock)
}

// String renders the canonical RFC 5545 form.
func (d Duration) String() string {
	var b strings.Builder
	if d.Negative && !d.IsZero() {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if d.Weeks != 0 && d.Days == 0 && d.Clock == 0 {
		fmt.Fprintf(&b, "%dW", d.Weeks)
		return b.String()
	}
	if days := d.Weeks*7 + d.Days; days != 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if d.Clock != 0 || d.IsZero() {
		b.WriteByte('T')
		rest := d.Clock
		h := rest / time.Hour
		rest -= h * time.Hour
		m := rest / time.Minute
		rest -= m * time.Minute
		sec := rest / time.Second
		if h != 0 {
			fmt.Fprintf(&b, "%dH", h)
		}
		if m != 0 {
			fmt.Fprintf(&b, "%dM", m)
		}
		if sec != 0 || (h == 0 && m == 0) {
			fmt.Fprintf(&b, "%dS", sec)
		}
	}
	return b.String()
}
