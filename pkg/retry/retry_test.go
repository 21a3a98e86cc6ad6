package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() *Config {
	return &Config{
		MaxAttempts:       3,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          20 * time.Millisecond,
		BackoffFactor:     2.0,
		RetriableErrors:   []string{"connection refused"},
		RetriableStatuses: []int{500, 503},
	}
}

func TestNewRetryer(t *testing.T) {
	retryer := NewRetryer(nil, nil)
	if retryer.config == nil {
		t.Error("Expected default config when nil provided")
	}
	if retryer.logger == nil {
		t.Error("Expected default logger when nil provided")
	}
}

func TestRetryer_Do_SuccessAfterRetry(t *testing.T) {
	retryer := NewRetryer(fastConfig(), quietLogger())

	called := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		called++
		if called < 3 {
			return NewHTTPError(503, "Service Unavailable", "http://feeds.test/team.ics")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if called != 3 {
		t.Errorf("Expected 3 calls, got %d", called)
	}
}

func TestRetryer_Do_GivesUp(t *testing.T) {
	retryer := NewRetryer(fastConfig(), quietLogger())

	called := 0
	cause := NewHTTPError(500, "Internal Server Error", "http://feeds.test/team.ics")
	err := retryer.Do(context.Background(), func(context.Context) error {
		called++
		return cause
	})
	if called != 3 {
		t.Errorf("Expected 3 calls, got %d", called)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 500 {
		t.Errorf("Expected wrapped HTTP 500 error, got: %v", err)
	}
}

func TestRetryer_Do_NonRetriable(t *testing.T) {
	retryer := NewRetryer(fastConfig(), quietLogger())

	called := 0
	cause := NewHTTPError(404, "Not Found", "http://feeds.test/missing.ics")
	err := retryer.Do(context.Background(), func(context.Context) error {
		called++
		return cause
	})
	if called != 1 {
		t.Errorf("Expected 1 call, got %d", called)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected the original error, got: %v", err)
	}
}

func TestRetryer_Do_ContextCancelled(t *testing.T) {
	config := fastConfig()
	config.InitialDelay = time.Hour
	config.MaxDelay = time.Hour
	retryer := NewRetryer(config, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	called := 0
	err := retryer.Do(ctx, func(context.Context) error {
		called++
		cancel()
		return errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
	if called != 1 {
		t.Errorf("Expected 1 call, got %d", called)
	}
}

func TestDoValue(t *testing.T) {
	retryer := NewRetryer(fastConfig(), quietLogger())

	called := 0
	body, err := DoValue(context.Background(), retryer, func(context.Context) ([]byte, error) {
		called++
		if called == 1 {
			return nil, errors.New("dial tcp: Connection Refused")
		}
		return []byte("BEGIN:VCALENDAR"), nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if string(body) != "BEGIN:VCALENDAR" {
		t.Errorf("Expected body, got %q", body)
	}
}

func TestRetriable(t *testing.T) {
	retryer := NewRetryer(fastConfig(), quietLogger())

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"retriable status", NewHTTPError(503, "Service Unavailable", "u"), true},
		{"permanent status", NewHTTPError(401, "Unauthorized", "u"), false},
		{"message pattern", errors.New("dial tcp 10.0.0.1:443: connection refused"), true},
		{"url wrapped", &url.Error{Op: "Get", URL: "u", Err: errors.New("connection refused")}, true},
		{"unknown", errors.New("parse failure"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryer.Retriable(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDelay(t *testing.T) {
	retryer := NewRetryer(fastConfig(), quietLogger())

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 5 * time.Millisecond},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{5, 20 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := retryer.delay(tt.n); got != tt.want {
			t.Errorf("delay(%d): expected %v, got %v", tt.n, tt.want, got)
		}
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("team", &CircuitBreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		SuccessThreshold: 1,
	}, quietLogger())
	cb.now = clock.Now

	failing := errors.New("boom")
	for range 2 {
		if err := cb.Execute(func() error { return failing }); !errors.Is(err, failing) {
			t.Errorf("Expected operation error, got: %v", err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("Expected open breaker, got %s", cb.State())
	}
	if want := clock.now.Add(time.Minute); !cb.RetryAt().Equal(want) {
		t.Errorf("Expected retry at %v, got %v", want, cb.RetryAt())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Expected rejected call, got err=%v called=%v", err, called)
	}

	clock.now = clock.now.Add(time.Minute)
	if cb.State() != CircuitHalfOpen {
		t.Errorf("Expected half-open breaker, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Expected probe to pass, got: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("Expected closed breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("team", &CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
		SuccessThreshold: 1,
	}, quietLogger())
	cb.now = clock.Now

	_ = cb.Execute(func() error { return errors.New("boom") })
	clock.now = clock.now.Add(2 * time.Minute)
	_ = cb.Execute(func() error { return errors.New("still down") })

	if cb.State() != CircuitOpen {
		t.Errorf("Expected open breaker, got %s", cb.State())
	}
}

func TestHTTPError(t *testing.T) {
	err := NewHTTPError(503, "Service Unavailable", "http://feeds.test/team.ics")
	want := "HTTP 503: Service Unavailable (URL: http://feeds.test/team.ics)"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}
