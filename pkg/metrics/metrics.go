// Package metrics exports engine, feed and delivery activity to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/venkytv/calendar-alarms/internal/models"
	"github.com/venkytv/calendar-alarms/pkg/errs"
)

// Config holds the metrics endpoint configuration
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Address: ":9464",
		Path:    "/metrics",
	}
}

// Observer implements engine.Observer, calendar.FeedObserver and
// dispatcher.Observer.
type Observer struct {
	mutations     *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	guardBreaches *prometheus.CounterVec
	queryDuration prometheus.Histogram
	queryTriggers prometheus.Counter
	cache         *prometheus.CounterVec
	feedRefreshes *prometheus.CounterVec
	feedStale     *prometheus.GaugeVec
	notifications *prometheus.CounterVec
}

// NewObserver registers the metrics with reg. A nil reg uses the default
// registerer.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "calendar_alarms"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations applied, by operation.",
		}, []string{"op"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Engine operations rejected, by operation and error code.",
		}, []string{"op", "code"}),
		guardBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_breaches_total",
			Help:      "Operations refused by the self-protection limits.",
		}, []string{"code"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Latency of trigger queries.",
			Buckets:   prometheus.DefBuckets,
		}),
		queryTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_triggers_total",
			Help:      "Triggers returned by queries.",
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expansion_cache_total",
			Help:      "Expansion cache lookups, by result.",
		}, []string{"result"}),
		feedRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_refreshes_total",
			Help:      "Feed refreshes, by feed and result.",
		}, []string{"feed", "result"}),
		feedStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_stale",
			Help:      "1 while a feed serves last-known-good data.",
		}, []string{"feed"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries, by alarm action and result.",
		}, []string{"action", "result"}),
	}

	var err error
	if o.mutations, err = register(reg, o.mutations); err != nil {
		return nil, err
	}
	if o.rejections, err = register(reg, o.rejections); err != nil {
		return nil, err
	}
	if o.guardBreaches, err = register(reg, o.guardBreaches); err != nil {
		return nil, err
	}
	if o.queryDuration, err = register(reg, o.queryDuration); err != nil {
		return nil, err
	}
	if o.queryTriggers, err = register(reg, o.queryTriggers); err != nil {
		return nil, err
	}
	if o.cache, err = register(reg, o.cache); err != nil {
		return nil, err
	}
	if o.feedRefreshes, err = register(reg, o.feedRefreshes); err != nil {
		return nil, err
	}
	if o.feedStale, err = register(reg, o.feedStale); err != nil {
		return nil, err
	}
	if o.notifications, err = register(reg, o.notifications); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// MutationApplied counts a successful engine operation
func (o *Observer) MutationApplied(op string) {
	o.mutations.WithLabelValues(op).Inc()
}

// MutationRejected counts a rejected engine operation
func (o *Observer) MutationRejected(op string, code errs.Code) {
	label := string(code)
	if label == "" {
		label = "INTERNAL"
	}
	o.rejections.WithLabelValues(op, label).Inc()
	switch code {
	case errs.CodeTooManyOccurrences, errs.CodeTooManyAttendees, errs.CodeTooManyAlarms:
		o.guardBreaches.WithLabelValues(label).Inc()
	}
}

// QueryServed records a trigger query
func (o *Observer) QueryServed(triggers int, elapsed time.Duration) {
	o.queryDuration.Observe(elapsed.Seconds())
	o.queryTriggers.Add(float64(triggers))
}

// ExpansionCache counts an expansion cache lookup
func (o *Observer) ExpansionCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	o.cache.WithLabelValues(result).Inc()
}

// FeedRefreshed records a feed refresh and the feed's staleness
func (o *Observer) FeedRefreshed(feed string, err error) {
	if err != nil {
		o.feedRefreshes.WithLabelValues(feed, "error").Inc()
		o.feedStale.WithLabelValues(feed).Set(1)
		return
	}
	o.feedRefreshes.WithLabelValues(feed, "ok").Inc()
	o.feedStale.WithLabelValues(feed).Set(0)
}

// NotificationDelivered counts a delivery attempt
func (o *Observer) NotificationDelivered(action models.AlarmAction, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.notifications.WithLabelValues(string(action), result).Inc()
}

// Handler serves the metrics gathered by g. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing the metrics endpoint
func NewServer(config *Config, g prometheus.Gatherer, logger *slog.Logger) *http.Server {
	if config == nil {
		config = DefaultConfig()
	}
	mux := http.NewServeMux()
	mux.Handle(config.Path, Handler(g))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
}
