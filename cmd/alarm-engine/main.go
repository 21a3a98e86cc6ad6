package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/venkytv/calendar-alarms/pkg/calendar"
	"github.com/venkytv/calendar-alarms/pkg/calendar/providers"
	"github.com/venkytv/calendar-alarms/pkg/config"
	"github.com/venkytv/calendar-alarms/pkg/dispatcher"
	"github.com/venkytv/calendar-alarms/pkg/engine"
	"github.com/venkytv/calendar-alarms/pkg/metrics"
	"github.com/venkytv/calendar-alarms/pkg/nats"
)

const (
	defaultConfigPath = "config.yaml"
	gracefulTimeout   = 30 * time.Second
)

var (
	configPath = flag.String("config", defaultConfigPath, "Path to configuration file")
	version    = flag.Bool("version", false, "Print version information")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	dryRun     = flag.Bool("dry-run", false, "Log due alarms instead of publishing them to NATS")
)

// Version information - can be set at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.NATS.DryRun = true
	}

	logger := setupLogger(os.Stdout, cfg.Logging, *debug)
	logger.Info("Starting alarm engine",
		"version", Version,
		"commit", GitCommit,
		"build_time", BuildTime,
		"config_path", *configPath,
		"dry_run", cfg.NATS.DryRun)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		logger.Error("Failed to start application", "error", err)
		_ = app.Stop(context.Background())
		os.Exit(1)
	}
	logger.Info("Alarm engine started successfully")

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("Alarm engine stopped gracefully")
}

// App holds the main application components
type App struct {
	config     *config.Config
	logger     *slog.Logger
	engine     *engine.Engine
	feeds      *calendar.Manager
	publisher  dispatcher.Publisher
	responder  *nats.Responder
	dispatcher *dispatcher.Dispatcher
	metricsSrv *http.Server
}

// NewApp wires the engine, the feeds, the publisher and the dispatcher
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	observer, err := metrics.NewObserver("", prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	engineConfig, err := cfg.BuildEngineConfig()
	if err != nil {
		return nil, err
	}
	app.engine = engine.New(engineConfig, logger.With("component", "engine"), engine.WithObserver(observer))

	factory := calendar.NewDefaultProviderFactory(logger)
	providers.InitializeBuiltinProviders(factory)
	app.feeds = calendar.NewManager(factory, app.engine, &cfg.FeedManager, logger.With("component", "feeds"))
	app.feeds.SetObserver(observer)
	for _, feed := range cfg.Feeds {
		if err := app.feeds.AddFeed(ctx, feed); err != nil {
			app.release()
			return nil, fmt.Errorf("failed to configure feed %s: %w", feed.Name, err)
		}
		logger.Info("Configured feed", "name", feed.Name, "type", feed.Type)
	}

	if cfg.NATS.DryRun {
		app.publisher = nats.NewLogPublisher(logger.With("component", "dry-run"))
		logger.Info("Running in dry-run mode - notifications will not be published")
	} else {
		conn, err := nats.Connect(ctx, &cfg.NATS, logger)
		if err != nil {
			app.release()
			return nil, err
		}
		app.publisher = nats.NewPublisher(conn, cfg.NATS.Subject, logger)
		app.responder = nats.NewResponder(conn, cfg.NATS.CommandSubject, app.engine, logger)
	}

	if err := app.setupDispatcher(&cfg.Dispatcher, observer); err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		app.metricsSrv = metrics.NewServer(&cfg.Metrics, prometheus.DefaultGatherer, logger)
	}
	return app, nil
}

// setupDispatcher creates the dispatcher. On failure the publisher and the
// feeds are released, as the app is never returned to the caller.
func (a *App) setupDispatcher(config *dispatcher.Config, observer dispatcher.Observer) error {
	d, err := dispatcher.New(config, a.engine, a.publisher, a.feeds, a.logger.With("component", "dispatcher"))
	if err != nil {
		a.release()
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	if observer != nil {
		d.SetObserver(observer)
	}
	a.dispatcher = d
	return nil
}

// release closes what NewApp opened before it failed
func (a *App) release() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Failed to close publisher", "error", err)
		}
	}
	if a.feeds != nil {
		if err := a.feeds.Close(); err != nil {
			a.logger.Warn("Failed to close feeds", "error", err)
		}
	}
}

// Start starts the application services
func (a *App) Start(ctx context.Context) error {
	if a.metricsSrv != nil {
		go func() {
			a.logger.Info("Serving metrics", "address", a.metricsSrv.Addr, "path", a.config.Metrics.Path)
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
	}
	if a.responder != nil {
		if err := a.responder.Start(); err != nil {
			return fmt.Errorf("failed to start command responder: %w", err)
		}
	}
	if err := a.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	return nil
}

// Stop gracefully stops the application services
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("Shutting down application")
	var errList []error

	if err := a.dispatcher.Stop(); err != nil {
		errList = append(errList, fmt.Errorf("dispatcher: %w", err))
	}
	if a.responder != nil {
		if err := a.responder.Close(); err != nil {
			errList = append(errList, fmt.Errorf("command responder: %w", err))
		}
	}
	if err := a.publisher.Close(); err != nil {
		errList = append(errList, fmt.Errorf("publisher: %w", err))
	}
	if err := a.feeds.Close(); err != nil {
		errList = append(errList, fmt.Errorf("feeds: %w", err))
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errList = append(errList, fmt.Errorf("metrics server: %w", err))
		}
	}
	return errors.Join(errList...)
}

// setupLogger configures the application logger
func setupLogger(w io.Writer, cfg config.LoggingConfig, debugMode bool) *slog.Logger {
	var level slog.Level
	if debugMode {
		level = slog.LevelDebug
	} else {
		switch strings.ToLower(cfg.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("Calendar Alarms %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
}
