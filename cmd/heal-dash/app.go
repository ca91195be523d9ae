package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/heal-dash/internal/archive"
	"github.com/hochfrequenz/heal-dash/internal/backend"
	"github.com/hochfrequenz/heal-dash/internal/config"
	"github.com/hochfrequenz/heal-dash/internal/history"
	"github.com/hochfrequenz/heal-dash/internal/inference"
	"github.com/hochfrequenz/heal-dash/internal/notify"
	"github.com/hochfrequenz/heal-dash/internal/poller"
	"github.com/hochfrequenz/heal-dash/internal/prompts"
	"github.com/hochfrequenz/heal-dash/internal/report"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/hochfrequenz/heal-dash/internal/session"
	"github.com/rs/zerolog"
)

// app holds the wired components of one heal-dash process
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *runstate.Store
	client  *backend.Client
	coord   *inference.Coordinator
	history *history.Store
	session *session.Session
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  runstate.New(),
	}

	a.client = backend.New(cfg.API.BaseURL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout.Duration}),
		backend.WithLogger(logger),
	)

	engine, err := newEngine(cfg.Inference)
	if err != nil {
		return nil, err
	}
	loader := prompts.DefaultLoader(cfg.Inference.PromptDirs...)
	a.coord = inference.NewCoordinator(a.store, a.client, engine,
		inference.WithInterval(cfg.Inference.PollInterval.Duration),
		inference.WithLogger(logger),
		inference.WithPrompts(loader),
	)

	p := poller.New(a.store, a.client,
		poller.WithInterval(cfg.API.PollInterval.Duration),
		poller.WithLogger(logger),
	)

	sinks, err := a.sinks()
	if err != nil {
		a.Close()
		return nil, err
	}
	reporter := report.NewReporter(a.store, logger, sinks...)

	loops := []session.Loop{p, a.coord, reporter}
	if w, err := prompts.NewWatcher(loader, logger); err != nil {
		logger.Warn().Err(err).Msg("prompt overrides will not reload")
	} else {
		loops = append(loops, w)
	}
	a.session = session.New(a.store, a.client, logger, loops...)
	return a, nil
}

func newEngine(cfg config.InferenceConfig) (inference.Engine, error) {
	switch cfg.Provider {
	case "", "gemini":
		return inference.NewGeminiEngine(cfg.APIKey(), cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported inference provider %q", cfg.Provider)
	}
}

// sinks builds the report sinks in delivery order: history, archive, notify
func (a *app) sinks() ([]report.Sink, error) {
	var sinks []report.Sink

	if h, err := a.openHistory(); err != nil {
		return nil, err
	} else if h != nil {
		sinks = append(sinks, h)
	}

	if ac := a.cfg.Archive; ac.Enabled() {
		store, err := archive.New(archive.Config{
			Endpoint:  ac.Endpoint,
			Region:    ac.Region,
			AccessKey: os.Getenv(ac.AccessKeyEnv),
			SecretKey: os.Getenv(ac.SecretKeyEnv),
			Bucket:    ac.Bucket,
			Prefix:    ac.Prefix,
			UseSSL:    ac.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		sinks = append(sinks, store)
	}

	var notifiers []notify.Notifier
	if a.cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if a.cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(a.cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) > 0 {
		sinks = append(sinks, notify.Sink{Notifier: notify.NewMultiNotifier(notifiers...)})
	}
	return sinks, nil
}

// openHistory opens the history database once. It returns nil when history
// is disabled.
func (a *app) openHistory() (*history.Store, error) {
	if a.history != nil || !a.cfg.History.Enabled {
		return a.history, nil
	}
	h, err := openHistory(a.cfg)
	if err != nil {
		return nil, err
	}
	a.history = h
	return h, nil
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	path := cfg.History.DatabasePath
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	h, err := history.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return h, nil
}

// Close releases the history database
func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing history")
		}
	}
}
