// Package bootstrap wires settings into a running transcription service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"audio-transcriber/internal/batch"
	"audio-transcriber/internal/cache"
	"audio-transcriber/internal/config"
	"audio-transcriber/internal/diagnostics"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/engine"
	"audio-transcriber/internal/httpapi"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/progress"
	"audio-transcriber/internal/records"
	"audio-transcriber/internal/render"
	"audio-transcriber/internal/staging"
	"audio-transcriber/internal/transcribe"
)

const (
	serviceName     = "audio-transcriber"
	serviceTitle    = "Audio Transcriber API"
	Version         = "2.0.0"
	eventHistory    = 1000
	recordsTable    = "transcriptions"
	shutdownTimeout = 30 * time.Second
)

// App wires configuration, the worker pool, the pipeline and the HTTP surface.
type App struct {
	Settings domain.Settings
	Jobs     *jobs.Manager
	Pipeline *transcribe.Pipeline
	Logger   *slog.Logger

	executor *jobs.Executor
	events   *progress.EventBus
	checker  *diagnostics.Checker
	sweeper  *staging.Sweeper
	records  records.Store
	server   *httpapi.Server

	mu      sync.Mutex
	closers []io.Closer
}

// New loads settings from store and builds the application.
func New(ctx context.Context, store config.Store) (*App, error) {
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	logger := logging.New(serviceName, settings.LogLevel, os.Stderr)
	return NewWithSettings(ctx, settings, logger)
}

// NewWithSettings builds every component from already-loaded settings.
func NewWithSettings(ctx context.Context, settings domain.Settings, logger *slog.Logger) (*App, error) {
	settings = config.Normalize(settings)
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Settings: settings,
		Logger:   logger,
		checker:  diagnostics.NewChecker(),
		events:   progress.NewEventBus(eventHistory),
	}
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	s := a.Settings

	eng, err := newEngine(s, a.Logger)
	if err != nil {
		return err
	}
	backend, err := a.newCacheBackend(ctx, s)
	if err != nil {
		return err
	}
	area, err := staging.NewArea(s.StagingDir, s.StagingTimeout, a.Logger)
	if err != nil {
		return fmt.Errorf("create staging area: %w", err)
	}
	a.sweeper = staging.NewSweeper(area, s.StagingMaxAge, a.Logger)

	a.Jobs = jobs.NewManager(0)
	a.executor = jobs.NewExecutor(eng, s.Workers, a.Jobs, a.Logger)
	a.Pipeline = transcribe.New(cache.New(backend, s.CacheTimeout, a.Logger), area, a.executor, transcribe.Config{
		MaxUploadBytes: s.MaxUploadBytes,
		History:        a.events,
		Logger:         a.Logger,
	})

	uploads, err := httpapi.NewUploadStore(s.UploadDir)
	if err != nil {
		return err
	}
	exporter, err := render.NewExporter(s.TranscriptsDir)
	if err != nil {
		return err
	}
	if a.records, err = a.newRecordStore(ctx, s); err != nil {
		return err
	}

	a.server = httpapi.NewServer(httpapi.Deps{
		Pipeline: a.Pipeline,
		Batch:    batch.NewCoordinator(a.Pipeline, s.Workers, a.Logger),
		Uploads:  uploads,
		Exporter: exporter,
		Records:  a.records,
		Jobs:     a.Jobs,
		Events:   a.events,
		Health:   a.Diagnostics,
		Models: func() []domain.WhisperModelOption {
			return engine.Models(s.ModelPath)
		},
		Download: newModelDownloader(s, a.Logger),
		Info: httpapi.Info{
			Name:    serviceTitle,
			Version: Version,
			Engine:  s.Engine,
			Model:   s.ModelPath,
		},
		Logger: a.Logger,
	})
	return nil
}

// newEngine selects the inference backend named by settings.
func newEngine(s domain.Settings, logger *slog.Logger) (engine.Engine, error) {
	switch s.Engine {
	case domain.EngineWhisperCLI:
		return engine.NewWhisperCLI(s.FFmpegPath, s.WhisperPath, s.ModelPath, logger), nil
	case domain.EngineHTTP:
		return engine.NewHTTP(s.EngineURL, nil, logger)
	default:
		return nil, fmt.Errorf("unknown engine %q", s.Engine)
	}
}

// newModelDownloader enables catalog downloads for the local whisper engine only.
func newModelDownloader(s domain.Settings, logger *slog.Logger) httpapi.ModelDownloader {
	if s.Engine != domain.EngineWhisperCLI {
		return nil
	}
	return engine.NewModelDownloader(engine.DefaultModelBaseURL, nil, logger)
}

func (a *App) newCacheBackend(ctx context.Context, s domain.Settings) (cache.Backend, error) {
	switch s.CacheBackend {
	case domain.CacheBackendFile:
		return cache.NewFileBackend(s.CacheDir)
	case domain.CacheBackendGCS:
		backend, err := cache.NewGCSBackend(ctx, s.GCSBucket, s.GCSPrefix)
		if err != nil {
			return nil, err
		}
		a.addCloser(backend)
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", s.CacheBackend)
	}
}

// newRecordStore uses Postgres when a database URL is configured.
func (a *App) newRecordStore(ctx context.Context, s domain.Settings) (records.Store, error) {
	var store records.Store = records.NewMemoryStore()
	if s.DatabaseURL != "" {
		pg, err := records.NewPostgresStore(ctx, s.DatabaseURL, recordsTable)
		if err != nil {
			return nil, fmt.Errorf("open records database: %w", err)
		}
		store = pg
	}
	a.addCloser(store)
	return store, nil
}

func (a *App) addCloser(c io.Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, c)
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Diagnostics runs dependency checks and attaches current pool stats.
func (a *App) Diagnostics() domain.DiagnosticReport {
	report := a.checker.Run(a.Settings)
	stats := a.executor.Stats()
	report.Pool = &stats
	return report
}

// Run sweeps stale staging files, starts the sweep schedule and serves HTTP
// until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	report := a.Diagnostics()
	for _, item := range report.Items {
		if item.Status == domain.DiagnosticStatusFail {
			a.Logger.Warn("diagnostic check failed", "id", item.ID, "message", item.Message)
		}
	}

	if removed, err := a.sweeper.Sweep(); err != nil {
		a.Logger.Warn("initial staging sweep failed", "error", err)
	} else if removed > 0 {
		a.Logger.Info("removed stale staged files", "count", removed)
	}
	if err := a.sweeper.Start(a.Settings.SweepSchedule); err != nil {
		return err
	}
	defer func() {
		<-a.sweeper.Stop().Done()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start(a.Settings.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Logger.Info("shutting down")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// Close releases database and storage clients.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
