// Package httpapi exposes the transcription pipeline over HTTP and WebSocket.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/exp/slog"

	"audio-transcriber/internal/batch"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/progress"
	"audio-transcriber/internal/records"
	"audio-transcriber/internal/render"
)

// Transcriber runs one transcription through the pipeline.
type Transcriber interface {
	Submit(ctx context.Context, blob domain.AudioBlob, opts domain.Options, sink progress.Sink) (domain.Transcript, error)
	MaxUploadBytes() int64
}

// BatchRunner runs many transcriptions without aborting on failures.
type BatchRunner interface {
	RunBatch(ctx context.Context, items []batch.Item) batch.Result
}

// ModelDownloader fetches catalog models for the whisper CLI engine.
type ModelDownloader interface {
	Download(ctx context.Context, modelID, modelPath string) (domain.WhisperModelOption, error)
}

// Info describes the running service for GET /api.
type Info struct {
	Name    string `json:"message"`
	Version string `json:"version"`
	Engine  string `json:"engine"`
	Model   string `json:"model"`
}

// Deps are the collaborators the HTTP surface serves.
type Deps struct {
	Pipeline Transcriber
	Batch    BatchRunner
	Uploads  *UploadStore
	Exporter *render.Exporter
	Records  records.Store
	Jobs     *jobs.Manager
	Events   *progress.EventBus
	Health   func() domain.DiagnosticReport
	Models   func() []domain.WhisperModelOption
	Download ModelDownloader
	Info     Info
	Logger   *slog.Logger
}

// Server owns the echo instance and its routes.
type Server struct {
	echo *echo.Echo
	deps Deps
	log  *slog.Logger
}

// NewServer registers middleware and routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Records == nil {
		deps.Records = records.NewMemoryStore()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{echo: e, deps: deps, log: deps.Logger}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				s.log.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.log.Info("request", attrs...)
			return nil
		},
	}))

	bodyLimit := middleware.BodyLimit(fmt.Sprintf("%dK", deps.Pipeline.MaxUploadBytes()/1024+1024))
	e.POST("/transcribe", s.transcribe, bodyLimit)
	e.POST("/uploads", s.upload, bodyLimit)
	e.GET("/ws/transcribe", s.streamTranscription)
	e.POST("/batch/transcribe", s.batchTranscribe)
	e.GET("/transcripts", s.listTranscripts)
	e.GET("/transcripts/:filename", s.getTranscript)
	e.GET("/jobs/:id", s.getJob)
	e.GET("/jobs/:id/events", s.jobEvents)
	e.GET("/models", s.models)
	e.POST("/models/:id/download", s.downloadModel)
	e.GET("/api", s.info)
	e.GET("/health", s.health)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleError renders every failure as {"detail": reason}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	httpErr := toHTTPError(err)
	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(httpErr.Code)
	} else {
		writeErr = c.JSON(httpErr.Code, map[string]any{"detail": httpErr.Message})
	}
	if writeErr != nil {
		s.log.Warn("write error response", "error", writeErr)
	}
}

// toHTTPError maps pipeline error kinds onto status codes.
func toHTTPError(err error) *echo.HTTPError {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, domain.Reason(err))
	case errors.Is(err, domain.ErrCancelled):
		return echo.NewHTTPError(http.StatusRequestTimeout, domain.Reason(err))
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, domain.Reason(err))
	}
}
