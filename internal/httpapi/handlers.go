package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"audio-transcriber/internal/batch"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/engine"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/progress"
	"audio-transcriber/internal/records"
	"audio-transcriber/internal/render"
	"audio-transcriber/internal/transcribe"
)

const defaultListLimit = 100

type transcribeResponse struct {
	domain.Transcript
	OutputFiles map[domain.Format]string `json:"output_files"`
	RecordID    int64                    `json:"db_id,omitempty"`
}

type batchRequest struct {
	Files         []string        `json:"files"`
	Language      string          `json:"language"`
	Task          domain.Task     `json:"task"`
	OutputFormats []domain.Format `json:"output_formats"`
}

type batchSuccess struct {
	FileID string `json:"file_id"`
	transcribeResponse
}

type batchFailure struct {
	FileID string `json:"file_id"`
	Error  string `json:"error"`
}

type batchResponse struct {
	Results        []batchSuccess `json:"results"`
	Errors         []batchFailure `json:"errors"`
	TotalProcessed int            `json:"total_processed"`
	TotalErrors    int            `json:"total_errors"`
}

// transcribe handles a single multipart upload and waits for the transcript.
func (s *Server) transcribe(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no file provided")
	}
	maxBytes := s.deps.Pipeline.MaxUploadBytes()
	if maxBytes > 0 && header.Size > maxBytes {
		return tooLarge(maxBytes)
	}
	opts, err := transcribe.NormalizeOptions(optionsFromForm(c))
	if err != nil {
		return err
	}

	src, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read upload: "+err.Error())
	}
	defer src.Close()
	upload, err := s.deps.Uploads.Save(header.Filename, src, maxBytes)
	if err != nil {
		return s.uploadError(err, maxBytes)
	}
	defer func() {
		if err := s.deps.Uploads.Remove(upload.FileID); err != nil {
			s.log.Warn("remove temporary upload", "file_id", upload.FileID, "error", err)
		}
	}()

	path, err := s.deps.Uploads.Path(upload.FileID)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	t, err := s.deps.Pipeline.Submit(ctx, domain.BlobFromFile(header.Filename, path), opts, progress.Discard)
	if err != nil {
		return err
	}
	resp, err := s.finish(ctx, t, header.Filename, opts.OutputFormats)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// upload stores a file for later transcription over WebSocket or batch.
func (s *Server) upload(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no file provided")
	}
	maxBytes := s.deps.Pipeline.MaxUploadBytes()
	if maxBytes > 0 && header.Size > maxBytes {
		return tooLarge(maxBytes)
	}
	src, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read upload: "+err.Error())
	}
	defer src.Close()

	upload, err := s.deps.Uploads.Save(header.Filename, src, maxBytes)
	if err != nil {
		return s.uploadError(err, maxBytes)
	}
	logging.FromContext(c.Request().Context(), s.log).Info("upload stored",
		"file_id", upload.FileID,
		"filename", upload.Filename,
		"size", upload.Size,
	)
	return c.JSON(http.StatusOK, upload)
}

// batchTranscribe runs every previously uploaded file id through the pipeline.
func (s *Server) batchTranscribe(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch request")
	}
	if len(req.Files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "files must not be empty")
	}
	opts, err := transcribe.NormalizeOptions(domain.Options{
		Language:      req.Language,
		Task:          req.Task,
		OutputFormats: req.OutputFormats,
	})
	if err != nil {
		return err
	}

	resp := batchResponse{Results: []batchSuccess{}, Errors: []batchFailure{}}
	items := make([]batch.Item, 0, len(req.Files))
	names := make(map[string]string, len(req.Files))
	for _, fileID := range lo.Uniq(req.Files) {
		blob, err := s.deps.Uploads.Blob(fileID)
		if err != nil {
			resp.Errors = append(resp.Errors, batchFailure{FileID: fileID, Error: err.Error()})
			continue
		}
		names[fileID] = blob.Filename
		items = append(items, batch.Item{ID: fileID, Blob: blob, Options: opts})
	}

	ctx := c.Request().Context()
	result := s.deps.Batch.RunBatch(ctx, items)
	for _, success := range result.Succeeded {
		out, err := s.finish(ctx, success.Transcript, names[success.ID], opts.OutputFormats)
		if err != nil {
			resp.Errors = append(resp.Errors, batchFailure{FileID: success.ID, Error: domain.Reason(err)})
			continue
		}
		resp.Results = append(resp.Results, batchSuccess{FileID: success.ID, transcribeResponse: out})
	}
	for _, failure := range result.Failed {
		resp.Errors = append(resp.Errors, batchFailure{FileID: failure.ID, Error: failure.Reason})
	}
	resp.TotalProcessed = len(resp.Results)
	resp.TotalErrors = len(resp.Errors)
	return c.JSON(http.StatusOK, resp)
}

// listTranscripts returns saved transcription records, newest first.
func (s *Server) listTranscripts(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	list, err := s.deps.Records.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []records.Record{}
	}
	return c.JSON(http.StatusOK, map[string]any{"transcripts": list})
}

// getTranscript returns one exported file from the transcripts directory.
func (s *Server) getTranscript(c echo.Context) error {
	file, err := s.deps.Exporter.Read(c.Param("filename"))
	switch {
	case errors.Is(err, render.ErrInvalidName), errors.Is(err, os.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, "transcript not found")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, file)
}

// getJob reports the lifecycle state of one job.
func (s *Server) getJob(c echo.Context) error {
	job, ok := s.deps.Jobs.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

// jobEvents replays buffered progress events for one job after ?since.
func (s *Server) jobEvents(c echo.Context) error {
	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an integer")
		}
		since = n
	}
	events := s.deps.Events.JobSince(c.Param("id"), since)
	if events == nil {
		events = []domain.ProgressEvent{}
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

func (s *Server) models(c echo.Context) error {
	var list []domain.WhisperModelOption
	if s.deps.Models != nil {
		list = s.deps.Models()
	}
	if list == nil {
		list = []domain.WhisperModelOption{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"current_model":    s.deps.Info.Model,
		"available_models": list,
	})
}

// downloadModel fetches one catalog model next to the configured model path.
func (s *Server) downloadModel(c echo.Context) error {
	if s.deps.Download == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "model downloads are not enabled")
	}
	model, err := s.deps.Download.Download(c.Request().Context(), c.Param("id"), s.deps.Info.Model)
	switch {
	case errors.Is(err, engine.ErrUnknownModel):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, model)
}

func (s *Server) info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"message":           s.deps.Info.Name,
		"version":           s.deps.Info.Version,
		"engine":            s.deps.Info.Engine,
		"model":             s.deps.Info.Model,
		"max_file_size":     s.deps.Pipeline.MaxUploadBytes(),
		"supported_formats": domain.SupportedExtensions,
		"output_formats":    domain.AllFormats,
	})
}

// health reports "ok" when every diagnostic check passes and "degraded" otherwise.
func (s *Server) health(c echo.Context) error {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if s.deps.Health != nil {
		report := s.deps.Health()
		if report.HasFailures {
			resp["status"] = "degraded"
		}
		resp["checks"] = report.Items
		resp["pool"] = report.Pool
	}
	return c.JSON(http.StatusOK, resp)
}

// finish exports the transcript and saves a listing record. A record that
// cannot be saved is logged and leaves RecordID unset.
func (s *Server) finish(ctx context.Context, t domain.Transcript, filename string, formats []domain.Format) (transcribeResponse, error) {
	if filename == "" {
		filename = t.SourceFilename
	}
	written, err := s.deps.Exporter.Export(t, filename, formats)
	if err != nil {
		return transcribeResponse{}, fmt.Errorf("export transcript: %w", err)
	}
	resp := transcribeResponse{Transcript: t, OutputFiles: written}

	filePath, ok := written[domain.FormatTXT]
	if !ok && len(formats) > 0 {
		filePath = written[formats[0]]
	}
	id, err := s.deps.Records.Save(ctx, records.Record{
		TranscriptID: t.ID,
		Filename:     filename,
		Text:         t.Text,
		Language:     t.Language,
		Duration:     t.DurationSeconds,
		FilePath:     filePath,
	})
	if err != nil {
		logging.FromContext(ctx, s.log).Warn("save transcript record", "transcript_id", t.ID, "error", err)
		return resp, nil
	}
	resp.RecordID = id
	return resp, nil
}

func (s *Server) uploadError(err error, maxBytes int64) error {
	switch {
	case errors.Is(err, ErrUnsupportedUpload):
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported format; allowed: %s", strings.Join(domain.SupportedExtensions, ", ")))
	case errors.Is(err, ErrUploadTooLarge):
		return tooLarge(maxBytes)
	default:
		return err
	}
}

func tooLarge(maxBytes int64) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("file too large; maximum size is %d MB", maxBytes>>20))
}

// optionsFromForm reads language, task and output_formats. Formats may be
// repeated or comma separated.
func optionsFromForm(c echo.Context) domain.Options {
	opts := domain.Options{
		Language: c.FormValue("language"),
		Task:     domain.Task(c.FormValue("task")),
	}
	params, err := c.FormParams()
	if err != nil {
		return opts
	}
	for _, raw := range params["output_formats"] {
		for _, part := range strings.Split(raw, ",") {
			opts.OutputFormats = append(opts.OutputFormats, domain.Format(strings.TrimSpace(part)))
		}
	}
	return opts
}
