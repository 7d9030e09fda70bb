package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"audio-transcriber/internal/domain"
)

// HTTP posts audio to a whisper-compatible transcription server.
type HTTP struct {
	url    string
	client *http.Client
	logger *slog.Logger
	open   func(name string) (io.ReadCloser, error)
}

// NewHTTP builds an HTTP engine for url; a nil client gets no timeout.
func NewHTTP(url string, client *http.Client, logger *slog.Logger) (*HTTP, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("invalid url for HTTP engine %q", url)
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		url:    url,
		client: client,
		logger: logger,
		open: func(name string) (io.ReadCloser, error) {
			return os.Open(name)
		},
	}, nil
}

// Infer uploads the audio as multipart form data and decodes a verbose JSON reply.
func (h *HTTP) Infer(ctx context.Context, req Request) (Result, error) {
	body, contentType, err := h.encodeRequest(req)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, body)
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	reportProgress(req.OnProgress, 0)
	started := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("post audio: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{}, fmt.Errorf("engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	h.logger.Debug("http engine finished", "url", h.url, "elapsed", time.Since(started), "segments", len(result.Segments))
	reportProgress(req.OnProgress, 1)
	return result, nil
}

func (h *HTTP) encodeRequest(req Request) (io.Reader, string, error) {
	src, err := h.open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}

	task := req.Task
	if !task.Valid() {
		task = domain.TaskTranscribe
	}
	fields := map[string]string{
		"task":            string(task),
		"response_format": "verbose_json",
	}
	if lang := NormalizeLanguage(req.Language); lang != "" {
		fields["language"] = lang
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	if err := form.Close(); err != nil {
		return nil, "", err
	}
	return &buf, form.FormDataContentType(), nil
}
