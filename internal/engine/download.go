package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"

	"audio-transcriber/internal/domain"
)

// DefaultModelBaseURL hosts the ggml whisper.cpp model files.
const DefaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

const modelDownloadTimeout = 45 * time.Minute

// ErrUnknownModel is returned for ids missing from the catalog.
var ErrUnknownModel = errors.New("unknown model id")

// ModelDownloader fetches catalog models next to the configured model path.
// Concurrent requests for the same file share one download.
type ModelDownloader struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	flight  singleflight.Group
}

// NewModelDownloader builds a downloader; an empty baseURL uses DefaultModelBaseURL.
func NewModelDownloader(baseURL string, client *http.Client, logger *slog.Logger) *ModelDownloader {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultModelBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelDownloader{baseURL: strings.TrimRight(baseURL, "/"), client: client, logger: logger}
}

// Download stores the model into the directory implied by modelPath and
// returns the preset marked available. An existing file is not fetched again.
func (d *ModelDownloader) Download(ctx context.Context, modelID, modelPath string) (domain.WhisperModelOption, error) {
	model, ok := ModelByID(modelID)
	if !ok {
		return domain.WhisperModelOption{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	dir, err := modelDownloadDir(modelPath)
	if err != nil {
		return domain.WhisperModelOption{}, err
	}

	target := filepath.Join(dir, model.FileName)
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		model.Available, model.LocalPath = true, target
		return model, nil
	}

	_, err, shared := d.flight.Do(target, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, modelDownloadTimeout)
		defer cancel()
		return nil, d.fetch(ctx, d.baseURL+"/"+model.FileName, target)
	})
	if err != nil {
		return domain.WhisperModelOption{}, fmt.Errorf("download model %s: %w", model.Name, err)
	}
	d.logger.Info("model downloaded", "model", model.ID, "path", target, "shared", shared)
	model.Available, model.LocalPath = true, target
	return model, nil
}

// fetch streams url into a temporary file and renames it over dest.
func (d *ModelDownloader) fetch(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "audio-transcriber")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpPath := file.Name()
	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}

// modelDownloadDir maps a model setting (file or directory) to the directory
// downloads land in.
func modelDownloadDir(modelPath string) (string, error) {
	trimmed := strings.TrimSpace(modelPath)
	if trimmed == "" {
		return "", fmt.Errorf("model path is not configured")
	}

	info, err := os.Stat(trimmed)
	switch {
	case err == nil && info.IsDir():
		return trimmed, nil
	case err == nil && isModelFile(trimmed):
		return filepath.Dir(trimmed), nil
	case err == nil:
		return "", fmt.Errorf("model path points to non-model file: %s", trimmed)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("check model path: %w", err)
	case isModelFile(trimmed):
		return filepath.Dir(trimmed), nil
	default:
		return trimmed, nil
	}
}
