// Package diagnostics checks that the configured engine and directories are usable.
package diagnostics

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"audio-transcriber/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return NewCheckerForTests(exec.LookPath, os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)
}

// Run executes all checks relevant to settings and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	var items []domain.DiagnosticItem
	switch settings.Engine {
	case domain.EngineHTTP:
		items = append(items, c.checkEngineURL(settings.EngineURL))
	default:
		items = append(items,
			c.checkTool("ffmpeg", settings.FFmpegPath),
			c.checkTool("whisper", settings.WhisperPath),
			c.checkModelPath(settings.ModelPath),
		)
	}

	items = append(items,
		c.checkWritableDir("upload_dir", "Upload directory", settings.UploadDir),
		c.checkWritableDir("transcripts_dir", "Transcripts directory", settings.TranscriptsDir),
		c.checkWritableDir("staging_dir", "Staging directory", settings.StagingDir),
	)
	if settings.CacheBackend == domain.CacheBackendGCS {
		items = append(items, c.checkBucket(settings.GCSBucket))
	} else {
		items = append(items, c.checkWritableDir("cache_dir", "Cache directory", settings.CacheDir))
	}

	return domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		HasFailures: lo.SomeBy(items, func(item domain.DiagnosticItem) bool {
			return item.Status == domain.DiagnosticStatusFail
		}),
		Items: items,
	}
}

// checkTool verifies a required CLI executable can be resolved.
func (c *Checker) checkTool(id, command string) domain.DiagnosticItem {
	name := strings.TrimSpace(command)
	if name == "" {
		name = id
	}
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + id,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", name),
			Hint:    "Install it and ensure the binary is on PATH or configure its absolute path.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + id,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkEngineURL validates the remote engine endpoint.
func (c *Checker) checkEngineURL(raw string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "engine_url", Name: "Engine URL"}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Invalid engine URL: %q", raw)
		item.Hint = "Set engine_url to the http(s) address of a whisper-compatible server."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Engine endpoint: %s", u.Redacted())
	return item
}

// checkBucket requires a bucket name for the remote cache.
func (c *Checker) checkBucket(bucket string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "gcs_bucket", Name: "Cache bucket"}
	if strings.TrimSpace(bucket) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Cache bucket is empty."
		item.Hint = "Set gcs_bucket or switch cache_backend to file."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Cache bucket: %s", bucket)
	return item
}

// checkModelPath validates configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_path",
		Name: "Model path",
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set a valid model file path or a directory containing whisper models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Download a whisper.cpp model (see GET /models) and configure model_path."
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	hasModel := lo.ContainsBy(entries, func(entry os.DirEntry) bool {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		return !entry.IsDir() && (ext == ".bin" || ext == ".gguf")
	})
	if hasModel {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
		return item
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory or point to a model file directly."
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = "Set a directory the service can write to."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Adjust filesystem permissions for the service user."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		now:        time.Now,
	}
}
