package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"audio-transcriber/internal/domain"
)

func dirSettings(root string) domain.Settings {
	return domain.Settings{
		UploadDir:      filepath.Join(root, "uploads"),
		TranscriptsDir: filepath.Join(root, "transcripts"),
		StagingDir:     filepath.Join(root, "staging"),
		CacheDir:       filepath.Join(root, "cache"),
	}
}

func foundTools(name string) (string, error) { return "/usr/local/bin/" + name, nil }

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "ggml-base.bin"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	checker := NewCheckerForTests(foundTools, os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)
	settings := dirSettings(root)
	settings.Engine = domain.EngineWhisperCLI
	settings.FFmpegPath = "ffmpeg"
	settings.WhisperPath = "whisper-cli"
	settings.ModelPath = modelDir

	report := checker.Run(settings)
	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_whisper", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "cache_dir", domain.DiagnosticStatusPass)
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove,
	)

	report := checker.Run(domain.Settings{ModelPath: "/path/that/does/not/exist"})
	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_whisper", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "model_path", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "upload_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "staging_dir", domain.DiagnosticStatusFail)
}

// TestCheckerRunModelDirectoryWithoutModelFilesFails validates model check.
func TestCheckerRunModelDirectoryWithoutModelFilesFails(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "README.txt"), []byte("no model"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	checker := NewCheckerForTests(foundTools, os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)
	settings := dirSettings(root)
	settings.ModelPath = modelDir
	report := checker.Run(settings)

	assertStatusByID(t, report, "model_path", domain.DiagnosticStatusFail)
}

// TestCheckerRunHTTPEngineAndGCS swaps tool checks for endpoint and bucket checks.
func TestCheckerRunHTTPEngineAndGCS(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove,
	)
	settings := dirSettings(root)
	settings.Engine = domain.EngineHTTP
	settings.EngineURL = "http://whisper:9000/asr"
	settings.CacheBackend = domain.CacheBackendGCS

	report := checker.Run(settings)
	assertStatusByID(t, report, "engine_url", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "gcs_bucket", domain.DiagnosticStatusFail)
	for _, item := range report.Items {
		if item.ID == "tool_ffmpeg" || item.ID == "cache_dir" {
			t.Fatalf("unexpected item %s for http engine with gcs cache", item.ID)
		}
	}

	settings.EngineURL = "not a url"
	assertStatusByID(t, checker.Run(settings), "engine_url", domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
