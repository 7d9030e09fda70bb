package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"audio-transcriber/internal/domain"
)

const maxDefaultWorkers = 4

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	workers := runtime.NumCPU()
	if workers > maxDefaultWorkers {
		workers = maxDefaultWorkers
	}

	return domain.Settings{
		ListenAddr:     ":8000",
		Engine:         domain.EngineWhisperCLI,
		FFmpegPath:     "ffmpeg",
		WhisperPath:    "whisper-cli",
		ModelPath:      filepath.Join(homeDir, ".audio-transcriber", "models"),
		Language:       "auto",
		Workers:        workers,
		MaxUploadBytes: 500 << 20,
		UploadDir:      "uploads",
		TranscriptsDir: "transcripts",
		StagingDir:     filepath.Join(os.TempDir(), "audio-transcriber-staging"),
		CacheBackend:   domain.CacheBackendFile,
		CacheDir:       "cache",
		StagingTimeout: 2 * time.Minute,
		CacheTimeout:   10 * time.Second,
		SweepSchedule:  "@every 15m",
		StagingMaxAge:  time.Hour,
		LogLevel:       "info",
	}
}

// Normalize fills zero or out-of-range values from DefaultSettings.
func Normalize(s domain.Settings) domain.Settings {
	d := DefaultSettings()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.ListenAddr, d.ListenAddr)
	fill(&s.Engine, d.Engine)
	fill(&s.FFmpegPath, d.FFmpegPath)
	fill(&s.WhisperPath, d.WhisperPath)
	fill(&s.Language, d.Language)
	fill(&s.UploadDir, d.UploadDir)
	fill(&s.TranscriptsDir, d.TranscriptsDir)
	fill(&s.StagingDir, d.StagingDir)
	fill(&s.CacheBackend, d.CacheBackend)
	fill(&s.CacheDir, d.CacheDir)
	fill(&s.LogLevel, d.LogLevel)
	if s.Workers < 1 {
		s.Workers = d.Workers
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = d.MaxUploadBytes
	}
	if s.StagingTimeout <= 0 {
		s.StagingTimeout = d.StagingTimeout
	}
	if s.CacheTimeout <= 0 {
		s.CacheTimeout = d.CacheTimeout
	}
	if s.StagingMaxAge <= 0 {
		s.StagingMaxAge = d.StagingMaxAge
	}
	return s
}
