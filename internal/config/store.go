package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"audio-transcriber/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. TRANSCRIBER_WORKERS.
const EnvPrefix = "TRANSCRIBER"

// Store defines persistence operations for service settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// FileStore reads an optional settings file overlaid by environment variables.
type FileStore struct {
	path string
}

// NewFileStore creates a store for path; the format follows the extension
// (json, yaml or toml) and a bare name gets ".json". An empty path reads only
// the environment.
func NewFileStore(path string) *FileStore {
	if path != "" && filepath.Ext(path) == "" {
		path += ".json"
	}
	return &FileStore{path: path}
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load merges defaults, the settings file when present and the environment.
func (s *FileStore) Load() (domain.Settings, error) {
	v := viper.New()
	for key, value := range settingsMap(DefaultSettings()) {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if s.path != "" {
		v.SetConfigFile(s.path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.Settings{}, fmt.Errorf("read settings %s: %w", s.path, err)
		}
	}

	var cfg domain.Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return cfg, nil
}

// Save writes settings and creates parent directories.
func (s *FileStore) Save(cfg domain.Settings) error {
	if s.path == "" {
		return fmt.Errorf("settings file path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	v := viper.New()
	for key, value := range settingsMap(cfg) {
		v.Set(key, value)
	}
	return v.WriteConfigAs(s.path)
}

// settingsMap flattens settings into viper keys; durations are saved as strings.
func settingsMap(cfg domain.Settings) map[string]any {
	return map[string]any{
		"listen_addr":      cfg.ListenAddr,
		"engine":           cfg.Engine,
		"engine_url":       cfg.EngineURL,
		"ffmpeg_path":      cfg.FFmpegPath,
		"whisper_path":     cfg.WhisperPath,
		"model_path":       cfg.ModelPath,
		"language":         cfg.Language,
		"workers":          cfg.Workers,
		"max_upload_bytes": cfg.MaxUploadBytes,
		"upload_dir":       cfg.UploadDir,
		"transcripts_dir":  cfg.TranscriptsDir,
		"staging_dir":      cfg.StagingDir,
		"cache_backend":    strings.ToLower(cfg.CacheBackend),
		"cache_dir":        cfg.CacheDir,
		"gcs_bucket":       cfg.GCSBucket,
		"gcs_prefix":       cfg.GCSPrefix,
		"database_url":     cfg.DatabaseURL,
		"staging_timeout":  cfg.StagingTimeout.String(),
		"cache_timeout":    cfg.CacheTimeout.String(),
		"sweep_schedule":   cfg.SweepSchedule,
		"staging_max_age":  cfg.StagingMaxAge.String(),
		"log_level":        cfg.LogLevel,
	}
}
