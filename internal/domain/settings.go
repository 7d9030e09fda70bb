package domain

import "time"

// Engine kinds selectable in Settings.Engine.
const (
	EngineWhisperCLI = "whisper-cli"
	EngineHTTP       = "http"
)

// Cache backends selectable in Settings.CacheBackend.
const (
	CacheBackendFile = "file"
	CacheBackendGCS  = "gcs"
)

// Settings contains runtime configuration for the service.
type Settings struct {
	ListenAddr     string        `json:"listen_addr" mapstructure:"listen_addr"`
	Engine         string        `json:"engine" mapstructure:"engine"`
	EngineURL      string        `json:"engine_url" mapstructure:"engine_url"`
	FFmpegPath     string        `json:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	WhisperPath    string        `json:"whisper_path" mapstructure:"whisper_path"`
	ModelPath      string        `json:"model_path" mapstructure:"model_path"`
	Language       string        `json:"language" mapstructure:"language"`
	Workers        int           `json:"workers" mapstructure:"workers"`
	MaxUploadBytes int64         `json:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	UploadDir      string        `json:"upload_dir" mapstructure:"upload_dir"`
	TranscriptsDir string        `json:"transcripts_dir" mapstructure:"transcripts_dir"`
	StagingDir     string        `json:"staging_dir" mapstructure:"staging_dir"`
	CacheBackend   string        `json:"cache_backend" mapstructure:"cache_backend"`
	CacheDir       string        `json:"cache_dir" mapstructure:"cache_dir"`
	GCSBucket      string        `json:"gcs_bucket" mapstructure:"gcs_bucket"`
	GCSPrefix      string        `json:"gcs_prefix" mapstructure:"gcs_prefix"`
	DatabaseURL    string        `json:"database_url" mapstructure:"database_url"`
	StagingTimeout time.Duration `json:"staging_timeout" mapstructure:"staging_timeout"`
	CacheTimeout   time.Duration `json:"cache_timeout" mapstructure:"cache_timeout"`
	SweepSchedule  string        `json:"sweep_schedule" mapstructure:"sweep_schedule"`
	StagingMaxAge  time.Duration `json:"staging_max_age" mapstructure:"staging_max_age"`
	LogLevel       string        `json:"log_level" mapstructure:"log_level"`
}
