package domain

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Task selects between same-language transcription and translation to English.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Valid reports whether the task is one the engines understand.
func (t Task) Valid() bool {
	return t == TaskTranscribe || t == TaskTranslate
}

// Format is one renderable transcript output.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatJSON Format = "json"
)

// AllFormats lists every supported output format in canonical order.
var AllFormats = []Format{FormatTXT, FormatSRT, FormatVTT, FormatJSON}

// SupportedExtensions is the set of accepted upload extensions, lowercase with dot.
var SupportedExtensions = []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm", ".mp4", ".wmv"}

// Options are the caller-selected transcription parameters.
type Options struct {
	Language      string   `json:"language,omitempty"`
	Task          Task     `json:"task"`
	OutputFormats []Format `json:"output_formats,omitempty"`
}

// JobStatus tracks the lifecycle of one inference job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job stores a job identity and its current lifecycle status.
type Job struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Filename  string    `json:"filename"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Segment is one timed span of transcribed text.
type Segment struct {
	Index int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the normalized result of one successful pipeline run.
type Transcript struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	Language        string    `json:"language"`
	Segments        []Segment `json:"segments"`
	SourceFilename  string    `json:"filename"`
	DurationSeconds float64   `json:"duration"`
	CreatedAt       time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers never share segment slices.
func (t Transcript) Clone() Transcript {
	out := t
	if t.Segments != nil {
		out.Segments = append([]Segment(nil), t.Segments...)
	}
	return out
}

// SameContent compares the engine-derived content of two transcripts,
// ignoring identity, file name and creation time.
func (t Transcript) SameContent(other Transcript) bool {
	if t.Text != other.Text || t.Language != other.Language || t.DurationSeconds != other.DurationSeconds {
		return false
	}
	if len(t.Segments) != len(other.Segments) {
		return false
	}
	for i := range t.Segments {
		if t.Segments[i] != other.Segments[i] {
			return false
		}
	}
	return true
}

// AudioBlob is an uploaded audio payload that can be opened more than once.
type AudioBlob struct {
	Filename string
	size     func() (int64, error)
	open     func() (io.ReadCloser, error)
}

// NewBlob builds a blob from an opener with a known size.
func NewBlob(filename string, size int64, open func() (io.ReadCloser, error)) AudioBlob {
	return AudioBlob{
		Filename: filename,
		size:     func() (int64, error) { return size, nil },
		open:     open,
	}
}

// BlobFromBytes wraps in-memory content.
func BlobFromBytes(filename string, data []byte) AudioBlob {
	return NewBlob(filename, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// BlobFromFile references a file on disk; existence is checked lazily.
func BlobFromFile(filename, path string) AudioBlob {
	if strings.TrimSpace(filename) == "" {
		filename = filepath.Base(path)
	}
	return AudioBlob{
		Filename: filename,
		size: func() (int64, error) {
			info, err := os.Stat(path)
			if err != nil {
				return 0, err
			}
			if info.IsDir() {
				return 0, fmt.Errorf("%s is a directory", path)
			}
			return info.Size(), nil
		},
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// Size returns the blob length in bytes.
func (b AudioBlob) Size() (int64, error) {
	if b.size == nil {
		return 0, fmt.Errorf("audio blob %q has no source", b.Filename)
	}
	return b.size()
}

// Open returns a fresh reader over the blob content.
func (b AudioBlob) Open() (io.ReadCloser, error) {
	if b.open == nil {
		return nil, fmt.Errorf("audio blob %q has no source", b.Filename)
	}
	return b.open()
}

// Extension returns the lowercase file extension including the dot.
func (b AudioBlob) Extension() string {
	return strings.ToLower(filepath.Ext(b.Filename))
}
