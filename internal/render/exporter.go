package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"audio-transcriber/internal/domain"
)

// ErrInvalidName is returned for export names that escape the output directory.
var ErrInvalidName = errors.New("invalid transcript file name")

// File is one exported transcript document.
type File struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
}

// Exporter writes rendered transcripts under a single directory as {base}.{ext}.
type Exporter struct {
	dir       string
	writeFile func(name string, data []byte, perm os.FileMode) error
	readFile  func(name string) ([]byte, error)
}

// NewExporter creates the output directory if needed.
func NewExporter(dir string) (*Exporter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("transcripts directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcripts directory: %w", err)
	}
	return &Exporter{dir: dir, writeFile: os.WriteFile, readFile: os.ReadFile}, nil
}

// Dir returns the output directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// Export renders each distinct format and returns written paths keyed by format.
func (e *Exporter) Export(t domain.Transcript, sourceFilename string, formats []domain.Format) (map[domain.Format]string, error) {
	base := BaseName(sourceFilename)
	written := make(map[domain.Format]string, len(formats))
	for _, format := range lo.Uniq(formats) {
		data, err := Render(format, t)
		if err != nil {
			return written, err
		}
		path := filepath.Join(e.dir, base+"."+string(format))
		if err := e.writeFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s transcript: %w", format, err)
		}
		written[format] = path
	}
	return written, nil
}

// Read returns one exported file by its bare name.
func (e *Exporter) Read(filename string) (File, error) {
	name := strings.TrimSpace(filename)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return File{}, ErrInvalidName
	}
	data, err := e.readFile(filepath.Join(e.dir, name))
	if err != nil {
		return File{}, err
	}
	return File{Filename: name, Content: string(data), Size: int64(len(data))}, nil
}

// BaseName strips directories and the extension from an uploaded file name.
func BaseName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	base = strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if base == "" || base == "." || base == "/" {
		return "transcript"
	}
	return base
}
