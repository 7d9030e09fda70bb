package httpapi

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"audio-transcriber/internal/domain"
)

// Upload errors.
var (
	ErrUnsupportedUpload = errors.New("unsupported file type")
	ErrUploadTooLarge    = errors.New("file too large")
	ErrUnknownUpload     = errors.New("file not found")
)

// Upload describes one stored upload.
type Upload struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// UploadStore keeps raw uploads under {uuid}{ext} until they are transcribed.
type UploadStore struct {
	dir   string
	newID func() string
}

// NewUploadStore creates dir if needed.
func NewUploadStore(dir string) (*UploadStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &UploadStore{dir: dir, newID: uuid.NewString}, nil
}

// Save copies src into the store, rejecting unsupported extensions and
// content longer than limit bytes.
func (u *UploadStore) Save(filename string, src io.Reader, limit int64) (Upload, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !lo.Contains(domain.SupportedExtensions, ext) {
		return Upload{}, fmt.Errorf("%w: %q", ErrUnsupportedUpload, ext)
	}

	fileID := u.newID() + ext
	path := filepath.Join(u.dir, fileID)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Upload{}, fmt.Errorf("create upload: %w", err)
	}

	reader := src
	if limit > 0 {
		reader = io.LimitReader(src, limit+1)
	}
	written, copyErr := io.Copy(dst, reader)
	closeErr := dst.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return Upload{}, fmt.Errorf("write upload: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return Upload{}, fmt.Errorf("write upload: %w", closeErr)
	case limit > 0 && written > limit:
		_ = os.Remove(path)
		return Upload{}, ErrUploadTooLarge
	}
	return Upload{FileID: fileID, Filename: filename, Size: written}, nil
}

// Path resolves a file id to its stored location.
func (u *UploadStore) Path(fileID string) (string, error) {
	id := strings.TrimSpace(fileID)
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", ErrUnknownUpload
	}
	path := filepath.Join(u.dir, id)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrUnknownUpload
	}
	return path, nil
}

// Blob opens a stored upload as pipeline input.
func (u *UploadStore) Blob(fileID string) (domain.AudioBlob, error) {
	path, err := u.Path(fileID)
	if err != nil {
		return domain.AudioBlob{}, err
	}
	return domain.BlobFromFile(fileID, path), nil
}

// Remove deletes a stored upload; missing files are ignored.
func (u *UploadStore) Remove(fileID string) error {
	path, err := u.Path(fileID)
	if err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
