// Package staging copies uploaded audio into engine-safe temporary files.
package staging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"audio-transcriber/internal/domain"
)

// FilePrefix marks files owned by the staging area.
const FilePrefix = "w_"

// Area manages a directory of exclusively-owned staged audio files.
type Area struct {
	dir     string
	timeout time.Duration
	logger  *slog.Logger

	newName    func() string
	createFile func(name string) (*os.File, error)
	openFile   func(name string) (*os.File, error)
	stat       func(name string) (os.FileInfo, error)
	remove     func(name string) error

	mu   sync.Mutex
	live map[string]struct{}
}

// NewArea prepares dir and returns a staging area rooted at its absolute path.
func NewArea(dir string, timeout time.Duration, logger *slog.Logger) (*Area, error) {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "audio-transcriber-staging")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve staging directory %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create staging directory %s", abs)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Area{
		dir:     abs,
		timeout: timeout,
		logger:  logger,
		newName: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		},
		createFile: func(name string) (*os.File, error) {
			return os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		},
		openFile: os.Open,
		stat:     os.Stat,
		remove:   os.Remove,
		live:     make(map[string]struct{}),
	}, nil
}

// Dir returns the absolute staging directory.
func (a *Area) Dir() string {
	return a.dir
}

// Handle is a scoped claim on one staged file.
type Handle struct {
	path    string
	size    int64
	area    *Area
	release sync.Once
}

// Path returns the absolute engine-safe path.
func (h *Handle) Path() string {
	return h.path
}

// Size returns the staged byte count.
func (h *Handle) Size() int64 {
	return h.size
}

// Release deletes the staged file. Failures are logged, never returned.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.release.Do(func() {
		h.area.discard(h.path)
	})
}

// Stage copies blob into a uniquely named file and re-verifies the copy
// before returning it.
func (a *Area) Stage(ctx context.Context, blob domain.AudioBlob) (*Handle, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	expected, sizeErr := blob.Size()
	if sizeErr != nil {
		return nil, domain.NewError(domain.ErrStaging, domain.StageStaging, "cannot access source audio",
			errors.Wrap(domain.ErrFileUnreadable, sizeErr.Error()))
	}

	src, err := blob.Open()
	if err != nil {
		return nil, domain.NewError(domain.ErrStaging, domain.StageStaging, "cannot open source audio",
			errors.Wrap(domain.ErrFileUnreadable, err.Error()))
	}
	defer src.Close()

	path := filepath.Join(a.dir, FilePrefix+a.newName()+SafeExtension(blob.Extension()))
	dst, err := a.createFile(path)
	if err != nil {
		return nil, domain.NewError(domain.ErrStaging, domain.StageStaging, "cannot create staged file", err)
	}
	a.claim(path)

	written, copyErr := io.Copy(dst, &ctxReader{ctx: ctx, r: src})
	if copyErr == nil {
		copyErr = dst.Sync()
	}
	closeErr := dst.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		a.discard(path)
		return nil, domain.NewError(domain.ErrStaging, domain.StageStaging, "copy into staged file failed", copyErr)
	}

	if err := a.verify(path, written, expected); err != nil {
		a.discard(path)
		return nil, domain.NewError(domain.ErrStaging, domain.StageStaging, "staged file verification failed", err)
	}

	a.logger.Debug("staged audio", "path", path, "bytes", written, "source", blob.Filename)
	return &Handle{path: path, size: written, area: a}, nil
}

// verify re-checks existence, size and readability of the staged copy.
func (a *Area) verify(path string, written, expected int64) error {
	info, err := a.stat(path)
	if err != nil {
		return errors.Wrap(err, "staged file missing after copy")
	}
	if info.Size() != written {
		return errors.Errorf("staged file size %d, wrote %d", info.Size(), written)
	}
	if expected >= 0 && written != expected {
		return errors.Errorf("staged %d bytes, source declared %d", written, expected)
	}

	f, err := a.openFile(path)
	if err != nil {
		return errors.Wrap(err, "staged file not readable")
	}
	defer f.Close()
	if written > 0 {
		var probe [1]byte
		if _, err := io.ReadFull(f, probe[:]); err != nil {
			return errors.Wrap(err, "staged file not readable")
		}
	}
	return nil
}

// claim marks path as owned by a handle until discard.
func (a *Area) claim(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live[path] = struct{}{}
}

// isLive reports whether path belongs to a staging in progress or an unreleased handle.
func (a *Area) isLive(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.live[path]
	return ok
}

func (a *Area) discard(path string) {
	defer func() {
		a.mu.Lock()
		delete(a.live, path)
		a.mu.Unlock()
	}()
	if err := a.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("remove staged file failed", "path", path, "error", err)
		return
	}
	a.logger.Debug("removed staged file", "path", path)
}

// SafeExtension keeps only [a-z0-9] from ext and defaults to .wav.
func SafeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ".wav"
	}
	return "." + b.String()
}

// ctxReader aborts a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
