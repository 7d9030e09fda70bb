package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/exp/slog"
)

// Sweeper removes staged files left behind by crashed processes.
type Sweeper struct {
	area   *Area
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
	cron   *cron.Cron
}

// NewSweeper builds a sweeper for files older than maxAge.
func NewSweeper(area *Area, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{area: area, maxAge: maxAge, logger: logger, now: time.Now}
}

// Sweep deletes stale staged files and returns how many were removed. Files
// held by unreleased handles are never removed.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.area.Dir())
	if err != nil {
		return 0, errors.Wrap(err, "read staging directory")
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), FilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.area.Dir(), entry.Name())
		if s.area.isLive(path) {
			continue
		}
		if err := s.area.remove(path); err != nil {
			s.logger.Warn("sweep staged file failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("swept stale staged files", "removed", removed)
	}
	return removed, nil
}

// Start runs Sweep on the cron schedule until Stop.
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.logger.Warn("staging sweep failed", "error", err)
		}
	}); err != nil {
		return errors.Wrapf(err, "invalid sweep schedule %q", schedule)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule; the returned context is done once a running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}
