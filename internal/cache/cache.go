// Package cache persists completed transcripts keyed by content fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"audio-transcriber/internal/domain"
)

const entryVersion = 1

// entry is the on-storage envelope around a transcript.
type entry struct {
	Version    int             `json:"version"`
	Key        string          `json:"key"`
	Checksum   string          `json:"checksum"`
	Transcript json.RawMessage `json:"transcript"`
}

// Cache implements lookup-or-populate over a Backend.
type Cache struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a cache; timeout bounds every backend call when positive.
func New(backend Backend, timeout time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, timeout: timeout, logger: logger}
}

func (c *Cache) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Lookup returns a copy of the cached transcript for key. A corrupt entry is
// evicted and reported as ErrCacheCorruption; it is never returned.
func (c *Cache) Lookup(ctx context.Context, key string) (domain.Transcript, bool, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Transcript{}, false, nil
		}
		return domain.Transcript{}, false, domain.NewError(domain.ErrCache, domain.StageCache, "cache read failed", err)
	}

	t, err := decode(key, data)
	if err != nil {
		if delErr := c.backend.Delete(ctx, key); delErr != nil {
			c.logger.Warn("evict corrupt cache entry failed", "key", key, "error", delErr)
		} else {
			c.logger.Warn("evicted corrupt cache entry", "key", key, "error", err)
		}
		return domain.Transcript{}, false, domain.NewError(domain.ErrCacheCorruption, domain.StageCache, "cache entry is corrupt", err)
	}
	return t, true, nil
}

// Store persists t under key. Storing equal content twice is a no-op; an
// existing entry with different content is reported, never overwritten.
func (c *Cache) Store(ctx context.Context, key string, t domain.Transcript) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	data, err := encode(key, t)
	if err != nil {
		return domain.NewError(domain.ErrCache, domain.StageCache, "encode cache entry", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		created, err := c.backend.Create(ctx, key, data)
		if err != nil {
			return domain.NewError(domain.ErrCache, domain.StageCache, "cache write failed", err)
		}
		if created {
			return nil
		}

		existingData, err := c.backend.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.NewError(domain.ErrCache, domain.StageCache, "cache read failed", err)
		}

		existing, err := decode(key, existingData)
		if err != nil {
			// A damaged entry holds no content worth protecting; replace it.
			c.logger.Warn("replacing corrupt cache entry", "key", key, "error", err)
			if delErr := c.backend.Delete(ctx, key); delErr != nil {
				return domain.NewError(domain.ErrCache, domain.StageCache, "evict corrupt cache entry", delErr)
			}
			continue
		}
		if existing.SameContent(t) {
			return nil
		}
		return domain.NewError(domain.ErrCacheCorruption, domain.StageCache,
			"cache entry already holds different content for this fingerprint", nil)
	}
	return domain.NewError(domain.ErrCache, domain.StageCache, "cache entry kept changing during write", nil)
}

func encode(key string, t domain.Transcript) ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entry{
		Version:    entryVersion,
		Key:        key,
		Checksum:   checksum(raw),
		Transcript: raw,
	})
}

func decode(key string, data []byte) (domain.Transcript, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.Transcript{}, errors.Wrap(err, "decode envelope")
	}
	if e.Version != entryVersion {
		return domain.Transcript{}, errors.Errorf("unsupported entry version %d", e.Version)
	}
	if e.Key != key {
		return domain.Transcript{}, errors.Errorf("entry key %q does not match %q", e.Key, key)
	}
	if e.Checksum != checksum(e.Transcript) {
		return domain.Transcript{}, errors.New("checksum mismatch")
	}

	var t domain.Transcript
	if err := json.Unmarshal(e.Transcript, &t); err != nil {
		return domain.Transcript{}, errors.Wrap(err, "decode transcript")
	}
	return t, nil
}

func checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
