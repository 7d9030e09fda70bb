// Package transcribe orchestrates fingerprinting, caching, staging and inference.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/fingerprint"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/progress"
	"audio-transcriber/internal/staging"
)

// DefaultMaxUploadBytes is the blob size ceiling when none is configured.
const DefaultMaxUploadBytes int64 = 500 << 20

// ResultCache is the content-addressed transcript store.
type ResultCache interface {
	Lookup(ctx context.Context, key string) (domain.Transcript, bool, error)
	Store(ctx context.Context, key string, t domain.Transcript) error
}

// Stager produces engine-safe copies of uploaded audio.
type Stager interface {
	Stage(ctx context.Context, blob domain.AudioBlob) (*staging.Handle, error)
}

// Runner schedules inference jobs.
type Runner interface {
	Submit(ctx context.Context, job jobs.Job) *jobs.Handle
}

// Config holds optional pipeline settings.
type Config struct {
	MaxUploadBytes int64
	// History receives every event emitted by any submission.
	History progress.Sink
	Logger  *slog.Logger
}

// Pipeline serves transcripts from the cache or computes them at most once per key.
type Pipeline struct {
	cache       ResultCache
	stager      Stager
	runner      Runner
	maxBytes    int64
	history     progress.Sink
	logger      *slog.Logger
	fingerprint func(ctx context.Context, blob domain.AudioBlob) (fingerprint.Digest, error)
	newJobID    func() string
	flights     singleflight.Group
	sources     sourceSet
}

// New wires a pipeline over its collaborators.
func New(cache ResultCache, stager Stager, runner Runner, cfg Config) *Pipeline {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		cache:       cache,
		stager:      stager,
		runner:      runner,
		maxBytes:    cfg.MaxUploadBytes,
		history:     cfg.History,
		logger:      cfg.Logger,
		fingerprint: fingerprint.Blob,
		newJobID:    uuid.NewString,
	}
}

// MaxUploadBytes returns the configured size ceiling.
func (p *Pipeline) MaxUploadBytes() int64 {
	return p.maxBytes
}

// Submit returns the transcript for blob, emitting progress to sink. Concurrent
// submissions of the same content and options share one computation. If ctx
// ends first Submit returns ErrCancelled while the computation keeps running
// and still populates the cache.
func (p *Pipeline) Submit(ctx context.Context, blob domain.AudioBlob, opts domain.Options, sink progress.Sink) (domain.Transcript, error) {
	jobID := p.newJobID()
	sink = progress.Tee(sink, p.history)

	opts, err := p.validate(blob, opts)
	if err != nil {
		return p.fail(sink, jobID, err)
	}

	digest, err := p.fingerprint(ctx, blob)
	if err != nil {
		if ctx.Err() != nil {
			return p.fail(sink, jobID, domain.NewError(domain.ErrCancelled, domain.StageValidation, "cancelled while fingerprinting", ctx.Err()))
		}
		return p.fail(sink, jobID, domain.NewError(domain.ErrFileUnreadable, domain.StageValidation, "cannot read audio content", err))
	}
	key := fingerprint.Key(digest, opts)
	logger := p.logger.With("job_id", jobID, "key", key, "file", blob.Filename)

	if cached, ok := p.lookup(ctx, logger, key); ok {
		logger.Info("cache hit")
		sink.Emit(domain.CompletedEvent(jobID, cached))
		return cached, nil
	}

	src := p.sources.join(key, blob)
	defer p.sources.leave(key, src)

	flightCtx := context.WithoutCancel(ctx)
	ch := p.flights.DoChan(key, func() (any, error) {
		return p.compute(flightCtx, logger, jobID, key, src, opts, sink)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return p.fail(sink, jobID, res.Err)
		}
		transcript := res.Val.(domain.Transcript).Clone()
		if res.Shared {
			logger.Debug("joined in-flight computation")
		}
		sink.Emit(domain.CompletedEvent(jobID, transcript))
		return transcript, nil
	case <-ctx.Done():
		logger.Info("caller left before completion; computation continues")
		return p.fail(sink, jobID, domain.NewError(domain.ErrCancelled, domain.StageWaiting, "caller stopped waiting", ctx.Err()))
	}
}

// compute stages src, runs inference and stores the result. The staged file
// is released on every path.
func (p *Pipeline) compute(
	ctx context.Context,
	logger *slog.Logger,
	jobID, key string,
	src *source,
	opts domain.Options,
	sink progress.Sink,
) (domain.Transcript, error) {
	blob := src.blob
	handle, err := p.stage(ctx, logger, key, src)
	if err != nil {
		logger.Warn("staging failed", "error", err)
		return domain.Transcript{}, err
	}
	defer handle.Release()

	h := p.runner.Submit(ctx, jobs.Job{
		ID:        jobID,
		Key:       key,
		Filename:  blob.Filename,
		AudioPath: handle.Path(),
		Options:   opts,
		Sink:      sink,
	})
	transcript, err := h.Wait(ctx)
	if err != nil {
		return domain.Transcript{}, err
	}

	if err := p.cache.Store(ctx, key, transcript); err != nil {
		if errors.Is(err, domain.ErrCacheCorruption) {
			logger.Error("cache corruption on store", "error", err)
			return domain.Transcript{}, err
		}
		logger.Warn("cache store failed; result not cached", "error", err)
	}
	return transcript, nil
}

// stage copies src into the staging area. When src can no longer be read it
// falls back to the copies held by other callers waiting on the same key.
func (p *Pipeline) stage(ctx context.Context, logger *slog.Logger, key string, src *source) (*staging.Handle, error) {
	tried := map[*source]bool{src: true}
	for {
		handle, err := p.stager.Stage(ctx, src.blob)
		if err == nil || !errors.Is(err, domain.ErrFileUnreadable) {
			return handle, err
		}
		next, ok := p.sources.next(key, tried)
		if !ok {
			return nil, err
		}
		logger.Info("source unreadable; staging a waiting caller's copy", "error", err, "fallback", next.blob.Filename)
		src = next
	}
}

// source is one caller's copy of the content behind a key.
type source struct {
	blob domain.AudioBlob
}

// sourceSet tracks the copies held by callers still waiting on each key.
type sourceSet struct {
	mu    sync.Mutex
	byKey map[string][]*source
}

func (s *sourceSet) join(key string, blob domain.AudioBlob) *source {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = make(map[string][]*source)
	}
	src := &source{blob: blob}
	s.byKey[key] = append(s.byKey[key], src)
	return src
}

func (s *sourceSet) leave(key string, src *source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rest := lo.Without(s.byKey[key], src)
	if len(rest) == 0 {
		delete(s.byKey, key)
		return
	}
	s.byKey[key] = rest
}

// next returns the first waiting copy not in tried and marks it tried.
func (s *sourceSet) next(key string, tried map[*source]bool) (*source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.byKey[key] {
		if !tried[src] {
			tried[src] = true
			return src, true
		}
	}
	return nil, false
}

// lookup treats any cache failure as a miss.
func (p *Pipeline) lookup(ctx context.Context, logger *slog.Logger, key string) (domain.Transcript, bool) {
	cached, ok, err := p.cache.Lookup(ctx, key)
	switch {
	case err != nil && errors.Is(err, domain.ErrCacheCorruption):
		logger.Error("corrupt cache entry evicted; recomputing", "error", err)
		return domain.Transcript{}, false
	case err != nil:
		logger.Warn("cache lookup failed; recomputing", "error", err)
		return domain.Transcript{}, false
	case !ok:
		return domain.Transcript{}, false
	}
	cached.ID = key
	return cached, true
}

func (p *Pipeline) fail(sink progress.Sink, jobID string, err error) (domain.Transcript, error) {
	sink.Emit(domain.FailedEvent(jobID, domain.Reason(err)))
	return domain.Transcript{}, err
}

// validate rejects unsupported or oversize input before any work starts.
func (p *Pipeline) validate(blob domain.AudioBlob, opts domain.Options) (domain.Options, error) {
	opts, err := NormalizeOptions(opts)
	if err != nil {
		return opts, err
	}

	if ext := blob.Extension(); !lo.Contains(domain.SupportedExtensions, ext) {
		return opts, domain.NewError(domain.ErrValidation, domain.StageValidation,
			fmt.Sprintf("unsupported file type %q; allowed: %s", ext, strings.Join(domain.SupportedExtensions, ", ")), nil)
	}

	size, err := blob.Size()
	if err != nil {
		return opts, domain.NewError(domain.ErrValidation, domain.StageValidation, "file not found or unreadable",
			fmt.Errorf("%w: %v", domain.ErrFileUnreadable, err))
	}
	if size == 0 {
		return opts, domain.NewError(domain.ErrValidation, domain.StageValidation, "file is empty", nil)
	}
	if size > p.maxBytes {
		return opts, domain.NewError(domain.ErrValidation, domain.StageValidation,
			fmt.Sprintf("file is too large: %d bytes exceeds the %d byte limit", size, p.maxBytes), nil)
	}
	return opts, nil
}

// NormalizeOptions fills defaults and rejects unknown task or format values.
func NormalizeOptions(opts domain.Options) (domain.Options, error) {
	opts.Language = strings.ToLower(strings.TrimSpace(opts.Language))
	if opts.Language == "auto" {
		opts.Language = ""
	}

	opts.Task = domain.Task(strings.ToLower(strings.TrimSpace(string(opts.Task))))
	if opts.Task == "" {
		opts.Task = domain.TaskTranscribe
	}
	if !opts.Task.Valid() {
		return opts, domain.NewError(domain.ErrValidation, domain.StageValidation,
			fmt.Sprintf("unsupported task %q", opts.Task), nil)
	}

	formats := lo.Map(opts.OutputFormats, func(f domain.Format, _ int) domain.Format {
		return domain.Format(strings.ToLower(strings.TrimSpace(string(f))))
	})
	formats = lo.Uniq(lo.Compact(formats))
	if unknown := lo.Without(formats, domain.AllFormats...); len(unknown) > 0 {
		return opts, domain.NewError(domain.ErrValidation, domain.StageValidation,
			fmt.Sprintf("unsupported output format %q", unknown[0]), nil)
	}
	if len(formats) == 0 {
		formats = []domain.Format{domain.FormatTXT}
	}
	opts.OutputFormats = formats
	return opts, nil
}
