// Package jobs runs inference jobs on a bounded worker pool and tracks their lifecycle.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/engine"
	"audio-transcriber/internal/progress"
)

// Progress checkpoints reported while a job runs.
const (
	PercentStarted    = 10
	PercentFinalizing = 90
	engineSpan        = PercentFinalizing - PercentStarted
)

// Job is one unit of inference work over a staged file.
type Job struct {
	ID        string
	Key       string
	Filename  string
	AudioPath string
	Options   domain.Options
	Sink      progress.Sink
}

// Handle is the pending outcome of a submitted job.
type Handle struct {
	JobID      string
	done       chan struct{}
	transcript domain.Transcript
	err        error
}

// Done is closed once the job has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes or ctx ends. A ctx ending does not stop the job.
func (h *Handle) Wait(ctx context.Context) (domain.Transcript, error) {
	select {
	case <-h.done:
		if h.err != nil {
			return domain.Transcript{}, h.err
		}
		return h.transcript.Clone(), nil
	case <-ctx.Done():
		return domain.Transcript{}, domain.NewError(domain.ErrCancelled, domain.StageWaiting, "caller stopped waiting", ctx.Err())
	}
}

// Executor admits jobs in FIFO order onto a fixed number of inference slots.
type Executor struct {
	engine   engine.Engine
	slots    *semaphore.Weighted
	capacity int64
	manager  *Manager
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time

	running   atomic.Int64
	queued    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewExecutor builds a pool with workers slots; values below one become one.
func NewExecutor(eng engine.Engine, workers int, manager *Manager, logger *slog.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	if manager == nil {
		manager = NewManager(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine:   eng,
		slots:    semaphore.NewWeighted(int64(workers)),
		capacity: int64(workers),
		manager:  manager,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Manager returns the job registry the executor records transitions in.
func (e *Executor) Manager() *Manager {
	return e.manager
}

// Submit enqueues job and returns immediately. ctx bounds slot admission and inference.
func (e *Executor) Submit(ctx context.Context, job Job) *Handle {
	if job.ID == "" {
		job.ID = e.newID()
	}
	job.Sink = progress.OrDiscard(job.Sink)
	h := &Handle{JobID: job.ID, done: make(chan struct{})}

	if err := e.manager.Start(job.ID, job.Key, job.Filename); err != nil {
		e.logger.Warn("register job", "job_id", job.ID, "error", err)
	}
	e.queued.Add(1)
	job.Sink.Emit(domain.QueuedEvent(job.ID))

	go func() {
		defer close(h.done)
		h.transcript, h.err = e.run(ctx, job)
		if h.err != nil {
			e.failed.Add(1)
			e.transition(job.ID, domain.JobStatusFailed, domain.Reason(h.err))
			return
		}
		e.completed.Add(1)
		e.transition(job.ID, domain.JobStatusCompleted, "")
	}()
	return h
}

func (e *Executor) run(ctx context.Context, job Job) (domain.Transcript, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		e.queued.Add(-1)
		return domain.Transcript{}, domain.NewError(domain.ErrCancelled, domain.StageInference, "job abandoned while queued", err)
	}
	e.queued.Add(-1)
	e.running.Add(1)
	defer func() {
		e.running.Add(-1)
		e.slots.Release(1)
	}()

	e.transition(job.ID, domain.JobStatusProcessing, "")
	job.Sink.Emit(domain.ProcessingEvent(job.ID, PercentStarted, "Transcribing audio"))
	e.logger.Info("inference started", "job_id", job.ID, "file", job.Filename, "task", job.Options.Task)

	started := e.now()
	var last atomic.Int64
	last.Store(PercentStarted)
	raw, err := e.engine.Infer(ctx, engine.Request{
		AudioPath: job.AudioPath,
		Language:  job.Options.Language,
		Task:      job.Options.Task,
		OnProgress: func(fraction float64) {
			percent := int64(PercentStarted + int(fraction*engineSpan))
			for {
				prev := last.Load()
				if percent <= prev {
					return
				}
				if last.CompareAndSwap(prev, percent) {
					break
				}
			}
			job.Sink.Emit(domain.ProcessingEvent(job.ID, int(percent), "Transcribing audio"))
		},
	})
	if err != nil {
		e.logger.Error("inference failed", "job_id", job.ID, "file", job.Filename, "error", err)
		return domain.Transcript{}, domain.NewError(domain.ErrInference, domain.StageInference, "inference failed", err)
	}

	job.Sink.Emit(domain.ProcessingEvent(job.ID, PercentFinalizing, "Finalizing"))
	transcript := Normalize(raw, e.newID(), job.Filename, e.now())
	e.logger.Info("inference finished",
		"job_id", job.ID,
		"file", job.Filename,
		"language", transcript.Language,
		"segments", len(transcript.Segments),
		"elapsed", e.now().Sub(started),
	)
	return transcript, nil
}

func (e *Executor) transition(jobID string, status domain.JobStatus, message string) {
	if err := e.manager.Transition(jobID, status, message); err != nil {
		e.logger.Warn("job transition", "job_id", jobID, "status", status, "error", err)
	}
}

// Stats reports current pool occupancy and lifetime outcome counters.
func (e *Executor) Stats() domain.PoolStats {
	return domain.PoolStats{
		Capacity:  int(e.capacity),
		Running:   int(e.running.Load()),
		Queued:    int(e.queued.Load()),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
	}
}
