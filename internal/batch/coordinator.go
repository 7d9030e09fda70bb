// Package batch fans transcription requests out to the pipeline.
package batch

import (
	"context"
	"sync"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/progress"
)

// Submitter runs one transcription.
type Submitter interface {
	Submit(ctx context.Context, blob domain.AudioBlob, opts domain.Options, sink progress.Sink) (domain.Transcript, error)
}

// Item is one batch entry.
type Item struct {
	ID      string
	Blob    domain.AudioBlob
	Options domain.Options
}

// Success pairs a finished transcript with its item id.
type Success struct {
	ID         string            `json:"id"`
	Transcript domain.Transcript `json:"transcript"`
}

// Failure identifies a failed item and why.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"error"`
	err    error
}

// Err returns the underlying error.
func (f Failure) Err() error {
	return f.err
}

// Result holds every item exactly once, in completion order.
type Result struct {
	Succeeded []Success `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Coordinator runs batches with bounded fan-out.
type Coordinator struct {
	pipeline    Submitter
	parallelism int
	logger      *slog.Logger
}

// NewCoordinator limits each batch to parallelism concurrent submissions.
func NewCoordinator(pipeline Submitter, parallelism int, logger *slog.Logger) *Coordinator {
	if parallelism < 1 {
		parallelism = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{pipeline: pipeline, parallelism: parallelism, logger: logger}
}

// RunBatch submits every item; a failing item never aborts its siblings.
func (c *Coordinator) RunBatch(ctx context.Context, items []Item) Result {
	var (
		mu     sync.Mutex
		result = Result{Succeeded: []Success{}, Failed: []Failure{}}
	)

	g := new(errgroup.Group)
	g.SetLimit(c.parallelism)
	for _, item := range items {
		g.Go(func() error {
			transcript, err := c.pipeline.Submit(ctx, item.Blob, item.Options, progress.Discard)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("batch item failed", "item", item.ID, "error", err)
				result.Failed = append(result.Failed, Failure{ID: item.ID, Reason: domain.Reason(err), err: err})
				return nil
			}
			result.Succeeded = append(result.Succeeded, Success{ID: item.ID, Transcript: transcript})
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("batch finished", "items", len(items), "succeeded", len(result.Succeeded), "failed", len(result.Failed))
	return result
}
