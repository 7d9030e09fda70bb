package progress

import (
	"sync"
	"time"

	"audio-transcriber/internal/domain"
)

// EventBus stores recent events across all jobs and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []domain.ProgressEvent
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]domain.ProgressEvent, 0, maxEvents),
	}
}

// Emit records the event; it satisfies Sink.
func (b *EventBus) Emit(event domain.ProgressEvent) {
	b.Publish(event)
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event domain.ProgressEvent) domain.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]domain.ProgressEvent(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []domain.ProgressEvent {
	return b.filter(seq, "")
}

// JobSince returns one job's events with sequence strictly greater than seq.
func (b *EventBus) JobSince(jobID string, seq int64) []domain.ProgressEvent {
	return b.filter(seq, jobID)
}

func (b *EventBus) filter(seq int64, jobID string) []domain.ProgressEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]domain.ProgressEvent, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq <= seq {
			continue
		}
		if jobID != "" && event.JobID != jobID {
			continue
		}
		out = append(out, event)
	}
	return out
}
