package progress

import (
	"sync"

	"golang.org/x/exp/slog"

	"audio-transcriber/internal/domain"
)

// Transport writes one event to a single remote observer.
type Transport interface {
	Send(event domain.ProgressEvent) error
}

// Live pushes events to one observer from its own goroutine. Emit never
// blocks: when the buffer is full the oldest pending event is dropped, and
// after the first transport error all further events are discarded.
type Live struct {
	transport Transport
	capacity  int
	logger    *slog.Logger

	mu      sync.Mutex
	queue   []domain.ProgressEvent
	closed  bool
	failed  bool
	dropped int
	err     error

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLive starts a live sink with a pending buffer of capacity events.
func NewLive(transport Transport, capacity int, logger *slog.Logger) *Live {
	if capacity <= 0 {
		capacity = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Live{
		transport: transport,
		capacity:  capacity,
		logger:    logger,
		queue:     make([]domain.ProgressEvent, 0, capacity),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go l.drain()
	return l
}

// Emit enqueues event for delivery.
func (l *Live) Emit(event domain.ProgressEvent) {
	l.mu.Lock()
	if l.closed || l.failed {
		l.mu.Unlock()
		return
	}
	if len(l.queue) >= l.capacity {
		l.queue = l.queue[1:]
		l.dropped++
	}
	l.queue = append(l.queue, event)
	l.mu.Unlock()
	l.signal()
}

// Close stops accepting events and waits for pending ones to be flushed.
func (l *Live) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.signal()
	})
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Dropped reports how many events were discarded by the overflow policy.
func (l *Live) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Disconnected reports whether the transport has failed.
func (l *Live) Disconnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

func (l *Live) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Live) drain() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			event := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			if err := l.transport.Send(event); err != nil {
				l.mu.Lock()
				l.failed = true
				l.err = err
				l.queue = nil
				l.mu.Unlock()
				l.logger.Info("progress observer disconnected", "job_id", event.JobID, "error", err)
			}
		}
	}
}
