package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"audio-transcriber/internal/domain"
)

// ErrJobExists is returned when registering an id that is already tracked.
var ErrJobExists = errors.New("job already exists")

// ErrUnknownJob is returned for ids the manager does not track.
var ErrUnknownJob = errors.New("unknown job")

// Manager tracks every job's lifecycle and keeps a bounded history of finished ones.
type Manager struct {
	mu       sync.RWMutex
	jobs     map[string]domain.Job
	finished []string
	keep     int
	now      func() time.Time
}

// NewManager creates a registry that remembers up to keep finished jobs.
func NewManager(keep int) *Manager {
	if keep <= 0 {
		keep = 256
	}
	return &Manager{
		jobs: make(map[string]domain.Job),
		keep: keep,
		now:  time.Now,
	}
}

// Start registers a new job in queued state.
func (m *Manager) Start(jobID, key, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; ok {
		return ErrJobExists
	}
	m.jobs[jobID] = domain.Job{
		ID:        jobID,
		Key:       key,
		Filename:  filename,
		Status:    domain.JobStatusQueued,
		UpdatedAt: m.now(),
	}
	return nil
}

// Transition validates and applies a state transition for one job.
func (m *Manager) Transition(jobID string, status domain.JobStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrUnknownJob
	}
	if status == job.Status {
		return nil
	}
	if !isValidTransition(job.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, status)
	}

	job.Status = status
	job.Message = message
	job.UpdatedAt = m.now()
	m.jobs[jobID] = job
	if isFinished(status) {
		m.finished = append(m.finished, jobID)
		m.prune()
	}
	return nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID string) (domain.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// Active counts jobs that are queued or processing.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs) - len(m.finished)
}

// prune drops the oldest finished jobs beyond the history limit. Caller holds mu.
func (m *Manager) prune() {
	for len(m.finished) > m.keep {
		delete(m.jobs, m.finished[0])
		m.finished = m.finished[1:]
	}
}

// isFinished checks if a status is terminal.
func isFinished(status domain.JobStatus) bool {
	return status == domain.JobStatusCompleted || status == domain.JobStatusFailed
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusQueued:
		return to == domain.JobStatusProcessing || to == domain.JobStatusFailed
	case domain.JobStatusProcessing:
		return to == domain.JobStatusCompleted || to == domain.JobStatusFailed
	default:
		return false
	}
}
