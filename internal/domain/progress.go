package domain

import "time"

// EventStatus is the wire tag of a ProgressEvent.
type EventStatus string

const (
	EventQueued     EventStatus = "queued"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventError      EventStatus = "error"
)

// ProgressEvent is one discrete update about a job.
type ProgressEvent struct {
	Seq       int64       `json:"seq,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	JobID     string      `json:"job_id,omitempty"`
	Status    EventStatus `json:"status"`
	Progress  int         `json:"progress,omitempty"`
	Message   string      `json:"message,omitempty"`
	Result    *Transcript `json:"result,omitempty"`
}

// Terminal reports whether no further events follow for the job.
func (e ProgressEvent) Terminal() bool {
	return e.Status == EventCompleted || e.Status == EventError
}

// QueuedEvent marks admission into the worker pool queue.
func QueuedEvent(jobID string) ProgressEvent {
	return ProgressEvent{JobID: jobID, Status: EventQueued, Message: "Queued"}
}

// ProcessingEvent reports intermediate progress; percent is clamped to 0..100.
func ProcessingEvent(jobID string, percent int, message string) ProgressEvent {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return ProgressEvent{JobID: jobID, Status: EventProcessing, Progress: percent, Message: message}
}

// CompletedEvent carries the finished transcript.
func CompletedEvent(jobID string, t Transcript) ProgressEvent {
	result := t.Clone()
	return ProgressEvent{JobID: jobID, Status: EventCompleted, Progress: 100, Result: &result}
}

// FailedEvent carries a human-readable failure reason.
func FailedEvent(jobID, message string) ProgressEvent {
	return ProgressEvent{JobID: jobID, Status: EventError, Message: message}
}
