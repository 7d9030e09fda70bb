package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the transcription pipeline.
var (
	ErrValidation      = errors.New("validation failed")
	ErrFileUnreadable  = errors.New("file not found or unreadable")
	ErrStaging         = errors.New("staging failed")
	ErrInference       = errors.New("inference failed")
	ErrCache           = errors.New("cache failure")
	ErrCacheCorruption = errors.New("cache corruption")
	ErrCancelled       = errors.New("cancelled")
)

// Pipeline stages used in PipelineError.
const (
	StageValidation = "validation"
	StageStaging    = "staging"
	StageInference  = "inference"
	StageCache      = "cache"
	StageWaiting    = "waiting"
)

// PipelineError is a stage-aware error tagged with one of the kinds above.
type PipelineError struct {
	Kind    error  `json:"-"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// NewError builds a PipelineError.
func NewError(kind error, stage, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Message: message, Err: err}
}

// Error formats pipeline failures for logs and API responses.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

// Unwrap exposes the kind and the cause for errors.Is / errors.As.
func (e *PipelineError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Reason returns the human-readable failure reason without the stage prefix.
func Reason(err error) string {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		if pErr.Err != nil {
			return fmt.Sprintf("%s: %v", pErr.Message, pErr.Err)
		}
		return pErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
