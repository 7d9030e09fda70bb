// Package engine adapts external speech-to-text engines to a single blocking call.
package engine

import (
	"context"
	"strings"

	"audio-transcriber/internal/domain"
)

// Request is one inference call over a staged audio file.
type Request struct {
	AudioPath string
	Language  string
	Task      domain.Task
	// OnProgress receives best-effort completion fractions in 0..1.
	OnProgress func(fraction float64)
}

// Segment is one timed span as reported by the engine.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the raw engine output before normalization.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	Duration *float64  `json:"duration,omitempty"`
}

// Engine runs one synchronous inference call.
type Engine interface {
	Infer(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Engine.
type Func func(ctx context.Context, req Request) (Result, error)

// Infer calls f.
func (f Func) Infer(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// NormalizeLanguage maps "auto" and empty language to no override.
func NormalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return strings.ToLower(lang)
}

func reportProgress(cb func(float64), fraction float64) {
	if cb == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	cb(fraction)
}
