// Package progress delivers job progress events to observers.
package progress

import "audio-transcriber/internal/domain"

// Sink receives progress events. Emit must not block the caller for long.
type Sink interface {
	Emit(event domain.ProgressEvent)
}

// Func adapts a function to Sink.
type Func func(event domain.ProgressEvent)

// Emit calls f.
func (f Func) Emit(event domain.ProgressEvent) {
	f(event)
}

type discard struct{}

func (discard) Emit(domain.ProgressEvent) {}

// Discard drops every event; used for fire-and-forget and batch jobs.
var Discard Sink = discard{}

// Tee forwards each event to every non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return Func(func(event domain.ProgressEvent) {
		for _, s := range out {
			s.Emit(event)
		}
	})
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
