package jobs

import (
	"strings"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/engine"
)

// UnknownLanguage is reported when the engine does not detect a language.
const UnknownLanguage = "unknown"

// Normalize converts raw engine output into a Transcript. Segment order is kept
// as reported; negative starts clamp to zero and ends never precede starts.
func Normalize(raw engine.Result, id, filename string, createdAt time.Time) domain.Transcript {
	segments := make([]domain.Segment, 0, len(raw.Segments))
	for i, seg := range raw.Segments {
		start := seg.Start
		if start < 0 {
			start = 0
		}
		end := seg.End
		if end < start {
			end = start
		}
		segments = append(segments, domain.Segment{
			Index: i,
			Start: start,
			End:   end,
			Text:  strings.TrimSpace(seg.Text),
		})
	}

	text := strings.TrimSpace(raw.Text)
	if text == "" && len(segments) > 0 {
		parts := make([]string, 0, len(segments))
		for _, seg := range segments {
			if seg.Text != "" {
				parts = append(parts, seg.Text)
			}
		}
		text = strings.Join(parts, " ")
	}

	language := strings.TrimSpace(raw.Language)
	if language == "" {
		language = UnknownLanguage
	}

	duration := 0.0
	switch {
	case raw.Duration != nil && *raw.Duration >= 0:
		duration = *raw.Duration
	case len(segments) > 0:
		duration = segments[len(segments)-1].End
	}

	return domain.Transcript{
		ID:              id,
		Text:            text,
		Language:        language,
		Segments:        segments,
		SourceFilename:  filename,
		DurationSeconds: duration,
		CreatedAt:       createdAt.UTC(),
	}
}
