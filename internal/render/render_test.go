package render

import (
	"encoding/json"
	"testing"

	"audio-transcriber/internal/domain"
)

// TestFormatTimestamp covers rollover, padding and truncation.
func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00,000"},
		{3661.234, "01:01:01,234"},
		{59.9999, "00:00:59,999"},
		{3600, "01:00:00,000"},
		{36000.5, "10:00:00,500"},
		{1.0004, "00:00:01,000"},
		{0.9999999, "00:00:00,999"},
		{59.9999996, "00:00:59,999"},
		{-3, "00:00:00,000"},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.in); got != tt.want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestTXTTrimsTrailingWhitespace ignores segments entirely.
func TestTXTTrimsTrailingWhitespace(t *testing.T) {
	tr := domain.Transcript{Text: "  hello world \n\t", Segments: []domain.Segment{{Text: "other"}}}
	if got := string(TXT(tr)); got != "  hello world" {
		t.Fatalf("TXT = %q, want %q", got, "  hello world")
	}
}

func twoSegments() domain.Transcript {
	return domain.Transcript{
		Text: "a b",
		Segments: []domain.Segment{
			{Index: 0, Start: 0, End: 1, Text: "a"},
			{Index: 1, Start: 1, End: 2, Text: "b"},
		},
	}
}

// TestSRTTwoBlocks checks the exact block sequence.
func TestSRTTwoBlocks(t *testing.T) {
	want := "1\n00:00:00,000 --> 00:00:01,000\na\n\n2\n00:00:01,000 --> 00:00:02,000\nb\n\n"
	if got := string(SRT(twoSegments())); got != want {
		t.Fatalf("SRT = %q, want %q", got, want)
	}
}

// TestVTTUsesPeriodSeparator checks the header and cue format.
func TestVTTUsesPeriodSeparator(t *testing.T) {
	want := "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\na\n\n00:00:01.000 --> 00:00:02.000\nb\n\n"
	if got := string(VTT(twoSegments())); got != want {
		t.Fatalf("VTT = %q, want %q", got, want)
	}
}

// TestSRTKeepsOutOfOrderSegments renders as given.
func TestSRTKeepsOutOfOrderSegments(t *testing.T) {
	tr := domain.Transcript{Segments: []domain.Segment{{Start: 5, End: 6, Text: "late"}, {Start: 1, End: 2, Text: "early"}}}
	want := "1\n00:00:05,000 --> 00:00:06,000\nlate\n\n2\n00:00:01,000 --> 00:00:02,000\nearly\n\n"
	if got := string(SRT(tr)); got != want {
		t.Fatalf("SRT = %q, want %q", got, want)
	}
}

// TestRenderJSONAndUnknownFormat checks dispatch.
func TestRenderJSONAndUnknownFormat(t *testing.T) {
	data, err := Render(domain.FormatJSON, twoSegments())
	if err != nil {
		t.Fatalf("Render(json) error = %v", err)
	}
	var decoded domain.Transcript
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.SameContent(twoSegments()) {
		t.Fatalf("decoded = %+v", decoded)
	}
	if _, err := Render("docx", twoSegments()); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
