// Package render turns transcripts into TXT, SRT, VTT and JSON documents.
package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"audio-transcriber/internal/domain"
)

// FormatTimestamp renders seconds as HH:MM:SS,mmm, truncating below one millisecond.
func FormatTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ',')
}

func formatTimestamp(seconds float64, sep byte) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	// The epsilon absorbs float noise so 3661.234 does not truncate to ,233.
	millis := int64(math.Floor(seconds*1000 + 1e-6))

	hours := millis / 3_600_000
	minutes := millis / 60_000 % 60
	secs := millis / 1000 % 60
	ms := millis % 1000

	var b strings.Builder
	b.Grow(12)
	pad2(&b, hours)
	b.WriteByte(':')
	pad2(&b, minutes)
	b.WriteByte(':')
	pad2(&b, secs)
	b.WriteByte(sep)
	if ms < 100 {
		b.WriteByte('0')
	}
	if ms < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(ms, 10))
	return b.String()
}

func pad2(b *strings.Builder, v int64) {
	if v < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(v, 10))
}

// TXT returns the full transcript text with trailing whitespace trimmed.
func TXT(t domain.Transcript) []byte {
	return []byte(strings.TrimRight(t.Text, " \t\r\n\v\f"))
}

// SRT renders 1-indexed subtitle blocks in segment order.
func SRT(t domain.Transcript) []byte {
	var b strings.Builder
	for i, seg := range t.Segments {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('\n')
		writeCue(&b, seg, ',')
	}
	return []byte(b.String())
}

// VTT renders a WebVTT document; timestamps use a period before milliseconds.
func VTT(t domain.Transcript) []byte {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, seg := range t.Segments {
		writeCue(&b, seg, '.')
	}
	return []byte(b.String())
}

func writeCue(b *strings.Builder, seg domain.Segment, sep byte) {
	b.WriteString(formatTimestamp(seg.Start, sep))
	b.WriteString(" --> ")
	b.WriteString(formatTimestamp(seg.End, sep))
	b.WriteByte('\n')
	b.WriteString(strings.TrimSpace(seg.Text))
	b.WriteString("\n\n")
}

// JSON serializes the whole transcript.
func JSON(t domain.Transcript) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Render dispatches to the renderer for format.
func Render(format domain.Format, t domain.Transcript) ([]byte, error) {
	switch format {
	case domain.FormatTXT:
		return TXT(t), nil
	case domain.FormatSRT:
		return SRT(t), nil
	case domain.FormatVTT:
		return VTT(t), nil
	case domain.FormatJSON:
		return JSON(t)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}
