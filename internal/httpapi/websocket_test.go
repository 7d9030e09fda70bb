package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"audio-transcriber/internal/domain"
)

func dialTranscribe(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvents(t *testing.T, conn *websocket.Conn) []domain.ProgressEvent {
	t.Helper()
	var events []domain.ProgressEvent
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var event domain.ProgressEvent
		if err := conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			return events
		}
		events = append(events, event)
	}
}

// TestStreamTranscriptionDeliversProgressAndResult streams a stored upload.
func TestStreamTranscriptionDeliversProgressAndResult(t *testing.T) {
	env := newTestEnv(t)
	up, err := env.deps.Uploads.Save("talk.flac", strings.NewReader("streamed"), 0)
	if err != nil {
		t.Fatalf("save upload: %v", err)
	}

	conn := dialTranscribe(t, env)
	if err := conn.WriteJSON(map[string]any{"file_id": up.FileID, "language": "auto", "output_formats": []string{"vtt"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := readEvents(t, conn)
	if len(events) != 2 {
		t.Fatalf("events = %+v, want processing then completed", events)
	}
	if events[0].Status != domain.EventProcessing || events[0].Progress != 50 {
		t.Fatalf("first event = %+v", events[0])
	}
	last := events[1]
	if last.Status != domain.EventCompleted || last.Result == nil || last.Result.Text != "streamed" {
		t.Fatalf("last event = %+v", last)
	}

	base := strings.TrimSuffix(up.FileID, ".flac")
	if _, err := env.deps.Exporter.Read(base + ".vtt"); err != nil {
		t.Fatalf("vtt export missing before completion: %v", err)
	}
}

// TestStreamTranscriptionUnknownFile reports a single error event.
func TestStreamTranscriptionUnknownFile(t *testing.T) {
	env := newTestEnv(t)
	conn := dialTranscribe(t, env)
	if err := conn.WriteJSON(map[string]any{"file_id": "../etc/passwd"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := readEvents(t, conn)
	if len(events) != 1 || events[0].Status != domain.EventError {
		t.Fatalf("events = %+v, want one error", events)
	}
	if !strings.Contains(events[0].Message, ErrUnknownUpload.Error()) {
		t.Fatalf("message = %q", events[0].Message)
	}
}

// TestStreamTranscriptionPipelineFailure forwards the failure reason.
func TestStreamTranscriptionPipelineFailure(t *testing.T) {
	env := newTestEnv(t)
	up, err := env.deps.Uploads.Save("bad.wav", strings.NewReader("fail"), 0)
	if err != nil {
		t.Fatalf("save upload: %v", err)
	}
	conn := dialTranscribe(t, env)
	if err := conn.WriteJSON(map[string]any{"file_id": up.FileID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := readEvents(t, conn)
	if len(events) != 1 || events[0].Status != domain.EventError || events[0].Message != "audio rejected" {
		t.Fatalf("events = %+v", events)
	}
}
