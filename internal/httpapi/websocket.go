package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/logging"
	"audio-transcriber/internal/progress"
	"audio-transcriber/internal/transcribe"
)

const (
	wsHandshakeTimeout = 30 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsBufferedEvents   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsRequest is the first client message on /ws/transcribe.
type wsRequest struct {
	FileID        string          `json:"file_id"`
	Language      string          `json:"language"`
	Task          domain.Task     `json:"task"`
	OutputFormats []domain.Format `json:"output_formats"`
}

// wsTransport writes progress events as JSON text frames.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) Send(event domain.ProgressEvent) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(event)
}

// streamTranscription streams progress for one stored upload. The client sends
// {file_id, language, task} and receives events until a terminal one, after
// which the server closes the connection. A client that disconnects early
// cancels its wait; the shared job keeps running.
func (s *Server) streamTranscription(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return nil
	}
	defer conn.Close()

	logger := logging.FromContext(c.Request().Context(), s.log)
	live := progress.NewLive(wsTransport{conn: conn}, wsBufferedEvents, logger)
	finishWith := func(event domain.ProgressEvent) {
		live.Emit(event)
		if err := live.Close(); err != nil {
			logger.Info("websocket observer gone", "error", err)
			return
		}
		deadline := time.Now().Add(wsWriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}

	var req wsRequest
	_ = conn.SetReadDeadline(time.Now().Add(wsHandshakeTimeout))
	if err := conn.ReadJSON(&req); err != nil {
		finishWith(domain.FailedEvent("", "invalid request message"))
		return nil
	}
	_ = conn.SetReadDeadline(time.Time{})

	opts, err := transcribe.NormalizeOptions(domain.Options{
		Language:      req.Language,
		Task:          req.Task,
		OutputFormats: req.OutputFormats,
	})
	if err != nil {
		finishWith(domain.FailedEvent("", domain.Reason(err)))
		return nil
	}
	blob, err := s.deps.Uploads.Blob(req.FileID)
	if err != nil {
		finishWith(domain.FailedEvent("", err.Error()))
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	// The terminal event is held back until exports are written.
	var terminal domain.ProgressEvent
	sink := progress.Func(func(event domain.ProgressEvent) {
		if event.Terminal() {
			terminal = event
			return
		}
		live.Emit(event)
	})
	t, err := s.deps.Pipeline.Submit(ctx, blob, opts, sink)
	if err != nil {
		if terminal.Status == "" {
			terminal = domain.FailedEvent("", domain.Reason(err))
		}
		finishWith(terminal)
		return nil
	}
	if _, err := s.finish(ctx, t, blob.Filename, opts.OutputFormats); err != nil {
		logger.Warn("export websocket transcript", "file_id", req.FileID, "error", err)
	}
	if terminal.Status == "" {
		terminal = domain.CompletedEvent(t.ID, t)
	}
	finishWith(terminal)
	return nil
}
