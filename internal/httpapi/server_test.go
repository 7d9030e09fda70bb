package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/exp/slog"

	"audio-transcriber/internal/batch"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/engine"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/progress"
	"audio-transcriber/internal/records"
	"audio-transcriber/internal/render"
)

// fakeTranscriber echoes the uploaded bytes as the transcript text.
// Content "fail" is rejected as invalid audio.
type fakeTranscriber struct {
	maxBytes int64
}

func (f *fakeTranscriber) MaxUploadBytes() int64 {
	return f.maxBytes
}

func (f *fakeTranscriber) Submit(ctx context.Context, blob domain.AudioBlob, opts domain.Options, sink progress.Sink) (domain.Transcript, error) {
	sink = progress.OrDiscard(sink)
	rc, err := blob.Open()
	if err != nil {
		pErr := domain.NewError(domain.ErrValidation, domain.StageValidation, "file not found or unreadable", err)
		sink.Emit(domain.FailedEvent("", domain.Reason(pErr)))
		return domain.Transcript{}, pErr
	}
	data, _ := io.ReadAll(rc)
	rc.Close()

	text := strings.TrimSpace(string(data))
	if text == "fail" {
		pErr := domain.NewError(domain.ErrValidation, domain.StageValidation, "audio rejected", nil)
		sink.Emit(domain.FailedEvent("", domain.Reason(pErr)))
		return domain.Transcript{}, pErr
	}
	id := "job-" + text
	sink.Emit(domain.ProcessingEvent(id, 50, "Transcribing"))
	t := domain.Transcript{
		ID:              id,
		Text:            text,
		Language:        "en",
		Segments:        []domain.Segment{{Index: 0, Start: 0, End: 1, Text: text}},
		SourceFilename:  blob.Filename,
		DurationSeconds: 1,
	}
	sink.Emit(domain.CompletedEvent(id, t))
	return t, nil
}

type testEnv struct {
	server   *Server
	deps     Deps
	records  *records.MemoryStore
	uploads  string
	exported string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	uploadDir := filepath.Join(root, "uploads")
	exportDir := filepath.Join(root, "transcripts")

	uploads, err := NewUploadStore(uploadDir)
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}
	exporter, err := render.NewExporter(exportDir)
	if err != nil {
		t.Fatalf("exporter: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := &fakeTranscriber{maxBytes: 1 << 20}
	store := records.NewMemoryStore()
	deps := Deps{
		Pipeline: pipeline,
		Batch:    batch.NewCoordinator(pipeline, 2, logger),
		Uploads:  uploads,
		Exporter: exporter,
		Records:  store,
		Jobs:     jobs.NewManager(8),
		Events:   progress.NewEventBus(16),
		Models: func() []domain.WhisperModelOption {
			return []domain.WhisperModelOption{{ID: "base", Name: "Base"}}
		},
		Info:   Info{Name: "Audio Transcriber API", Version: "2.0.0", Engine: "whisper-cli", Model: "ggml-base.bin"},
		Logger: logger,
	}
	return &testEnv{
		server:   NewServer(deps),
		deps:     deps,
		records:  store,
		uploads:  uploadDir,
		exported: exportDir,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// TestTranscribeExportsAndRecords covers the synchronous upload path end to end.
func TestTranscribeExportsAndRecords(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, multipartRequest(t, "/transcribe", "meeting.wav", "hello world", map[string]string{
		"output_formats": "txt, srt",
		"language":       "EN",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}

	var resp struct {
		ID          string            `json:"id"`
		Text        string            `json:"text"`
		Filename    string            `json:"filename"`
		OutputFiles map[string]string `json:"output_files"`
		RecordID    int64             `json:"db_id"`
	}
	decode(t, rec, &resp)
	if resp.Text != "hello world" || resp.Filename != "meeting.wav" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.OutputFiles) != 2 || resp.OutputFiles["srt"] != filepath.Join(env.exported, "meeting.srt") {
		t.Fatalf("output files = %v", resp.OutputFiles)
	}
	if resp.RecordID != 1 {
		t.Fatalf("db_id = %d, want 1", resp.RecordID)
	}

	list, _ := env.records.List(context.Background(), 0)
	if len(list) != 1 || list[0].FilePath != filepath.Join(env.exported, "meeting.txt") {
		t.Fatalf("records = %+v", list)
	}
	entries, _ := os.ReadDir(env.uploads)
	if len(entries) != 0 {
		t.Fatalf("temporary upload left behind: %d entries", len(entries))
	}
}

// TestTranscribeRejections maps failures onto 400 with a detail message.
func TestTranscribeRejections(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		detail   string
	}{
		{name: "extension", filename: "notes.txt", content: "x", detail: "unsupported format"},
		{name: "task", filename: "a.wav", content: "x", fields: map[string]string{"task": "summarize"}, detail: "unsupported task"},
		{name: "format", filename: "a.wav", content: "x", fields: map[string]string{"output_formats": "pdf"}, detail: "unsupported output format"},
		{name: "pipeline", filename: "a.wav", content: "fail", detail: "audio rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, multipartRequest(t, "/transcribe", tt.filename, tt.content, tt.fields))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
			var body struct {
				Detail string `json:"detail"`
			}
			decode(t, rec, &body)
			if !strings.Contains(body.Detail, tt.detail) {
				t.Fatalf("detail = %q, want %q", body.Detail, tt.detail)
			}
		})
	}
}

// TestTranscribeRequiresFile rejects requests without a file part.
func TestTranscribeRequiresFile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/transcribe", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// TestUploadThenBatch runs stored uploads as a batch with one unknown id.
func TestUploadThenBatch(t *testing.T) {
	env := newTestEnv(t)
	var ids []string
	for _, content := range []string{"one", "fail", "three"} {
		rec := env.do(t, multipartRequest(t, "/uploads", content+".mp3", content, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
		}
		var up Upload
		decode(t, rec, &up)
		if !strings.HasSuffix(up.FileID, ".mp3") || up.Size != int64(len(content)) {
			t.Fatalf("upload = %+v", up)
		}
		ids = append(ids, up.FileID)
	}

	payload, _ := json.Marshal(map[string]any{"files": append(ids, "missing.wav")})
	req := httptest.NewRequest(http.MethodPost, "/batch/transcribe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []struct {
			FileID string `json:"file_id"`
			Text   string `json:"text"`
		} `json:"results"`
		Errors []struct {
			FileID string `json:"file_id"`
			Error  string `json:"error"`
		} `json:"errors"`
		TotalProcessed int `json:"total_processed"`
		TotalErrors    int `json:"total_errors"`
	}
	decode(t, rec, &resp)
	if resp.TotalProcessed != 2 || resp.TotalErrors != 2 {
		t.Fatalf("totals = %d/%d, want 2/2", resp.TotalProcessed, resp.TotalErrors)
	}
	failed := map[string]string{}
	for _, e := range resp.Errors {
		failed[e.FileID] = e.Error
	}
	if !strings.Contains(failed[ids[1]], "audio rejected") {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if _, ok := failed["missing.wav"]; !ok {
		t.Fatalf("missing file not reported: %+v", resp.Errors)
	}
}

// TestBatchRejectsEmptyRequest requires at least one file id.
func TestBatchRejectsEmptyRequest(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/batch/transcribe", strings.NewReader(`{"files":[]}`))
	req.Header.Set("Content-Type", "application/json")
	if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// TestTranscriptFiles lists records and serves exported files by name.
func TestTranscriptFiles(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, multipartRequest(t, "/transcribe", "call.ogg", "hi", nil)); rec.Code != http.StatusOK {
		t.Fatalf("transcribe status = %d", rec.Code)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/transcripts/call.txt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var file render.File
	decode(t, rec, &file)
	if file.Filename != "call.txt" || strings.TrimSpace(file.Content) != "hi" || file.Size == 0 {
		t.Fatalf("file = %+v", file)
	}

	if rec := env.do(t, httptest.NewRequest(http.MethodGet, "/transcripts/nope.txt", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/transcripts?limit=5", nil))
	var list struct {
		Transcripts []records.Record `json:"transcripts"`
	}
	decode(t, rec, &list)
	if len(list.Transcripts) != 1 || list.Transcripts[0].Filename != "call.ogg" {
		t.Fatalf("list = %+v", list.Transcripts)
	}
	if rec := env.do(t, httptest.NewRequest(http.MethodGet, "/transcripts?limit=x", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", rec.Code)
	}
}

// TestJobEndpoints exposes job state and replayed events.
func TestJobEndpoints(t *testing.T) {
	env := newTestEnv(t)
	if err := env.deps.Jobs.Start("job-1", "key", "a.wav"); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.deps.Events.Emit(domain.QueuedEvent("job-1"))
	env.deps.Events.Emit(domain.QueuedEvent("job-2"))
	env.deps.Events.Emit(domain.ProcessingEvent("job-1", 10, "Transcribing"))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil))
	var job domain.Job
	decode(t, rec, &job)
	if rec.Code != http.StatusOK || job.Status != domain.JobStatusQueued {
		t.Fatalf("status = %d, job = %+v", rec.Code, job)
	}
	if rec := env.do(t, httptest.NewRequest(http.MethodGet, "/jobs/unknown", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/jobs/job-1/events?since=1", nil))
	var events struct {
		Events []domain.ProgressEvent `json:"events"`
	}
	decode(t, rec, &events)
	if len(events.Events) != 1 || events.Events[0].Progress != 10 {
		t.Fatalf("events = %+v", events.Events)
	}
}

// TestInfoModelsAndHealth checks the descriptive endpoints.
func TestInfoModelsAndHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api", nil))
	var info map[string]any
	decode(t, rec, &info)
	if info["version"] != "2.0.0" || info["max_file_size"] != float64(1<<20) {
		t.Fatalf("info = %v", info)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/models", nil))
	var models struct {
		Current   string                      `json:"current_model"`
		Available []domain.WhisperModelOption `json:"available_models"`
	}
	decode(t, rec, &models)
	if models.Current != "ggml-base.bin" || len(models.Available) != 1 {
		t.Fatalf("models = %+v", models)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health map[string]any
	decode(t, rec, &health)
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}

	env.deps.Health = func() domain.DiagnosticReport {
		return domain.DiagnosticReport{HasFailures: true, Pool: &domain.PoolStats{Capacity: 2}}
	}
	env.server = NewServer(env.deps)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	decode(t, rec, &health)
	if health["status"] != "degraded" || health["pool"] == nil {
		t.Fatalf("health = %v", health)
	}
}

// TestToHTTPError maps error kinds onto status codes.
func TestToHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewError(domain.ErrValidation, domain.StageValidation, "bad", nil), http.StatusBadRequest},
		{domain.NewError(domain.ErrCancelled, domain.StageWaiting, "gone", nil), http.StatusRequestTimeout},
		{domain.NewError(domain.ErrInference, domain.StageInference, "crash", nil), http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := toHTTPError(tt.err).Code; got != tt.want {
			t.Fatalf("toHTTPError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// fakeDownloader records the model path it was asked to fill.
type fakeDownloader struct {
	gotPath string
}

func (f *fakeDownloader) Download(ctx context.Context, modelID, modelPath string) (domain.WhisperModelOption, error) {
	f.gotPath = modelPath
	if modelID != "tiny" {
		return domain.WhisperModelOption{}, engine.ErrUnknownModel
	}
	return domain.WhisperModelOption{ID: "tiny", Available: true, LocalPath: filepath.Join(modelPath, "ggml-tiny.bin")}, nil
}

// TestDownloadModel maps downloader outcomes onto status codes.
func TestDownloadModel(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/models/tiny/download", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status without downloader = %d, want 501", rec.Code)
	}

	dl := &fakeDownloader{}
	env.deps.Download = dl
	env.server = NewServer(env.deps)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/models/tiny/download", nil))
	var model domain.WhisperModelOption
	decode(t, rec, &model)
	if rec.Code != http.StatusOK || !model.Available || dl.gotPath != "ggml-base.bin" {
		t.Fatalf("status = %d, model = %+v, path = %q", rec.Code, model, dl.gotPath)
	}
	if rec := env.do(t, httptest.NewRequest(http.MethodPost, "/models/huge/download", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown model status = %d, want 404", rec.Code)
	}
}
