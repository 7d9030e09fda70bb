package batch

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/exp/slog"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/progress"
)

// fakeSubmitter fails for blobs whose content cannot be read.
type fakeSubmitter struct {
	running atomic.Int64
	peak    atomic.Int64
	submit  func(blob domain.AudioBlob) (domain.Transcript, error)
}

// Submit delegates to injected behavior while tracking concurrency.
func (f *fakeSubmitter) Submit(ctx context.Context, blob domain.AudioBlob, opts domain.Options, sink progress.Sink) (domain.Transcript, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return f.submit(blob)
}

func readBlob(blob domain.AudioBlob) (domain.Transcript, error) {
	rc, err := blob.Open()
	if err != nil {
		return domain.Transcript{}, domain.NewError(domain.ErrValidation, domain.StageValidation, "file not found or unreadable", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.Transcript{}, err
	}
	return domain.Transcript{Text: string(data), SourceFilename: blob.Filename}, nil
}

// TestRunBatchIsolatesFailures checks item 2 fails alone.
func TestRunBatchIsolatesFailures(t *testing.T) {
	sub := &fakeSubmitter{submit: readBlob}
	c := NewCoordinator(sub, 3, slog.New(slog.NewTextHandler(io.Discard, nil)))

	items := []Item{
		{ID: "1", Blob: domain.BlobFromBytes("one.wav", []byte("first"))},
		{ID: "2", Blob: domain.BlobFromFile("", filepath.Join(t.TempDir(), "missing.wav"))},
		{ID: "3", Blob: domain.BlobFromBytes("three.wav", []byte("third"))},
	}
	result := c.RunBatch(context.Background(), items)

	if len(result.Succeeded) != 2 || len(result.Failed) != 1 {
		t.Fatalf("result = %+v, want 2 succeeded, 1 failed", result)
	}
	if result.Failed[0].ID != "2" || result.Failed[0].Reason == "" {
		t.Fatalf("failed = %+v, want item 2 with reason", result.Failed[0])
	}
	if !errors.Is(result.Failed[0].Err(), domain.ErrValidation) {
		t.Fatalf("failure err = %v", result.Failed[0].Err())
	}
	texts := map[string]string{}
	for _, s := range result.Succeeded {
		texts[s.ID] = s.Transcript.Text
	}
	if texts["1"] != "first" || texts["3"] != "third" {
		t.Fatalf("succeeded = %v", texts)
	}
}

// TestRunBatchBoundsParallelism checks every item appears once under the limit.
func TestRunBatchBoundsParallelism(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	sub := &fakeSubmitter{submit: func(blob domain.AudioBlob) (domain.Transcript, error) {
		mu.Lock()
		seen[blob.Filename]++
		mu.Unlock()
		return domain.Transcript{SourceFilename: blob.Filename}, nil
	}}
	c := NewCoordinator(sub, 2, nil)

	items := make([]Item, 0, 10)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		items = append(items, Item{ID: name, Blob: domain.BlobFromBytes(name+".wav", []byte(name))})
	}
	result := c.RunBatch(context.Background(), items)

	if len(result.Succeeded) != len(items) || len(result.Failed) != 0 {
		t.Fatalf("result sizes = %d/%d", len(result.Succeeded), len(result.Failed))
	}
	for name, n := range seen {
		if n != 1 {
			t.Fatalf("item %s submitted %d times", name, n)
		}
	}
	if sub.peak.Load() > 2 {
		t.Fatalf("peak = %d, want <= 2", sub.peak.Load())
	}
}
