// Package records persists saved-transcript metadata.
package records

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record is the listing metadata kept for one saved transcription.
type Record struct {
	ID           int64     `json:"id"`
	TranscriptID string    `json:"transcript_id"`
	Filename     string    `json:"filename"`
	Text         string    `json:"text"`
	Language     string    `json:"language"`
	Duration     float64   `json:"duration"`
	FilePath     string    `json:"file_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store saves and lists records.
type Store interface {
	Save(ctx context.Context, rec Record) (int64, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

// Save assigns an id and a creation time when missing.
func (s *MemoryStore) Save(ctx context.Context, rec Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	s.records = append(s.records, rec)
	return rec.ID, nil
}

// List returns the newest records first; limit <= 0 means all.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := append([]Record(nil), s.records...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
