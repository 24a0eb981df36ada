package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultRetention = 10 * time.Minute

// InMemoryStore keeps records in process for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   []Record
	retention time.Duration
	now       func() time.Time
}

func NewInMemoryStore(retention time.Duration) *InMemoryStore {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &InMemoryStore{retention: retention, now: time.Now}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, kind string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = len(s.records)
	}
	out := make([]Record, 0, min(limit, len(s.records)))
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if kind == "" || s.records[i].Kind == kind {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// StartJanitor drops expired records every interval until ctx is done.
func (s *InMemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expire()
			}
		}
	}()
}

func (s *InMemoryStore) expire() {
	cutoff := s.now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.EndedAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	clear(s.records[len(kept):])
	s.records = kept
}

func (s *InMemoryStore) Close() error { return nil }
