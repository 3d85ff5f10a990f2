package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. History lasts for the
// life of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // key: run:uuid
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func key(runID, uuid string) string { return runID + ":" + uuid }

func (s *MemoryStore) SaveResult(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(rec.RunID, rec.UUID)
	if _, ok := s.records[k]; !ok {
		s.order = append(s.order, k)
	}
	cp := rec
	s.records[k] = &cp
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, uuid string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Record
	for _, k := range s.order {
		rec := s.records[k]
		if rec.UUID != uuid {
			continue
		}
		if latest == nil || !rec.CreatedAt.Before(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) ListResults(_ context.Context, runID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, k := range s.order {
		if rec := s.records[k]; rec.RunID == runID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) ExpiredResults(_ context.Context, cutoff time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, k := range s.order {
		if rec := s.records[k]; rec.CreatedAt.Before(cutoff) {
			out = append(out, *rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) PurgeResults(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	n := 0
	for _, k := range s.order {
		if s.records[k].CreatedAt.Before(cutoff) {
			delete(s.records, k)
			n++
			continue
		}
		kept = append(kept, k)
	}
	s.order = kept
	return n, nil
}

func (s *MemoryStore) Kind() string                  { return "memory" }
func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }
