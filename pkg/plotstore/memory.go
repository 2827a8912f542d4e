package plotstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore is a size-limited Store. The oldest records are evicted once
// maxRecords is reached.
type InMemoryStore struct {
	mu         sync.Mutex
	maxRecords int
	records    map[string]Record
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore(maxRecords int) *InMemoryStore {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &InMemoryStore{maxRecords: maxRecords, records: map[string]Record{}}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Save(_ context.Context, r Record) error {
	if s == nil {
		return errors.New("in-memory plot store: nil store")
	}
	r = normalizeRecord(r)
	if r.ID == "" {
		return errors.New("in-memory plot store: id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
	if len(s.records) > s.maxRecords {
		s.evictOldestLocked()
	}
	return nil
}

func (s *InMemoryStore) evictOldestLocked() {
	var oldest Record
	found := false
	for _, r := range s.records {
		if !found || r.CreatedAtMs < oldest.CreatedAtMs || (r.CreatedAtMs == oldest.CreatedAtMs && r.ID > oldest.ID) {
			oldest = r
			found = true
		}
	}
	if found {
		delete(s.records, oldest.ID)
	}
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Record, bool, error) {
	if s == nil {
		return Record{}, false, errors.New("in-memory plot store: nil store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, false, errors.New("in-memory plot store: id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok, nil
}

func (s *InMemoryStore) List(_ context.Context, opts ListOptions) ([]Record, error) {
	if s == nil {
		return nil, errors.New("in-memory plot store: nil store")
	}
	opts = normalizeListOptions(opts)
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if opts.SessionID != "" && r.SessionID != opts.SessionID {
			continue
		}
		if opts.SinceMs > 0 && r.CreatedAtMs < opts.SinceMs {
			continue
		}
		out = append(out, r)
	}
	s.mu.Unlock()

	// Same ordering as the sqlite store.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs > out[j].CreatedAtMs
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
