// Package store keeps metadata about registered references. The built index
// lives in segment files; the store is the durable record of which ids exist
// and what reference each one is bound to.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by Save when the id is already stored with a
	// different reference.
	ErrConflict = errors.New("record bound to a different reference")
)

// Record describes one registered reference.
type Record struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Length    int       `json:"length"`
	Symbols   int       `json:"symbols"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists reference records. Save must not overwrite an existing id:
// saving the stored reference again is a no-op, saving another one fails with
// ErrConflict.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.records[rec.ID]; exists {
		if existing.Reference != rec.Reference {
			return fmt.Errorf("reference %s: %w", rec.ID, ErrConflict)
		}
		return nil
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[id]
	if !exists {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; !exists {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}
