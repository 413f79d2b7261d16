// Package ratelimit implements fixed-window admission control: a window
// counter store, named quota policies and the check that combines them.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Record is one fixed-window counter.
type Record struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// Elapsed reports whether the record's window is over at now.
func (r Record) Elapsed(now time.Time) bool {
	return !now.Before(r.ResetAt)
}

// Store holds window counters. Implementations must make Increment atomic per
// key: the elapsed check, the reset and the bump happen as one unit.
type Store interface {
	// Increment starts a new window (Count=1) when the key is missing or its
	// window has elapsed, otherwise bumps Count. Returns the updated record.
	Increment(ctx context.Context, key string, window time.Duration) (Record, error)
	// Get returns the live record for key. Elapsed records are reported missing.
	Get(ctx context.Context, key string) (Record, bool, error)
	Delete(ctx context.Context, key string) error
	// Sweep removes every record whose window has elapsed and returns how many it removed.
	Sweep(ctx context.Context) (int, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]Record
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]Record),
		nowF: time.Now,
	}
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	rec, ok := s.m[key]
	if !ok || rec.Elapsed(now) {
		rec = Record{Key: key, Count: 1, ResetAt: now.Add(window)}
	} else {
		rec.Count++
	}
	s.m[key] = rec
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[key]
	if !ok || rec.Elapsed(s.nowF()) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	removed := 0
	for k, rec := range s.m {
		if rec.Elapsed(now) {
			delete(s.m, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of records held, elapsed or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
