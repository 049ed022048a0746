package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store.
//
// It is the default backend for single-node deployments and the test double
// for everything above the store boundary.
type Memory struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Memory) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
	return nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	entries := make([]Entry, 0)
	for k, v := range s.m {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		value := make([]byte, len(v))
		copy(value, v)
		entries = append(entries, Entry{Key: k, Value: value})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Len reports the number of stored keys. Used by tests and the readiness
// probe; not part of the Store contract.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
