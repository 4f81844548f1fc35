// Package memory is the in-process cache backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry struct {
	val []byte
	// zero means no expiry
	expiresAt time.Time
}

// Store is a size-bounded TTL map. Expired entries are evicted lazily on read;
// when full, the least recently used entry goes first.
type Store struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, entry]
	now func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(size int, opts ...Option) *Store {
	if size <= 0 {
		size = 4096
	}
	l, err := simplelru.NewLRU[string, entry](size, nil)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	s := &Store{lru: l, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (s *Store) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.lru.Add(key, e)
	s.mu.Unlock()
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		s.lru.Remove(k)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
