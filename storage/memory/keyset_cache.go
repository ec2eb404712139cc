package memorystore

import (
	"context"
	"slices"
	"sync"
	"time"
)

// KeySetCache is an in-memory store for raw JWKS documents keyed by provider domain.
type KeySetCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	data   map[string]item
	closed chan struct{}
	once   sync.Once
}

type item struct {
	doc []byte
	exp time.Time
}

// NewKeySetCache creates a cache whose entries live for ttl.
// If ttl <= 0, a default of 10 minutes is used.
// Starts a background goroutine to clean up expired entries every minute.
func NewKeySetCache(ttl time.Duration) *KeySetCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &KeySetCache{ttl: ttl, data: make(map[string]item), closed: make(chan struct{})}
	go c.cleanupLoop()
	return c
}

func (s *KeySetCache) Put(_ context.Context, domain string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[domain] = item{doc: slices.Clone(doc), exp: time.Now().Add(s.ttl)}
	return nil
}

func (s *KeySetCache) Get(_ context.Context, domain string) ([]byte, bool, error) {
	s.mu.RLock()
	it, ok := s.data[domain]
	s.mu.RUnlock()
	if !ok || time.Now().After(it.exp) {
		return nil, false, nil
	}
	return slices.Clone(it.doc), true, nil
}

func (s *KeySetCache) Del(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, domain)
	return nil
}

func (s *KeySetCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

func (s *KeySetCache) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, v := range s.data {
		if now.After(v.exp) {
			delete(s.data, k)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (s *KeySetCache) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
