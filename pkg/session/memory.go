// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"
)

// timedEntry wraps a value with its expiry for TTL tracking.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryStore implements Store with an in-process map. It is suitable for a
// single gateway replica; use RedisStore when running more than one.
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]*timedEntry[FlowState]
	ttl   time.Duration
	now   func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore whose flows expire after ttl and starts
// the background cleanup goroutine.
func NewMemoryStore(ttl time.Duration, opts ...MemoryStoreOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	s := &MemoryStore{
		flows:           make(map[string]*timedEntry[FlowState]),
		ttl:             ttl,
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// PutFlow implements Store.
func (s *MemoryStore) PutFlow(_ context.Context, sessionID string, flow FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[sessionID] = &timedEntry[FlowState]{value: flow, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// GetFlow implements Store.
func (s *MemoryStore) GetFlow(_ context.Context, sessionID string) (*FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.flows[sessionID]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	flow := entry.value
	return &flow, nil
}

// TakeFlow implements Store.
func (s *MemoryStore) TakeFlow(_ context.Context, sessionID string) (*FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.flows[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.flows, sessionID)
	if !s.now().Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	flow := entry.value
	return &flow, nil
}

// DeleteFlow implements Store.
func (s *MemoryStore) DeleteFlow(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flows, sessionID)
	return nil
}

// Len returns the number of stored flows, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.flows {
		if !now.Before(entry.expiresAt) {
			delete(s.flows, id)
		}
	}
}
