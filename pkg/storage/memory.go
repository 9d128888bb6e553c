package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots and artifacts in process memory. It is safe
// for concurrent use.
//
// With a TTL, a background goroutine removes snapshots older than the TTL;
// artifacts never expire. Use RedisStore when several forecaster instances
// must share results.
type MemoryStore struct {
	mu            sync.RWMutex
	snapshots     map[string]Snapshot
	artifacts     map[string]Artifact
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a store whose snapshots never expire.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
		artifacts: make(map[string]Artifact),
	}
}

// NewMemoryStoreWithTTL creates a store that drops snapshots older than ttl,
// checking every cleanupInterval (one minute when zero).
//
// Stop must be called to release the cleanup goroutine.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := NewMemoryStore()
	store.ttl = ttl
	store.cleanupTicker = time.NewTicker(cleanupInterval)
	store.stopCleanup = make(chan struct{})
	store.cleanupDone = make(chan struct{})

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine. It is a no-op without a TTL and
// safe to call more than once.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}

	now := time.Now()
	for series, snapshot := range s.snapshots {
		if now.Sub(snapshot.GeneratedAt) > s.ttl {
			delete(s.snapshots, series)
		}
	}
}

// Put replaces the snapshot stored for snapshot.Series.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if err := validateName("series", snapshot.Series); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.Series] = snapshot
	return nil
}

// GetLatest returns the snapshot for series and whether one exists.
func (s *MemoryStore) GetLatest(ctx context.Context, series string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, found := s.snapshots[series]
	return snapshot, found, nil
}

// PutArtifact replaces the artifact stored under artifact.Name.
func (s *MemoryStore) PutArtifact(ctx context.Context, artifact Artifact) error {
	if err := validateName("artifact", artifact.Name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts[artifact.Name] = artifact
	return nil
}

// GetArtifact returns the artifact stored under name and whether one exists.
func (s *MemoryStore) GetArtifact(ctx context.Context, name string) (Artifact, bool, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, found := s.artifacts[name]
	return a, found, nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes the snapshot for series and reports whether one existed.
func (s *MemoryStore) Delete(series string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.snapshots[series]
	delete(s.snapshots, series)
	return existed
}
