package snapshot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/cache"
)

// CachedStore is a read-through cache in front of a Store. Snapshots are
// immutable once appended, so by-id entries never go stale; the
// per-workflow latest entry is refreshed on every append. Cache failures
// are logged and treated as misses, never surfaced to callers.
type CachedStore struct {
	inner  Store
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps inner with the given cache. ttl bounds how long
// entries live; zero uses the cache manager's default.
func NewCachedStore(inner Store, c *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "snapshot_cache")),
	}
}

func snapshotKey(id string) string {
	return "continuum:snapshot:" + id
}

func latestKey(workflowID string) string {
	return "continuum:snapshot:latest:" + workflowID
}

// Append persists the snapshot and primes the cache.
func (s *CachedStore) Append(ctx context.Context, snap *SessionSnapshot) error {
	if err := s.inner.Append(ctx, snap); err != nil {
		return err
	}
	if err := s.cache.SetJSON(ctx, snapshotKey(snap.ID), snap, s.ttl); err != nil {
		s.logger.Warn("failed to prime snapshot cache", zap.String("snapshot_id", snap.ID), zap.Error(err))
	}
	if err := s.cache.SetJSON(ctx, latestKey(snap.WorkflowID), snap, s.ttl); err != nil {
		s.logger.Warn("failed to prime latest cache", zap.String("workflow_id", snap.WorkflowID), zap.Error(err))
	}
	return nil
}

// Get returns a snapshot by id, from cache when possible.
func (s *CachedStore) Get(ctx context.Context, id string) (*SessionSnapshot, error) {
	var cached SessionSnapshot
	err := s.cache.GetJSON(ctx, snapshotKey(id), &cached)
	if err == nil {
		return &cached, nil
	}
	if !cache.IsCacheMiss(err) {
		s.logger.Warn("snapshot cache read failed", zap.String("snapshot_id", id), zap.Error(err))
	}

	snap, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, snapshotKey(id), snap, s.ttl); err != nil {
		s.logger.Warn("failed to backfill snapshot cache", zap.String("snapshot_id", id), zap.Error(err))
	}
	return snap, nil
}

// Latest returns the most recent snapshot of a workflow.
func (s *CachedStore) Latest(ctx context.Context, workflowID string) (*SessionSnapshot, error) {
	var cached SessionSnapshot
	err := s.cache.GetJSON(ctx, latestKey(workflowID), &cached)
	if err == nil {
		return &cached, nil
	}
	if !cache.IsCacheMiss(err) {
		s.logger.Warn("latest cache read failed", zap.String("workflow_id", workflowID), zap.Error(err))
	}

	snap, err := s.inner.Latest(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, latestKey(workflowID), snap, s.ttl); err != nil {
		s.logger.Warn("failed to backfill latest cache", zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return snap, nil
}

// List is served by the backing store; summaries are cheap to query and
// the list grows with every pause.
func (s *CachedStore) List(ctx context.Context, workflowID string) ([]Summary, error) {
	return s.inner.List(ctx, workflowID)
}
