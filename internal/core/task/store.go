package task

import (
	"context"
	"time"

	"xscraper/internal/logger"
)

// KV is the key-value store holding task state. Satisfied by the redis
// platform service.
type KV interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttl time.Duration) error
	CacheDel(ctx context.Context, key string) error
}

// Store persists ScrapeTasks and cancellation flags. Terminal tasks live
// longer than in-flight ones so callers have time to collect results.
type Store struct {
	kv  KV
	log *logger.Logger
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv, log: logger.New("TaskStore")}
}

func key(id string) string       { return "task:" + id }
func cancelKey(id string) string { return "task:cancel:" + id }

func ttl(s Status) time.Duration {
	if s == StatusDone || s == StatusFailed {
		return time.Hour
	}
	return 10 * time.Minute
}

func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := s.kv.CacheGet(ctx, key(id), &t); err != nil {
		return nil, ErrNotFound
	}
	return &t, nil
}

// Save writes the task state. Writes against a task that already reached a
// terminal status are dropped, keeping done/failed tasks immutable even if
// a late progress update races completion.
func (s *Store) Save(ctx context.Context, t *Task) error {
	var existing Task
	if err := s.kv.CacheGet(ctx, key(t.TaskID), &existing); err == nil && existing.Terminal() {
		s.log.LogDebugf("ignoring write to terminal task %s", t.TaskID)
		return nil
	}
	return s.kv.CacheSet(ctx, key(t.TaskID), t, ttl(t.Status))
}

// RequestCancel raises the cooperative cancellation flag for a task. The
// running execution polls it between pages.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	return s.kv.CacheSet(ctx, cancelKey(id), true, ttl(StatusRunning))
}

func (s *Store) CancelRequested(ctx context.Context, id string) bool {
	var flag bool
	if err := s.kv.CacheGet(ctx, cancelKey(id), &flag); err != nil {
		return false
	}
	return flag
}

func (s *Store) ClearCancel(ctx context.Context, id string) {
	if err := s.kv.CacheDel(ctx, cancelKey(id)); err != nil {
		s.log.LogDebugf("clearing cancel flag for %s: %v", id, err)
	}
}
