package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Sync is the in-caller Backend: Enqueue immediately invokes the
// registered handler and returns its error. Intended for tests and for
// deployments that want Publisher operations to run inline with the HTTP
// request that triggered them.
type Sync struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewSync constructs an empty Sync backend.
func NewSync() *Sync {
	return &Sync{handlers: make(map[string]Handler)}
}

func (s *Sync) RegisterHandler(task string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[task] = h
}

func (s *Sync) Enqueue(ctx context.Context, task string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("worker: marshal args for %s: %w", task, err)
	}

	s.mu.RLock()
	h, ok := s.handlers[task]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("worker: no handler registered for %q", task)
	}
	return h(ctx, raw)
}

// Work is a no-op: Sync has no external queue to drain.
func (s *Sync) Work(ctx context.Context) error { return nil }

func (s *Sync) Close() error { return nil }
