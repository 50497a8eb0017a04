package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Thread runs each Enqueue in its own goroutine, tracked by an internal
// WaitGroup so Close can drain in-flight work -- the same
// Add-never-races-with-Wait discipline as the teacher's daemon
// WorkerGroup. In TestMode, Enqueue joins the goroutine before returning,
// so tests observe task completion synchronously without needing a
// separate Backend for that case.
type Thread struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup
	stopping bool

	// TestMode makes Enqueue block until the spawned goroutine completes.
	TestMode bool

	Logger *slog.Logger
}

// NewThread constructs an empty Thread backend.
func NewThread() *Thread {
	return &Thread{handlers: make(map[string]Handler)}
}

func (t *Thread) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (t *Thread) RegisterHandler(task string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[task] = h
}

func (t *Thread) Enqueue(ctx context.Context, task string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("worker: marshal args for %s: %w", task, err)
	}

	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		return fmt.Errorf("worker: thread backend is stopping, rejecting %q", task)
	}
	h, ok := t.handlers[task]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("worker: no handler registered for %q", task)
	}
	t.wg.Add(1)
	testMode := t.TestMode
	t.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer t.wg.Done()
		err := h(ctx, raw)
		if err != nil {
			t.logger().Error("task failed", "task", task, "error", err)
		}
		done <- err
	}()

	if testMode {
		return <-done
	}
	return nil
}

// Work is a no-op: Thread has no external queue to drain, only goroutines
// it already spawned from Enqueue.
func (t *Thread) Work(ctx context.Context) error { return nil }

// Close prevents further Enqueue calls and waits for in-flight goroutines
// to finish.
func (t *Thread) Close() error {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}
