// Package worker provides the async task-execution abstraction sitting
// above Publisher: a small set of named, JSON-argument domain tasks
// (PullBuild, PublishBuild, PurgeMachine, DeleteBuild) dispatched through
// one of several interchangeable Backends (Sync, Thread, NATSQueue).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/enku/gbp/internal/gbp"
)

// Task names, also used as NATS subjects by the queue backend.
const (
	TaskPullBuild    = "gbp.pull_build"
	TaskPublishBuild = "gbp.publish_build"
	TaskPurgeMachine = "gbp.purge_machine"
	TaskDeleteBuild  = "gbp.delete_build"
)

// Handler executes one task invocation given its JSON-encoded arguments.
type Handler func(ctx context.Context, args json.RawMessage) error

// Backend is satisfied by every worker execution strategy. RegisterHandler
// binds a task name to its Handler; Enqueue submits one invocation
// (synchronously, in a goroutine, or onto an external queue, depending on
// the backend); Work runs the consumer loop for backends that have one
// (Sync and Thread return immediately since they have no external queue
// to drain). Close releases backend resources.
type Backend interface {
	RegisterHandler(task string, h Handler)
	Enqueue(ctx context.Context, task string, args any) error
	Work(ctx context.Context) error
	Close() error
}

// Publisher is the subset of the facade the domain tasks need. Defined
// here, not imported from internal/publisher, so this package has no
// dependency on the publisher's own (heavier) dependency set.
type Publisher interface {
	Pull(ctx context.Context, build gbp.Build, note *string, tags []string) (bool, error)
	Publish(ctx context.Context, build gbp.Build) error
	Purge(ctx context.Context, machine string) error
	Delete(ctx context.Context, build gbp.Build) error
}

// Tasks binds the four domain tasks to a Publisher and registers them on
// a Backend.
type Tasks struct {
	Publisher   Publisher
	Backend     Backend
	EnablePurge bool
	Logger      *slog.Logger
}

func (t *Tasks) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// RegisterAll binds every domain task's handler onto b.
func (t *Tasks) RegisterAll(b Backend) {
	b.RegisterHandler(TaskPullBuild, t.handlePullBuild)
	b.RegisterHandler(TaskPublishBuild, t.handlePublishBuild)
	b.RegisterHandler(TaskPurgeMachine, t.handlePurgeMachine)
	b.RegisterHandler(TaskDeleteBuild, t.handleDeleteBuild)
}

// PullBuildArgs is the JSON payload for TaskPullBuild.
type PullBuildArgs struct {
	BuildID string   `json:"build_id"`
	Note    *string  `json:"note,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (t *Tasks) handlePullBuild(ctx context.Context, raw json.RawMessage) error {
	var args PullBuildArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("worker: decode PullBuild args: %w", err)
	}
	build, err := gbp.ParseBuild(args.BuildID)
	if err != nil {
		return fmt.Errorf("worker: PullBuild: %w", err)
	}

	_, err = t.Publisher.Pull(ctx, build, args.Note, args.Tags)
	if err != nil {
		t.logger().Error("pull failed, cleaning up partial build", "build", build.String(), "error", err)
		if delErr := t.Publisher.Delete(ctx, build); delErr != nil {
			t.logger().Error("cleanup delete failed", "build", build.String(), "error", delErr)
		}
		return fmt.Errorf("worker: PullBuild %s: %w", build, err)
	}

	if t.EnablePurge {
		if enqErr := t.Backend.Enqueue(ctx, TaskPurgeMachine, PurgeMachineArgs{Machine: build.Machine}); enqErr != nil {
			t.logger().Error("failed to enqueue purge after pull", "machine", build.Machine, "error", enqErr)
		}
	}
	return nil
}

// PublishBuildArgs is the JSON payload for TaskPublishBuild.
type PublishBuildArgs struct {
	BuildID string `json:"build_id"`
}

func (t *Tasks) handlePublishBuild(ctx context.Context, raw json.RawMessage) error {
	var args PublishBuildArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("worker: decode PublishBuild args: %w", err)
	}
	build, err := gbp.ParseBuild(args.BuildID)
	if err != nil {
		return fmt.Errorf("worker: PublishBuild: %w", err)
	}

	if pullErr := t.handlePullBuild(ctx, raw); pullErr != nil {
		t.logger().Error("publish: pull failed, not publishing", "build", build.String(), "error", pullErr)
		return nil
	}

	if err := t.Publisher.Publish(ctx, build); err != nil {
		return fmt.Errorf("worker: PublishBuild %s: %w", build, err)
	}
	return nil
}

// PurgeMachineArgs is the JSON payload for TaskPurgeMachine.
type PurgeMachineArgs struct {
	Machine string `json:"machine"`
}

func (t *Tasks) handlePurgeMachine(ctx context.Context, raw json.RawMessage) error {
	var args PurgeMachineArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("worker: decode PurgeMachine args: %w", err)
	}
	if err := t.Publisher.Purge(ctx, args.Machine); err != nil {
		return fmt.Errorf("worker: PurgeMachine %s: %w", args.Machine, err)
	}
	return nil
}

// DeleteBuildArgs is the JSON payload for TaskDeleteBuild.
type DeleteBuildArgs struct {
	BuildID string `json:"build_id"`
}

func (t *Tasks) handleDeleteBuild(ctx context.Context, raw json.RawMessage) error {
	var args DeleteBuildArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("worker: decode DeleteBuild args: %w", err)
	}
	build, err := gbp.ParseBuild(args.BuildID)
	if err != nil {
		return fmt.Errorf("worker: DeleteBuild: %w", err)
	}
	if err := t.Publisher.Delete(ctx, build); err != nil {
		return fmt.Errorf("worker: DeleteBuild %s: %w", build, err)
	}
	return nil
}
