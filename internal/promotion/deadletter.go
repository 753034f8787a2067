// internal/promotion/deadletter.go
package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/jobs"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/store"
)

// DeadLetters keeps promotion commands that exhausted their retries so a
// librarian can inspect and replay them.
type DeadLetters struct {
	store      store.FailedTasks
	dispatcher Dispatcher
	now        func() time.Time
	dead       metric.Int64Counter
}

func NewDeadLetters(st store.FailedTasks, now func() time.Time) *DeadLetters {
	if now == nil {
		now = time.Now
	}
	dead, _ := otel.Meter("libranexus/promotion").Int64Counter("lending.promotion.dead_letters",
		metric.WithDescription("Promotion commands moved to the dead-letter table"))
	return &DeadLetters{store: st, now: now, dead: dead}
}

// SetDispatcher sets where replayed commands go. The dispatcher usually
// depends on the DeadLetters itself, hence the late binding.
func (d *DeadLetters) SetDispatcher(dispatcher Dispatcher) {
	d.dispatcher = dispatcher
}

// RecordJob is the queue's dead-letter hook.
func (d *DeadLetters) RecordJob(ctx context.Context, job jobs.Job, cause error) {
	d.record(ctx, job.ID, job.Kind, json.RawMessage(job.Payload), job.Attempts, cause)
}

// RecordCommand dead-letters a command that failed outside the queue.
func (d *DeadLetters) RecordCommand(ctx context.Context, taskID string, cmd Command, attempts int, cause error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		logging.FromContext(ctx).Error("encode dead letter failed", "task", cmd.Task, "error", err)
		return
	}
	d.record(ctx, taskID, cmd.Task, payload, attempts, cause)
}

func (d *DeadLetters) record(ctx context.Context, taskID, taskName string, args json.RawMessage, attempts int, cause error) {
	if !json.Valid(args) {
		quoted, _ := json.Marshal(string(args))
		args = quoted
	}
	task := domain.FailedTask{
		TaskID:     taskID,
		TaskName:   taskName,
		Args:       args,
		Error:      cause.Error(),
		RetryCount: attempts,
		FailedAt:   d.now(),
	}
	if err := d.store.InsertFailedTask(ctx, &task); err != nil {
		logging.FromContext(ctx).Error("persist dead letter failed",
			"task_id", taskID, "task", taskName, "cause", cause, "error", err)
		return
	}
	d.dead.Add(ctx, 1, metric.WithAttributes(attribute.String("task", taskName)))
	logging.FromContext(ctx).Error("task dead-lettered",
		"failed_task_id", task.ID, "task_id", taskID, "task", taskName, "error", cause)
}

// List returns the newest dead letters first.
func (d *DeadLetters) List(ctx context.Context, limit int) ([]domain.FailedTask, error) {
	tasks, err := d.store.ListFailedTasks(ctx, store.LimitOr(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("list failed tasks: %w", err)
	}
	return tasks, nil
}

// Replay dispatches the stored command again and bumps its retry count. The
// record stays until purged; a second failure adds a new record.
func (d *DeadLetters) Replay(ctx context.Context, id uuid.UUID) (domain.FailedTask, error) {
	task, err := d.store.GetFailedTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.FailedTask{}, domain.NotFound(domain.CodeTaskNotFound, "failed task not found").
			With("task_id", id.String())
	}
	if err != nil {
		return domain.FailedTask{}, fmt.Errorf("load failed task %s: %w", id, err)
	}
	cmd, err := DecodeCommand(task.TaskName, task.Args)
	if err != nil {
		return domain.FailedTask{}, domain.Validation("stored task cannot be replayed").
			With("task_name", task.TaskName).With("reason", err.Error())
	}
	if d.dispatcher == nil {
		return domain.FailedTask{}, errors.New("dead-letter replay has no dispatcher")
	}
	if err := d.dispatcher.Dispatch(ctx, cmd); err != nil {
		return domain.FailedTask{}, err
	}

	at := d.now()
	if err := d.store.MarkFailedTaskRetried(ctx, id, at); err != nil {
		return domain.FailedTask{}, fmt.Errorf("mark failed task %s retried: %w", id, err)
	}
	task.RetryCount++
	task.LastRetryAt = &at
	logging.FromContext(ctx).Info("failed task replayed", "failed_task_id", id, "task", task.TaskName)
	return task, nil
}

// Purge deletes dead letters that failed more than olderThan ago.
func (d *DeadLetters) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := d.store.PurgeFailedTasks(ctx, d.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge failed tasks: %w", err)
	}
	return n, nil
}
