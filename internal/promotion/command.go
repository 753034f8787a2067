// internal/promotion/command.go
package promotion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/jobs"
	"github.com/libranexus/lending/internal/logging"
)

// Task names used on the queue and in the dead-letter table.
const (
	TaskPromoteEntry = "waitlist.promote_entry"
	TaskPromoteBook  = "waitlist.promote_book"
)

// Command is the message that asks the worker to try granting holds.
type Command struct {
	Task    string    `json:"task"`
	EntryID uuid.UUID `json:"entry_id,omitempty"`
	BookID  uuid.UUID `json:"book_id,omitempty"`
}

// PromoteEntryCommand builds the command dispatched after an enqueue.
func PromoteEntryCommand(entryID uuid.UUID) Command {
	return Command{Task: TaskPromoteEntry, EntryID: entryID}
}

// PromoteBookCommand builds the command dispatched after a copy is freed.
func PromoteBookCommand(bookID uuid.UUID) Command {
	return Command{Task: TaskPromoteBook, BookID: bookID}
}

// Key identifies the target of the command, for logs and dead letters.
func (c Command) Key() string {
	if c.Task == TaskPromoteEntry {
		return c.EntryID.String()
	}
	return c.BookID.String()
}

// DecodeCommand parses a task payload.
func DecodeCommand(task string, payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode %s payload: %w", task, err)
	}
	if cmd.Task == "" {
		cmd.Task = task
	}
	switch cmd.Task {
	case TaskPromoteEntry:
		if cmd.EntryID == uuid.Nil {
			return Command{}, fmt.Errorf("%s: entry_id missing", task)
		}
	case TaskPromoteBook:
		if cmd.BookID == uuid.Nil {
			return Command{}, fmt.Errorf("%s: book_id missing", task)
		}
	default:
		return Command{}, fmt.Errorf("unknown task %q", cmd.Task)
	}
	return cmd, nil
}

// Dispatcher hands commands to whatever runs the Promoter.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) error
}

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload []byte) (jobs.Job, error)
}

// QueueDispatcher publishes commands onto the job queue consumed by the worker.
// It satisfies the promoter interfaces of the lending services.
type QueueDispatcher struct {
	queue Enqueuer
}

func NewQueueDispatcher(queue Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{queue: queue}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	job, err := d.queue.Enqueue(ctx, cmd.Task, payload)
	if err != nil {
		return fmt.Errorf("dispatch %s %s: %w", cmd.Task, cmd.Key(), err)
	}
	logging.FromContext(ctx).Debug("promotion dispatched", "task", cmd.Task, "key", cmd.Key(), "job_id", job.ID)
	return nil
}

func (d *QueueDispatcher) PromoteEntry(ctx context.Context, entryID uuid.UUID) error {
	return d.Dispatch(ctx, PromoteEntryCommand(entryID))
}

func (d *QueueDispatcher) PromoteBook(ctx context.Context, bookID uuid.UUID) error {
	return d.Dispatch(ctx, PromoteBookCommand(bookID))
}

// LocalDispatcher runs commands on background goroutines in the same
// process. It is used when no queue is configured. Failures that outlive the
// in-process retry are dead-lettered.
type LocalDispatcher struct {
	promoter *Promoter
	dead     *DeadLetters
	wg       sync.WaitGroup
}

func NewLocalDispatcher(promoter *Promoter, dead *DeadLetters) *LocalDispatcher {
	return &LocalDispatcher{promoter: promoter, dead: dead}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, cmd Command) error {
	ctx = context.WithoutCancel(ctx)
	logger := logging.FromContext(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.promoter.Handle(ctx, cmd); err != nil {
			logger.Error("promotion failed", "task", cmd.Task, "key", cmd.Key(), "error", err)
			if d.dead != nil {
				d.dead.RecordCommand(ctx, uuid.NewString(), cmd, 0, err)
			}
		}
	}()
	return nil
}

func (d *LocalDispatcher) PromoteEntry(ctx context.Context, entryID uuid.UUID) error {
	return d.Dispatch(ctx, PromoteEntryCommand(entryID))
}

func (d *LocalDispatcher) PromoteBook(ctx context.Context, bookID uuid.UUID) error {
	return d.Dispatch(ctx, PromoteBookCommand(bookID))
}

// Wait blocks until every dispatched command has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
