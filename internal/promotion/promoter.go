// internal/promotion/promoter.go
package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/jobs"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/waitlist"
)

// Promoter grants holds to the head of a book's waitlist while copies are
// on the shelf. Every command re-reads state under the book lock, so
// redelivered or duplicate commands are harmless.
type Promoter struct {
	store   store.Store
	queue   *waitlist.Queue
	retry   []RetryOption
	tracer  trace.Tracer
	holds   metric.Int64Counter
	retries metric.Int64Counter
}

// NewPromoter returns a Promoter. Options tune the in-process retry of
// transient store conflicts.
func NewPromoter(st store.Store, queue *waitlist.Queue, retry ...RetryOption) *Promoter {
	meter := otel.Meter("libranexus/promotion")
	holds, _ := meter.Int64Counter("lending.promotion.holds",
		metric.WithDescription("Waitlist entries moved to HELD"))
	retries, _ := meter.Int64Counter("lending.promotion.retries",
		metric.WithDescription("Promotion attempts retried after a transient conflict"))
	return &Promoter{
		store:   st,
		queue:   queue,
		retry:   retry,
		tracer:  otel.Tracer("libranexus/promotion"),
		holds:   holds,
		retries: retries,
	}
}

// Handle executes one command.
func (p *Promoter) Handle(ctx context.Context, cmd Command) error {
	switch cmd.Task {
	case TaskPromoteEntry:
		_, err := p.PromoteEntry(ctx, cmd.EntryID)
		return err
	case TaskPromoteBook:
		_, err := p.PromoteBook(ctx, cmd.BookID)
		return err
	}
	return fmt.Errorf("unknown task %q", cmd.Task)
}

// HandleJob decodes a queued job and executes it.
func (p *Promoter) HandleJob(ctx context.Context, job jobs.Job) error {
	cmd, err := DecodeCommand(job.Kind, []byte(job.Payload))
	if err != nil {
		return err
	}
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("job_id", job.ID, "attempt", job.Attempts))
	return p.Handle(ctx, cmd)
}

// PromoteEntry runs a hold attempt for the book of a freshly queued entry.
// Missing or no longer PENDING entries are a no-op. The earliest PENDING
// entry of the book is served first, which need not be this one.
func (p *Promoter) PromoteEntry(ctx context.Context, entryID uuid.UUID) ([]domain.WaitlistEntry, error) {
	ctx, span := p.tracer.Start(ctx, "promotion.promote_entry",
		trace.WithAttributes(attribute.String("waitlist.id", entryID.String())))
	defer span.End()

	entry, err := p.store.GetWaitlistEntry(ctx, entryID)
	if errors.Is(err, store.ErrNotFound) {
		logging.FromContext(ctx).Info("promotion skipped: entry not found", "waitlist_id", entryID)
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load waitlist entry %s: %w", entryID, err)
	}
	if entry.Status != domain.WaitlistPending {
		logging.FromContext(ctx).Debug("promotion skipped: entry not pending",
			"waitlist_id", entryID, "status", entry.Status)
		return nil, nil
	}
	return p.PromoteBook(ctx, entry.BookID)
}

// PromoteBook moves PENDING entries of the book to HELD, FIFO, while copies
// are available. It returns the entries granted a hold.
func (p *Promoter) PromoteBook(ctx context.Context, bookID uuid.UUID) ([]domain.WaitlistEntry, error) {
	ctx, span := p.tracer.Start(ctx, "promotion.promote_book",
		trace.WithAttributes(attribute.String("book.id", bookID.String())))
	defer span.End()

	var held []domain.WaitlistEntry
	opts := append([]RetryOption{WithRetryCounter(p.retries, TaskPromoteBook)}, p.retry...)
	err := RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		held = held[:0]
		return p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			book, err := tx.LockBook(ctx, bookID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("lock book %s: %w", bookID, err)
			}
			for book.AvailableCopies > 0 {
				entry, err := tx.NextPendingEntry(ctx, bookID)
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("next pending entry: %w", err)
				}
				if err := p.queue.HoldTx(ctx, tx, &entry, &book); err != nil {
					return err
				}
				held = append(held, entry)
			}
			return nil
		})
	}, opts...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if len(held) > 0 {
		p.holds.Add(ctx, int64(len(held)), metric.WithAttributes(attribute.String("book.id", bookID.String())))
		for _, e := range held {
			logging.FromContext(ctx).Info("hold granted", "waitlist_id", e.ID, "user_id", e.UserID, "book_id", bookID)
		}
	}
	span.SetAttributes(attribute.Int("holds", len(held)))
	return held, nil
}
