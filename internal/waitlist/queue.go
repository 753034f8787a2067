// internal/waitlist/queue.go
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/inventory"
	"github.com/libranexus/lending/internal/store"
)

// Cancellation reasons carried on waitlist.cancelled.
const (
	ReasonUser    = "user"
	ReasonExpired = "expired"
	// ReasonFulfilled closes a member's own PENDING entry when they borrow
	// the book straight off the shelf.
	ReasonFulfilled = "fulfilled"
)

// Queue holds the waitlist state transitions. Each method runs inside the
// caller's transaction with the entry's book row already locked, so the
// loan manager and the promotion worker share one implementation.
type Queue struct {
	ledger inventory.Ledger
	now    func() time.Time
}

// NewQueue returns a Queue stamping changes with now.
func NewQueue(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{ledger: inventory.NewLedger(now), now: now}
}

// EnqueueTx appends a PENDING entry for (user, book).
func (q *Queue) EnqueueTx(ctx context.Context, tx store.Tx, userID uuid.UUID, book domain.Book) (domain.WaitlistEntry, error) {
	if _, err := tx.FindOpenLoan(ctx, userID, book.ID); err == nil {
		return domain.WaitlistEntry{}, domain.Conflict(domain.CodeAlreadyBorrowed, "you already have this book on loan").
			With("book_id", book.ID.String())
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.WaitlistEntry{}, fmt.Errorf("check open loan: %w", err)
	}

	if existing, err := tx.FindActiveEntry(ctx, userID, book.ID); err == nil {
		return domain.WaitlistEntry{}, alreadyWaiting(existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.WaitlistEntry{}, fmt.Errorf("check waitlist: %w", err)
	}

	now := q.now()
	entry := domain.WaitlistEntry{
		ID:        uuid.New(),
		UserID:    userID,
		BookID:    book.ID,
		Status:    domain.WaitlistPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertWaitlistEntry(ctx, &entry); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.WaitlistEntry{}, alreadyWaiting(entry)
		}
		return domain.WaitlistEntry{}, err
	}
	if err := q.emit(ctx, tx, entry, book, domain.EventWaitlistAdded, ""); err != nil {
		return domain.WaitlistEntry{}, err
	}
	return entry, nil
}

// HoldTx reserves a copy for a PENDING entry and marks it HELD.
func (q *Queue) HoldTx(ctx context.Context, tx store.Tx, entry *domain.WaitlistEntry, book *domain.Book) error {
	if err := entry.Transition(domain.WaitlistHeld, q.now()); err != nil {
		return err
	}
	if err := q.ledger.Reserve(ctx, tx, book); err != nil {
		return err
	}
	if err := tx.UpdateWaitlistEntry(ctx, *entry); err != nil {
		return fmt.Errorf("hold waitlist entry: %w", err)
	}
	return q.emit(ctx, tx, *entry, *book, domain.EventWaitlistHeld, "")
}

// ConfirmTx marks a HELD entry CONFIRMED and consumes its reserved copy. The
// caller creates the loan in the same transaction.
func (q *Queue) ConfirmTx(ctx context.Context, tx store.Tx, entry *domain.WaitlistEntry, book *domain.Book) error {
	if err := entry.Transition(domain.WaitlistConfirmed, q.now()); err != nil {
		return err
	}
	if err := q.ledger.Consume(ctx, tx, book); err != nil {
		return err
	}
	if err := tx.UpdateWaitlistEntry(ctx, *entry); err != nil {
		return fmt.Errorf("confirm waitlist entry: %w", err)
	}
	return q.emit(ctx, tx, *entry, *book, domain.EventWaitlistConfirmed, "")
}

// CancelTx cancels a PENDING or HELD entry. It reports whether a held copy
// went back on the shelf, in which case the caller should promote the book.
func (q *Queue) CancelTx(ctx context.Context, tx store.Tx, entry *domain.WaitlistEntry, book *domain.Book, reason string) (bool, error) {
	wasHeld := entry.Status == domain.WaitlistHeld
	if err := entry.Transition(domain.WaitlistCancelled, q.now()); err != nil {
		return false, err
	}
	if wasHeld {
		if err := q.ledger.Release(ctx, tx, book); err != nil {
			return false, err
		}
	}
	if err := tx.UpdateWaitlistEntry(ctx, *entry); err != nil {
		return false, fmt.Errorf("cancel waitlist entry: %w", err)
	}
	return wasHeld, q.emit(ctx, tx, *entry, *book, domain.EventWaitlistCancelled, reason)
}

func (q *Queue) emit(ctx context.Context, tx store.Tx, entry domain.WaitlistEntry, book domain.Book, typ domain.EventType, reason string) error {
	ev, err := domain.NewEvent(domain.AggregateWaitlist, entry.ID, typ, domain.WaitlistEvent{
		WaitlistID: entry.ID,
		UserID:     entry.UserID,
		BookID:     entry.BookID,
		BookTitle:  book.Title,
		Status:     string(entry.Status),
		Reason:     reason,
	}, q.now())
	if err != nil {
		return err
	}
	return tx.AppendEvents(ctx, &ev)
}

func alreadyWaiting(existing domain.WaitlistEntry) error {
	return domain.Conflict(domain.CodeAlreadyInWaitlist, "you are already on the waitlist for this book").
		With("waitlist_id", existing.ID.String()).
		With("status", string(existing.Status))
}
