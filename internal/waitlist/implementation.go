// internal/waitlist/implementation.go
package waitlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/store"
)

// service implements the Service interface.
type service struct {
	store    store.Store
	queue    *Queue
	promoter Promoter
	books    BookResolver
	tracer   trace.Tracer
}

// NewService creates a new waitlist service instance.
func NewService(st store.Store, queue *Queue, promoter Promoter, books BookResolver) Service {
	return &service{
		store:    st,
		queue:    queue,
		promoter: promoter,
		books:    books,
		tracer:   otel.Tracer("libranexus/waitlist"),
	}
}

func (s *service) Enqueue(ctx context.Context, userID, bookID uuid.UUID) (domain.WaitlistEntry, error) {
	ctx, span := s.tracer.Start(ctx, "waitlist.enqueue",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("book.id", bookID.String()),
		))
	defer span.End()

	var entry domain.WaitlistEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return bookErr(bookID, err)
		}
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		entry, err = s.queue.EnqueueTx(ctx, tx, userID, book)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.WaitlistEntry{}, err
	}

	if err := s.promoter.PromoteEntry(ctx, entry.ID); err != nil {
		logging.FromContext(ctx).Warn("dispatch hold attempt failed", "waitlist_id", entry.ID, "error", err)
	}
	return entry, nil
}

func (s *service) EnqueueByVolume(ctx context.Context, userID uuid.UUID, volumeID string) (domain.WaitlistEntry, error) {
	if volumeID == "" {
		return domain.WaitlistEntry{}, domain.Validation("volume_id is required").With("volume_id", "required")
	}
	book, err := s.books.ResolveVolume(ctx, volumeID)
	if err != nil {
		return domain.WaitlistEntry{}, err
	}
	return s.Enqueue(ctx, userID, book.ID)
}

func (s *service) Cancel(ctx context.Context, userID, entryID uuid.UUID) (domain.WaitlistEntry, error) {
	ctx, span := s.tracer.Start(ctx, "waitlist.cancel",
		trace.WithAttributes(attribute.String("waitlist.id", entryID.String())))
	defer span.End()

	current, err := s.owned(ctx, userID, entryID)
	if err != nil {
		return domain.WaitlistEntry{}, err
	}

	var (
		entry    domain.WaitlistEntry
		released bool
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		book, err := tx.LockBook(ctx, current.BookID)
		if err != nil {
			return bookErr(current.BookID, err)
		}
		entry, err = tx.LockWaitlistEntry(ctx, entryID)
		if err != nil {
			return entryErr(entryID, err)
		}
		released, err = s.queue.CancelTx(ctx, tx, &entry, &book, ReasonUser)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.WaitlistEntry{}, err
	}

	if released {
		if err := s.promoter.PromoteBook(ctx, entry.BookID); err != nil {
			logging.FromContext(ctx).Warn("dispatch promotion after cancel failed", "book_id", entry.BookID, "error", err)
		}
	}
	return entry, nil
}

func (s *service) Get(ctx context.Context, userID, entryID uuid.UUID) (Entry, error) {
	entry, err := s.owned(ctx, userID, entryID)
	if err != nil {
		return Entry{}, err
	}
	return s.withPosition(ctx, entry)
}

func (s *service) ListMine(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]Entry, error) {
	filter := store.WaitlistFilter{UserID: userID}
	if activeOnly {
		filter.Statuses = domain.ActiveWaitlistStatuses
	}
	entries, err := s.store.ListWaitlist(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		view, err := s.withPosition(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *service) withPosition(ctx context.Context, entry domain.WaitlistEntry) (Entry, error) {
	view := Entry{WaitlistEntry: entry}
	if entry.Status != domain.WaitlistPending {
		return view, nil
	}
	queue, err := s.store.ListWaitlist(ctx, store.WaitlistFilter{
		BookID:   entry.BookID,
		Statuses: []domain.WaitlistStatus{domain.WaitlistPending},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("load queue of book %s: %w", entry.BookID, err)
	}
	for i, e := range queue {
		if e.ID == entry.ID {
			view.Position = i + 1
			break
		}
	}
	return view, nil
}

// owned loads an entry and hides entries of other members.
func (s *service) owned(ctx context.Context, userID, entryID uuid.UUID) (domain.WaitlistEntry, error) {
	entry, err := s.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return domain.WaitlistEntry{}, entryErr(entryID, err)
	}
	if entry.UserID != userID {
		return domain.WaitlistEntry{}, entryErr(entryID, store.ErrNotFound)
	}
	return entry, nil
}

func bookErr(bookID uuid.UUID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(domain.CodeBookNotFound, "book not found").With("book_id", bookID.String())
	}
	return fmt.Errorf("load book %s: %w", bookID, err)
}

func entryErr(entryID uuid.UUID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(domain.CodeWaitlistNotFound, "waitlist entry not found").With("waitlist_id", entryID.String())
	}
	return fmt.Errorf("load waitlist entry %s: %w", entryID, err)
}
