// internal/inventory/implementation.go
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

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
	ledger   Ledger
	promoter Promoter
	now      func() time.Time
	tracer   trace.Tracer
}

// NewService creates a new inventory service instance.
func NewService(st store.Store, promoter Promoter, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{
		store:    st,
		ledger:   NewLedger(now),
		promoter: promoter,
		now:      now,
		tracer:   otel.Tracer("libranexus/inventory"),
	}
}

func (s *service) GetStock(ctx context.Context, bookID uuid.UUID) (Stock, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.get_stock",
		trace.WithAttributes(attribute.String("book.id", bookID.String())))
	defer span.End()

	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return Stock{}, bookErr(bookID, err)
	}
	pending, err := s.store.ListWaitlist(ctx, store.WaitlistFilter{
		BookID:   bookID,
		Statuses: []domain.WaitlistStatus{domain.WaitlistPending},
	})
	if err != nil {
		return Stock{}, fmt.Errorf("count pending holds: %w", err)
	}
	return stockOf(book, len(pending)), nil
}

// UpdateStock adds (or removes, for a negative delta) copies. Added copies are
// offered to the waitlist through the promoter once the change is committed.
func (s *service) UpdateStock(ctx context.Context, bookID uuid.UUID, delta int) (Stock, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.update_stock",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.Int("delta", delta),
		))
	defer span.End()

	if delta == 0 {
		return Stock{}, domain.Validation("delta must not be zero").With("delta", "nonzero")
	}

	var (
		book    domain.Book
		pending int
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		book, err = tx.LockBook(ctx, bookID)
		if err != nil {
			return bookErr(bookID, err)
		}
		if err := s.ledger.Adjust(ctx, tx, &book, delta); err != nil {
			return err
		}
		ev, err := domain.NewEvent(domain.AggregateBook, book.ID, domain.EventStockUpdated, domain.StockEvent{
			BookID:          book.ID,
			Delta:           delta,
			TotalCopies:     book.TotalCopies,
			AvailableCopies: book.AvailableCopies,
		}, s.now())
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, &ev); err != nil {
			return err
		}
		pending, err = tx.CountPendingEntries(ctx, bookID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Stock{}, err
	}

	if delta > 0 && pending > 0 {
		if err := s.promoter.PromoteBook(ctx, bookID); err != nil {
			logging.FromContext(ctx).Warn("dispatch promotion after stock update failed",
				"book_id", bookID, "error", err)
		}
	}
	return stockOf(book, pending), nil
}

func bookErr(bookID uuid.UUID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(domain.CodeBookNotFound, "book not found").With("book_id", bookID.String())
	}
	return fmt.Errorf("load book %s: %w", bookID, err)
}
