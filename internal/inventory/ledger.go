// internal/inventory/ledger.go
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

// Ledger applies copy-count changes to a book row that the caller has locked
// with store.Tx.LockBook. Every method persists through the caller's
// transaction, so a later failure in the same operation rolls the change back.
type Ledger struct {
	now func() time.Time
}

// NewLedger returns a ledger stamping updates with now.
func NewLedger(now func() time.Time) Ledger {
	if now == nil {
		now = time.Now
	}
	return Ledger{now: now}
}

// Decrement takes one available copy for a loan.
func (l Ledger) Decrement(ctx context.Context, tx store.Tx, b *domain.Book) error {
	if b.AvailableCopies <= 0 {
		return noStock(b)
	}
	b.AvailableCopies--
	return l.save(ctx, tx, b)
}

// Increment puts one copy back on the shelf.
func (l Ledger) Increment(ctx context.Context, tx store.Tx, b *domain.Book) error {
	b.AvailableCopies++
	return l.save(ctx, tx, b)
}

// Reserve moves one available copy to the hold shelf.
func (l Ledger) Reserve(ctx context.Context, tx store.Tx, b *domain.Book) error {
	if b.AvailableCopies <= 0 {
		return noStock(b)
	}
	b.AvailableCopies--
	b.ReservedCopies++
	return l.save(ctx, tx, b)
}

// Release returns a held copy to the shelf.
func (l Ledger) Release(ctx context.Context, tx store.Tx, b *domain.Book) error {
	if b.ReservedCopies <= 0 {
		return fmt.Errorf("release copy of book %s: no reserved copies", b.ID)
	}
	b.ReservedCopies--
	b.AvailableCopies++
	return l.save(ctx, tx, b)
}

// Consume turns a held copy into a loan.
func (l Ledger) Consume(ctx context.Context, tx store.Tx, b *domain.Book) error {
	if b.ReservedCopies <= 0 {
		return fmt.Errorf("consume held copy of book %s: no reserved copies", b.ID)
	}
	b.ReservedCopies--
	return l.save(ctx, tx, b)
}

// Adjust adds delta copies to the collection. Copies on loan or on hold
// cannot be removed.
func (l Ledger) Adjust(ctx context.Context, tx store.Tx, b *domain.Book, delta int) error {
	if b.AvailableCopies+delta < 0 {
		return domain.Conflict(domain.CodeStockBelowActiveLoans,
			fmt.Sprintf("cannot remove %d copies: only %d are on the shelf", -delta, b.AvailableCopies)).
			With("available_copies", b.AvailableCopies).
			With("on_loan", b.OnLoan()).
			With("reserved_copies", b.ReservedCopies)
	}
	b.AvailableCopies += delta
	b.TotalCopies += delta
	return l.save(ctx, tx, b)
}

func (l Ledger) save(ctx context.Context, tx store.Tx, b *domain.Book) error {
	b.UpdatedAt = l.now()
	if err := tx.UpdateBook(ctx, *b); err != nil {
		return fmt.Errorf("save inventory of book %s: %w", b.ID, err)
	}
	return nil
}

func noStock(b *domain.Book) error {
	return domain.Conflict(domain.CodeNoStock, fmt.Sprintf("no copies of %q are available", b.Title)).
		With("book_id", b.ID.String())
}
