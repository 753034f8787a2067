// internal/chaos/invariants.go
package chaos

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/store"
)

const scanLimit = 10000

// Breach is one broken lending invariant on a book.
type Breach struct {
	BookID uuid.UUID `json:"book_id"`
	Rule   string    `json:"rule"`
	Detail string    `json:"detail"`
}

// CheckBooks verifies the stock ledger against the loans and holds of each book.
func CheckBooks(ctx context.Context, r store.Reader, bookIDs []uuid.UUID) ([]Breach, error) {
	var out []Breach
	for _, id := range bookIDs {
		b, err := r.GetBook(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get book %s: %w", id, err)
		}
		loans, err := r.ListLoans(ctx, store.LoanFilter{BookID: id, Statuses: domain.OpenLoanStatuses, Limit: scanLimit})
		if err != nil {
			return nil, fmt.Errorf("list loans of %s: %w", id, err)
		}
		entries, err := r.ListWaitlist(ctx, store.WaitlistFilter{BookID: id, Statuses: domain.ActiveWaitlistStatuses, Limit: scanLimit})
		if err != nil {
			return nil, fmt.Errorf("list waitlist of %s: %w", id, err)
		}
		out = append(out, checkBook(b, loans, entries)...)
	}
	return out, nil
}

func checkBook(b domain.Book, loans []domain.Loan, entries []domain.WaitlistEntry) []Breach {
	var out []Breach
	breach := func(rule, format string, args ...any) {
		out = append(out, Breach{BookID: b.ID, Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}

	if b.AvailableCopies < 0 || b.ReservedCopies < 0 {
		breach("negative_stock", "available=%d reserved=%d", b.AvailableCopies, b.ReservedCopies)
	}
	if b.AvailableCopies+b.ReservedCopies > b.TotalCopies {
		breach("over_allocated", "available=%d reserved=%d total=%d", b.AvailableCopies, b.ReservedCopies, b.TotalCopies)
	}
	if len(loans) != b.OnLoan() {
		breach("on_loan_mismatch", "open loans=%d ledger on loan=%d", len(loans), b.OnLoan())
	}

	borrowers := make(map[uuid.UUID]int)
	for _, l := range loans {
		borrowers[l.UserID]++
	}
	for user, n := range borrowers {
		if n > 1 {
			breach("duplicate_open_loan", "user %s holds %d open loans", user, n)
		}
	}

	held := 0
	waiters := make(map[uuid.UUID]int)
	for _, e := range entries {
		waiters[e.UserID]++
		if e.Status == domain.WaitlistHeld {
			held++
		}
	}
	if held != b.ReservedCopies {
		breach("reserved_mismatch", "held entries=%d reserved=%d", held, b.ReservedCopies)
	}
	for user, n := range waiters {
		if n > 1 {
			breach("duplicate_active_entry", "user %s has %d active entries", user, n)
		}
	}
	return out
}

// Stranded counts books that have a copy on the shelf while members wait.
func Stranded(ctx context.Context, r store.Reader, bookIDs []uuid.UUID) (int, error) {
	n := 0
	for _, id := range bookIDs {
		b, err := r.GetBook(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("get book %s: %w", id, err)
		}
		if b.AvailableCopies == 0 {
			continue
		}
		pending, err := r.ListWaitlist(ctx, store.WaitlistFilter{BookID: id, Statuses: []domain.WaitlistStatus{domain.WaitlistPending}, Limit: 1})
		if err != nil {
			return 0, fmt.Errorf("list waitlist of %s: %w", id, err)
		}
		if len(pending) > 0 {
			n++
		}
	}
	return n, nil
}
