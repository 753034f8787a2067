// internal/circulation/implementation.go
package circulation

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
	"github.com/libranexus/lending/internal/inventory"
	"github.com/libranexus/lending/internal/logging"
	"github.com/libranexus/lending/internal/store"
	"github.com/libranexus/lending/internal/waitlist"
)

// service implements the Service interface.
type service struct {
	store    store.Store
	ledger   inventory.Ledger
	queue    *waitlist.Queue
	promoter Promoter
	policy   Policy
	now      func() time.Time
	tracer   trace.Tracer
}

// NewService creates a new circulation service instance.
func NewService(st store.Store, queue *waitlist.Queue, promoter Promoter, policy Policy, now func() time.Time) Service {
	if now == nil {
		now = time.Now
	}
	return &service{
		store:    st,
		ledger:   inventory.NewLedger(now),
		queue:    queue,
		promoter: promoter,
		policy:   policy,
		now:      now,
		tracer:   otel.Tracer("libranexus/circulation"),
	}
}

// CreateLoan lends a copy to the member. A copy held for the member is used
// first; otherwise one comes off the shelf. With neither, the member joins
// the waitlist in the same transaction.
func (s *service) CreateLoan(ctx context.Context, userID, bookID uuid.UUID) (CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.create_loan",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("book.id", bookID.String()),
		))
	defer span.End()

	var result CheckoutResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return bookErr(bookID, err)
		}
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}

		if open, err := tx.FindOpenLoan(ctx, userID, bookID); err == nil {
			return domain.Conflict(domain.CodeAlreadyBorrowed, "you already have an active loan of this book; return it before borrowing another").
				With("loan_id", open.ID.String())
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check open loan: %w", err)
		}

		entry, err := tx.FindActiveEntry(ctx, userID, bookID)
		hasEntry := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check waitlist: %w", err)
		}
		fromHold := hasEntry && entry.Status == domain.WaitlistHeld

		if !fromHold && book.AvailableCopies <= 0 {
			queued, err := s.queue.EnqueueTx(ctx, tx, userID, book)
			if err != nil {
				return err
			}
			result = CheckoutResult{
				Outcome:  OutcomeAddedToWaitlist,
				Message:  fmt.Sprintf("no copies of %q are available; you were added to the waitlist", book.Title),
				Waitlist: &queued,
			}
			return nil
		}

		if err := s.checkLoanLimit(ctx, tx, userID); err != nil {
			return err
		}

		switch {
		case fromHold:
			if err := s.queue.ConfirmTx(ctx, tx, &entry, &book); err != nil {
				return err
			}
		case hasEntry:
			if _, err := s.queue.CancelTx(ctx, tx, &entry, &book, waitlist.ReasonFulfilled); err != nil {
				return err
			}
			if err := s.ledger.Decrement(ctx, tx, &book); err != nil {
				return err
			}
		default:
			if err := s.ledger.Decrement(ctx, tx, &book); err != nil {
				return err
			}
		}

		loan, err := s.openLoan(ctx, tx, userID, book, fromHold)
		if err != nil {
			return err
		}
		result = CheckoutResult{
			Outcome: OutcomeLoanCreated,
			Message: fmt.Sprintf("loan of %q created", book.Title),
			Loan:    &loan,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return CheckoutResult{}, err
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	if result.Waitlist != nil {
		if err := s.promoter.PromoteEntry(ctx, result.Waitlist.ID); err != nil {
			logging.FromContext(ctx).Warn("dispatch hold attempt failed", "waitlist_id", result.Waitlist.ID, "error", err)
		}
	}
	return result, nil
}

// ConfirmHold turns the member's HELD entry into a loan.
func (s *service) ConfirmHold(ctx context.Context, userID, entryID uuid.UUID) (domain.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.confirm_hold",
		trace.WithAttributes(attribute.String("waitlist.id", entryID.String())))
	defer span.End()

	current, err := s.store.GetWaitlistEntry(ctx, entryID)
	if err != nil || current.UserID != userID {
		return domain.Loan{}, entryErr(entryID, err)
	}

	var loan domain.Loan
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		book, err := tx.LockBook(ctx, current.BookID)
		if err != nil {
			return bookErr(current.BookID, err)
		}
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		entry, err := tx.LockWaitlistEntry(ctx, entryID)
		if err != nil {
			return entryErr(entryID, err)
		}
		if entry.Status != domain.WaitlistHeld {
			return domain.Conflict(domain.CodeInvalidStatus, fmt.Sprintf("only a HELD entry can be confirmed, this one is %s", entry.Status)).
				With("status", string(entry.Status))
		}
		if open, err := tx.FindOpenLoan(ctx, userID, book.ID); err == nil {
			return domain.Conflict(domain.CodeAlreadyBorrowed, "you already have an active loan of this book").
				With("loan_id", open.ID.String())
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check open loan: %w", err)
		}
		if err := s.checkLoanLimit(ctx, tx, userID); err != nil {
			return err
		}
		if err := s.queue.ConfirmTx(ctx, tx, &entry, &book); err != nil {
			return err
		}
		loan, err = s.openLoan(ctx, tx, userID, book, true)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.Loan{}, err
	}
	return loan, nil
}

func (s *service) ReturnLoan(ctx context.Context, userID, loanID uuid.UUID) (domain.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_loan",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())))
	defer span.End()

	current, err := s.GetLoan(ctx, userID, loanID)
	if err != nil {
		return domain.Loan{}, err
	}

	var loan domain.Loan
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		book, err := tx.LockBook(ctx, current.BookID)
		if err != nil {
			return bookErr(current.BookID, err)
		}
		loan, err = tx.LockLoan(ctx, loanID)
		if err != nil {
			return loanErr(loanID, err)
		}
		now := s.now()
		if err := loan.Transition(domain.LoanReturned, now); err != nil {
			return err
		}
		loan.ReturnDate = &now
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		if err := s.ledger.Increment(ctx, tx, &book); err != nil {
			return err
		}
		return s.emit(ctx, tx, loan, book, domain.EventLoanReturned, false)
	})
	if err != nil {
		span.RecordError(err)
		return domain.Loan{}, err
	}

	if err := s.promoter.PromoteBook(ctx, loan.BookID); err != nil {
		logging.FromContext(ctx).Warn("dispatch promotion after return failed", "book_id", loan.BookID, "error", err)
	}
	return loan, nil
}

// RenewLoan extends an ACTIVE loan once. Renewal is refused while anyone is
// waiting for the book.
func (s *service) RenewLoan(ctx context.Context, userID, loanID uuid.UUID) (domain.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.renew_loan",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())))
	defer span.End()

	current, err := s.GetLoan(ctx, userID, loanID)
	if err != nil {
		return domain.Loan{}, err
	}

	var loan domain.Loan
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		book, err := tx.LockBook(ctx, current.BookID)
		if err != nil {
			return bookErr(current.BookID, err)
		}
		loan, err = tx.LockLoan(ctx, loanID)
		if err != nil {
			return loanErr(loanID, err)
		}

		now := s.now()
		switch loan.Status {
		case domain.LoanRenewed:
			return domain.Conflict(domain.CodeAlreadyRenewed, "this loan was already renewed")
		case domain.LoanReturned:
			return domain.Conflict(domain.CodeInvalidStatus, "a returned loan cannot be renewed").
				With("status", string(loan.Status))
		case domain.LoanActive:
		}
		if loan.IsOverdue(now) {
			return domain.Conflict(domain.CodeLoanOverdue, "an overdue loan cannot be renewed").
				With("due_date", loan.DueDate)
		}
		pending, err := tx.CountPendingEntries(ctx, loan.BookID)
		if err != nil {
			return fmt.Errorf("count pending entries: %w", err)
		}
		if pending > 0 {
			return domain.Conflict(domain.CodeWaitlistExists, "other members are waiting for this book").
				With("pending", pending)
		}

		if err := loan.Transition(domain.LoanRenewed, now); err != nil {
			return err
		}
		loan.DueDate = loan.DueDate.Add(s.policy.LoanPeriod)
		loan.Renewed = true
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		return s.emit(ctx, tx, loan, book, domain.EventLoanRenewed, false)
	})
	if err != nil {
		span.RecordError(err)
		return domain.Loan{}, err
	}
	return loan, nil
}

func (s *service) GetLoan(ctx context.Context, userID, loanID uuid.UUID) (domain.Loan, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return domain.Loan{}, loanErr(loanID, err)
	}
	if loan.UserID != userID {
		return domain.Loan{}, loanErr(loanID, store.ErrNotFound)
	}
	return loan, nil
}

func (s *service) ListLoans(ctx context.Context, userID uuid.UUID, statuses []domain.LoanStatus) ([]domain.Loan, error) {
	loans, err := s.store.ListLoans(ctx, store.LoanFilter{UserID: userID, Statuses: statuses})
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

func (s *service) ListOverdue(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	loans, err := s.store.ListLoans(ctx, store.LoanFilter{
		UserID:    userID,
		Statuses:  domain.OpenLoanStatuses,
		DueBefore: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue loans: %w", err)
	}
	return loans, nil
}

func (s *service) LoanHistory(ctx context.Context, userID, loanID uuid.UUID) ([]domain.Event, error) {
	if _, err := s.GetLoan(ctx, userID, loanID); err != nil {
		return nil, err
	}
	events, err := s.store.LoadEvents(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("load loan history: %w", err)
	}
	return events, nil
}

func (s *service) checkLoanLimit(ctx context.Context, tx store.Tx, userID uuid.UUID) error {
	open, err := tx.CountOpenLoans(ctx, userID)
	if err != nil {
		return fmt.Errorf("count open loans: %w", err)
	}
	if open >= s.policy.MaxActiveLoans {
		return domain.Conflict(domain.CodeMaxLoansExceeded,
			fmt.Sprintf("you have reached the limit of %d active loans", s.policy.MaxActiveLoans)).
			With("active_loans", open)
	}
	return nil
}

func (s *service) openLoan(ctx context.Context, tx store.Tx, userID uuid.UUID, book domain.Book, fromHold bool) (domain.Loan, error) {
	now := s.now()
	loan := domain.Loan{
		ID:        uuid.New(),
		UserID:    userID,
		BookID:    book.ID,
		Status:    domain.LoanActive,
		LoanDate:  now,
		DueDate:   now.Add(s.policy.LoanPeriod),
		UpdatedAt: now,
	}
	if err := tx.InsertLoan(ctx, &loan); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Loan{}, domain.Conflict(domain.CodeAlreadyBorrowed, "you already have an active loan of this book")
		}
		return domain.Loan{}, err
	}
	return loan, s.emit(ctx, tx, loan, book, domain.EventLoanCreated, fromHold)
}

func (s *service) emit(ctx context.Context, tx store.Tx, loan domain.Loan, book domain.Book, typ domain.EventType, fromHold bool) error {
	ev, err := domain.NewEvent(domain.AggregateLoan, loan.ID, typ, domain.LoanEvent{
		LoanID:     loan.ID,
		UserID:     loan.UserID,
		BookID:     loan.BookID,
		BookTitle:  book.Title,
		DueDate:    loan.DueDate,
		ReturnDate: loan.ReturnDate,
		FromHold:   fromHold,
	}, s.now())
	if err != nil {
		return err
	}
	return tx.AppendEvents(ctx, &ev)
}

func bookErr(bookID uuid.UUID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(domain.CodeBookNotFound, "book not found").With("book_id", bookID.String())
	}
	return fmt.Errorf("load book %s: %w", bookID, err)
}

func loanErr(loanID uuid.UUID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(domain.CodeLoanNotFound, "loan not found").With("loan_id", loanID.String())
	}
	return fmt.Errorf("load loan %s: %w", loanID, err)
}

func entryErr(entryID uuid.UUID, err error) error {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(domain.CodeWaitlistNotFound, "waitlist entry not found").With("waitlist_id", entryID.String())
	}
	return fmt.Errorf("load waitlist entry %s: %w", entryID, err)
}
