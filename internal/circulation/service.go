// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
)

// Service defines the interface for the circulation service.
type Service interface {
	CreateLoan(ctx context.Context, userID, bookID uuid.UUID) (CheckoutResult, error)
	ReturnLoan(ctx context.Context, userID, loanID uuid.UUID) (domain.Loan, error)
	RenewLoan(ctx context.Context, userID, loanID uuid.UUID) (domain.Loan, error)
	ConfirmHold(ctx context.Context, userID, entryID uuid.UUID) (domain.Loan, error)

	GetLoan(ctx context.Context, userID, loanID uuid.UUID) (domain.Loan, error)
	ListLoans(ctx context.Context, userID uuid.UUID, statuses []domain.LoanStatus) ([]domain.Loan, error)
	ListOverdue(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error)
	LoanHistory(ctx context.Context, userID, loanID uuid.UUID) ([]domain.Event, error)
}

// Promoter dispatches asynchronous hold promotion for a book.
type Promoter interface {
	PromoteBook(ctx context.Context, bookID uuid.UUID) error
	PromoteEntry(ctx context.Context, entryID uuid.UUID) error
}
