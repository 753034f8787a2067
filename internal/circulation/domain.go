// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/libranexus/lending/internal/domain"
)

// Policy holds the borrowing rules.
type Policy struct {
	LoanPeriod     time.Duration
	MaxActiveLoans int
}

// DefaultPolicy lends for 14 days with at most 5 open loans per member.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod:     14 * 24 * time.Hour,
		MaxActiveLoans: 5,
	}
}

// Outcome tells a successful checkout apart from a waitlist placement.
type Outcome string

const (
	OutcomeLoanCreated     Outcome = "LOAN_CREATED"
	OutcomeAddedToWaitlist Outcome = "ADDED_TO_WAITLIST"
)

// CheckoutResult is returned by CreateLoan. Exactly one of Loan and Waitlist is set.
type CheckoutResult struct {
	Outcome  Outcome               `json:"code"`
	Message  string                `json:"message"`
	Loan     *domain.Loan          `json:"loan,omitempty"`
	Waitlist *domain.WaitlistEntry `json:"waitlist,omitempty"`
}
