// internal/domain/loan.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoanStatus is the closed set of loan states.
type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanRenewed  LoanStatus = "RENEWED"
	LoanReturned LoanStatus = "RETURNED"
)

// ParseLoanStatus accepts any casing of a known status.
func ParseLoanStatus(s string) (LoanStatus, error) {
	switch LoanStatus(upper(s)) {
	case LoanActive:
		return LoanActive, nil
	case LoanRenewed:
		return LoanRenewed, nil
	case LoanReturned:
		return LoanReturned, nil
	}
	return "", fmt.Errorf("unknown loan status %q", s)
}

// Open reports whether the loan still occupies a copy.
func (s LoanStatus) Open() bool {
	switch s {
	case LoanActive, LoanRenewed:
		return true
	case LoanReturned:
		return false
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	switch s {
	case LoanActive:
		return next == LoanRenewed || next == LoanReturned
	case LoanRenewed:
		return next == LoanReturned
	case LoanReturned:
		return false
	}
	return false
}

// OpenLoanStatuses lists the statuses counted against borrowing limits.
var OpenLoanStatuses = []LoanStatus{LoanActive, LoanRenewed}

// Loan is a single copy lent to a user.
type Loan struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	Status     LoanStatus `json:"status" db:"status"`
	LoanDate   time.Time  `json:"loan_date" db:"loan_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Renewed    bool       `json:"renewed" db:"renewed"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// IsOverdue reports whether an open loan is past its due date at now.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.Status.Open() && l.DueDate.Before(now)
}

// Transition moves the loan to next or returns an INVALID_STATUS error.
func (l *Loan) Transition(next LoanStatus, at time.Time) error {
	if !l.Status.CanTransitionTo(next) {
		return Conflict(CodeInvalidStatus, fmt.Sprintf("loan in status %s cannot become %s", l.Status, next)).
			With("status", string(l.Status))
	}
	l.Status = next
	l.UpdatedAt = at
	return nil
}
