// internal/domain/waitlist.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WaitlistStatus is the closed set of hold-queue states.
//
//	PENDING -> HELD -> CONFIRMED
//	PENDING -> CANCELLED
//	HELD    -> CANCELLED
type WaitlistStatus string

const (
	WaitlistPending   WaitlistStatus = "PENDING"
	WaitlistHeld      WaitlistStatus = "HELD"
	WaitlistConfirmed WaitlistStatus = "CONFIRMED"
	WaitlistCancelled WaitlistStatus = "CANCELLED"
)

// ActiveWaitlistStatuses are the statuses limited to one entry per (user, book).
var ActiveWaitlistStatuses = []WaitlistStatus{WaitlistPending, WaitlistHeld}

// Active reports whether the entry still waits for, or holds, a copy.
func (s WaitlistStatus) Active() bool {
	switch s {
	case WaitlistPending, WaitlistHeld:
		return true
	case WaitlistConfirmed, WaitlistCancelled:
		return false
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s WaitlistStatus) Terminal() bool {
	return !s.Active()
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s WaitlistStatus) CanTransitionTo(next WaitlistStatus) bool {
	switch s {
	case WaitlistPending:
		return next == WaitlistHeld || next == WaitlistCancelled
	case WaitlistHeld:
		return next == WaitlistConfirmed || next == WaitlistCancelled
	case WaitlistConfirmed, WaitlistCancelled:
		return false
	}
	return false
}

// WaitlistEntry is one user's place in a book's hold queue.
type WaitlistEntry struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	UserID    uuid.UUID      `json:"user_id" db:"user_id"`
	BookID    uuid.UUID      `json:"book_id" db:"book_id"`
	Status    WaitlistStatus `json:"status" db:"status"`
	Seq       int64          `json:"-" db:"seq"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	HeldAt    *time.Time     `json:"held_at,omitempty" db:"held_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Transition moves the entry to next or returns an INVALID_STATUS error.
func (w *WaitlistEntry) Transition(next WaitlistStatus, at time.Time) error {
	if !w.Status.CanTransitionTo(next) {
		return Conflict(CodeInvalidStatus, fmt.Sprintf("waitlist entry in status %s cannot become %s", w.Status, next)).
			With("status", string(w.Status))
	}
	if next == WaitlistHeld {
		held := at
		w.HeldAt = &held
	}
	w.Status = next
	w.UpdatedAt = at
	return nil
}

// Before orders entries FIFO: creation time, then insertion sequence.
func (w WaitlistEntry) Before(other WaitlistEntry) bool {
	if !w.CreatedAt.Equal(other.CreatedAt) {
		return w.CreatedAt.Before(other.CreatedAt)
	}
	return w.Seq < other.Seq
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
