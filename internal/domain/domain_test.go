package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitlistTransitions(t *testing.T) {
	tests := []struct {
		from, to WaitlistStatus
		ok       bool
	}{
		{WaitlistPending, WaitlistHeld, true},
		{WaitlistPending, WaitlistCancelled, true},
		{WaitlistPending, WaitlistConfirmed, false},
		{WaitlistHeld, WaitlistConfirmed, true},
		{WaitlistHeld, WaitlistCancelled, true},
		{WaitlistHeld, WaitlistPending, false},
		{WaitlistConfirmed, WaitlistCancelled, false},
		{WaitlistCancelled, WaitlistPending, false},
		{WaitlistCancelled, WaitlistHeld, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestWaitlistEntryTransition(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := WaitlistEntry{ID: uuid.New(), Status: WaitlistPending}

	require.NoError(t, e.Transition(WaitlistHeld, at))
	require.NotNil(t, e.HeldAt)
	assert.Equal(t, at, *e.HeldAt)
	assert.True(t, e.Status.Active())

	require.NoError(t, e.Transition(WaitlistConfirmed, at.Add(time.Hour)))
	assert.True(t, e.Status.Terminal())

	err := e.Transition(WaitlistCancelled, at)
	assert.True(t, IsCode(err, CodeInvalidStatus))
	assert.Equal(t, WaitlistConfirmed, e.Status)
}

func TestWaitlistOrdering(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := WaitlistEntry{CreatedAt: at, Seq: 2}
	b := WaitlistEntry{CreatedAt: at, Seq: 3}
	c := WaitlistEntry{CreatedAt: at.Add(-time.Second), Seq: 9}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, c.Before(a))
}

func TestLoanTransitions(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := Loan{Status: LoanActive, DueDate: at}

	assert.False(t, l.IsOverdue(at))
	assert.True(t, l.IsOverdue(at.Add(time.Second)))

	require.NoError(t, l.Transition(LoanRenewed, at))
	require.NoError(t, l.Transition(LoanReturned, at))
	assert.False(t, l.IsOverdue(at.Add(time.Hour)), "returned loans are never overdue")

	err := l.Transition(LoanActive, at)
	assert.True(t, IsCode(err, CodeInvalidStatus))
	assert.False(t, LoanRenewed.CanTransitionTo(LoanRenewed))
}

func TestParseLoanStatus(t *testing.T) {
	s, err := ParseLoanStatus(" renewed ")
	require.NoError(t, err)
	assert.Equal(t, LoanRenewed, s)

	_, err = ParseLoanStatus("lost")
	assert.Error(t, err)
}

func TestErrorHelpers(t *testing.T) {
	err := fmt.Errorf("checkout: %w", Conflict(CodeMaxLoansExceeded, "limit reached").With("active_loans", 5))

	de, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, 5, de.Details["active_loans"])
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, IsCode(err, CodeMaxLoansExceeded))
	assert.Equal(t, "MAX_LOANS_EXCEEDED: limit reached", de.Error())

	plain := errors.New("connection reset")
	assert.Equal(t, Kind(""), KindOf(plain))
	assert.Equal(t, Code(""), CodeOf(plain))
}

func TestBookOnLoan(t *testing.T) {
	b := Book{TotalCopies: 5, AvailableCopies: 2, ReservedCopies: 1}
	assert.Equal(t, 2, b.OnLoan())
}

func TestNewEvent(t *testing.T) {
	id := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev, err := NewEvent(AggregateWaitlist, id, EventWaitlistHeld, WaitlistEvent{WaitlistID: id, Status: "HELD"}, at)
	require.NoError(t, err)
	assert.Equal(t, AggregateWaitlist, ev.AggregateType)
	assert.Equal(t, at, ev.CreatedAt)
	assert.JSONEq(t, fmt.Sprintf(`{"waitlist_id":%q,"user_id":%q,"book_id":%q,"book_title":"","status":"HELD"}`,
		id, uuid.Nil, uuid.Nil), string(ev.Payload))
}
