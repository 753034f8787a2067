// internal/domain/event.go
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names an outbound domain event.
type EventType string

const (
	EventLoanCreated       EventType = "loan.created"
	EventLoanReturned      EventType = "loan.returned"
	EventLoanRenewed       EventType = "loan.renewed"
	EventWaitlistAdded     EventType = "waitlist.added"
	EventWaitlistHeld      EventType = "waitlist.held"
	EventWaitlistConfirmed EventType = "waitlist.confirmed"
	EventWaitlistCancelled EventType = "waitlist.cancelled"
	EventStockUpdated      EventType = "book.stock_updated"
)

const (
	AggregateLoan     = "loan"
	AggregateWaitlist = "waitlist"
	AggregateBook     = "book"
)

// Event is an outbox record written in the same transaction as the state change it describes.
type Event struct {
	ID            int64           `json:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Type          EventType       `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEvent marshals payload into an unsaved event.
func NewEvent(aggregateType string, aggregateID uuid.UUID, typ EventType, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Type:          typ,
		Payload:       data,
		CreatedAt:     at,
	}, nil
}

// LoanEvent is the payload of loan.* events.
type LoanEvent struct {
	LoanID     uuid.UUID  `json:"loan_id"`
	UserID     uuid.UUID  `json:"user_id"`
	BookID     uuid.UUID  `json:"book_id"`
	BookTitle  string     `json:"book_title"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	FromHold   bool       `json:"from_hold,omitempty"`
}

// WaitlistEvent is the payload of waitlist.* events.
type WaitlistEvent struct {
	WaitlistID uuid.UUID `json:"waitlist_id"`
	UserID     uuid.UUID `json:"user_id"`
	BookID     uuid.UUID `json:"book_id"`
	BookTitle  string    `json:"book_title"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
}

// StockEvent is the payload of book.stock_updated.
type StockEvent struct {
	BookID          uuid.UUID `json:"book_id"`
	Delta           int       `json:"delta"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
}
