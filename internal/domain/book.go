// internal/domain/book.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Book is the local catalog row plus its inventory ledger counts.
//
// TotalCopies = AvailableCopies + ReservedCopies + copies currently on loan.
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	VolumeID        string    `json:"volume_id,omitempty" db:"volume_id"`
	ISBN            string    `json:"isbn,omitempty" db:"isbn"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author,omitempty" db:"author"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	ReservedCopies  int       `json:"reserved_copies" db:"reserved_copies"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OnLoan returns the number of copies currently lent out.
func (b Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies - b.ReservedCopies
}
