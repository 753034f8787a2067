// internal/inventory/service.go
package inventory

import (
	"context"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
)

// Service defines the interface for the inventory service.
type Service interface {
	GetStock(ctx context.Context, bookID uuid.UUID) (Stock, error)
	UpdateStock(ctx context.Context, bookID uuid.UUID, delta int) (Stock, error)
}

// Promoter starts an asynchronous hold promotion for a book.
type Promoter interface {
	PromoteBook(ctx context.Context, bookID uuid.UUID) error
}

// Stock is the inventory view of one book.
type Stock struct {
	BookID          uuid.UUID `json:"book_id"`
	VolumeID        string    `json:"volume_id,omitempty"`
	Title           string    `json:"title"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	ReservedCopies  int       `json:"reserved_copies"`
	OnLoan          int       `json:"on_loan"`
	PendingHolds    int       `json:"pending_holds"`
}

func stockOf(b domain.Book, pending int) Stock {
	return Stock{
		BookID:          b.ID,
		VolumeID:        b.VolumeID,
		Title:           b.Title,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		ReservedCopies:  b.ReservedCopies,
		OnLoan:          b.OnLoan(),
		PendingHolds:    pending,
	}
}
