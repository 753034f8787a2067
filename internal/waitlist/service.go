// internal/waitlist/service.go
package waitlist

import (
	"context"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
)

// Service defines the interface for the waitlist service.
type Service interface {
	Enqueue(ctx context.Context, userID, bookID uuid.UUID) (domain.WaitlistEntry, error)
	EnqueueByVolume(ctx context.Context, userID uuid.UUID, volumeID string) (domain.WaitlistEntry, error)
	Cancel(ctx context.Context, userID, entryID uuid.UUID) (domain.WaitlistEntry, error)
	Get(ctx context.Context, userID, entryID uuid.UUID) (Entry, error)
	ListMine(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]Entry, error)
}

// Promoter dispatches asynchronous hold attempts.
type Promoter interface {
	PromoteEntry(ctx context.Context, entryID uuid.UUID) error
	PromoteBook(ctx context.Context, bookID uuid.UUID) error
}

// BookResolver finds the local book for an external catalog id, importing it
// with zero copies when it is not known yet.
type BookResolver interface {
	ResolveVolume(ctx context.Context, volumeID string) (domain.Book, error)
}

// Entry is a waitlist entry as shown to its owner. Position is the 1-based
// FIFO rank among PENDING entries of the book, zero once the entry has left
// the queue.
type Entry struct {
	domain.WaitlistEntry
	Position int `json:"position,omitempty"`
}
