// internal/notification/service.go
package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/libranexus/lending/internal/domain"
)

// Service defines the interface for the notification service.
type Service interface {
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	// FromEvent stores the notification derived from ev. It reports false
	// when ev concerns no member or was already handled.
	FromEvent(ctx context.Context, ev domain.Event) (bool, error)
}
